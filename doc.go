// Package drillrig controls a piston-driven drilling rig.
//
// A drill head sits on a rotor at the end of a stack of pistons. While the
// head turns, the controller extends one piston a step per full revolution
// until every piston has reached its end of travel, then retracts them all
// on request.
//
// # Installation
//
//	go install github.com/gwillem/drillrig/cmd/drillrig@latest
//
// # Usage
//
// Assign servos on the bus to rig devices:
//
//	drillrig setup
//
// Then start the controller with its dashboard, or try it on a simulated
// construct first:
//
//	drillrig run
//	drillrig run --sim --listen :8080
//
// Drilling plans can be scripted in Lua:
//
//	drillrig script --sim plan.lua
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/drillrig: CLI with run, setup, script and check commands
//   - pkg/rig: Device interfaces, tagging, registry and configuration
//   - pkg/drill: Control loop, commands and display report
//   - pkg/servo: Feetech servo adapters for pistons, rotor and drills
//   - pkg/sim: Simulated construct
//   - pkg/script: Lua plans
//   - pkg/telemetry: WebSocket state broadcast
package drillrig
