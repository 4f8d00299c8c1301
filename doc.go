// Package servochoreo runs closed-loop choreographies on Dynamixel MX
// actuators sharing one half-duplex serial bus.
//
// A driving actuator steps through its own trajectory. After every step,
// each dependent actuator sweeps out to its configured extreme and back,
// and every goal is confirmed by polling the present position before the
// next one is sent.
//
// # Installation
//
//	go install github.com/gwillem/servochoreo/cmd/choreo@latest
//
// # Usage
//
// Write a configuration, then run the plan:
//
//	choreo init
//	choreo run
//
// Add --simulate to any command to try it without hardware.
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/choreo: CLI with init, run, sweep, home, poses, status and relax commands
//   - pkg/dxl: Register map, bus serializer, actuator proxy and transports
//   - pkg/dxl/dxlsim: Simulated actuator bus
//   - pkg/motion: Trajectory generation and convergence monitoring
//   - pkg/choreo: Choreography plans, runner and run controller
//   - pkg/robot: Session lifecycle and configuration
//   - pkg/record: CSV recording of snapshots and samples
package servochoreo
