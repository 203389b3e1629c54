// Package rzpanel is an operator panel for a two-axis R/Z positioning stage.
//
// The panel drives a rotary axis (R) and a linear axis (Z) through a motion
// controller. Moves are typed into a console; the keyboard steps or jogs the
// axes. The panel works out when a motion has finished by polling, keeps Z
// inside its soft limits, and ignores the keyboard while a typed move runs.
// Axis state is shown in a terminal UI and published over HTTP, websocket
// and MQTT.
//
// # Installation
//
//	go install github.com/gwillem/rzpanel/cmd/rzpanel@latest
//
// # Usage
//
// Look for the controller's serial port:
//
//	rzpanel ports
//
// Calibrate a servo-driven axis (feetech backend only):
//
//	rzpanel calibrate --axis z
//
// Start the panel against the simulator or the servo bus:
//
//	rzpanel run
//	rzpanel run --backend feetech --port /dev/ttyUSB0
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/rzpanel: CLI with run, ports and calibrate commands
//   - pkg/motion: Motion engine: settle detection, soft limits, keyboard jogging
//   - pkg/actuator: Motion controller interface with simulator and servo backends
//   - pkg/stage: Axes, samples and configuration
//   - pkg/sched: Single-goroutine timer loop and a manual clock for tests
//   - pkg/keys: Key events from the terminal or Linux evdev
//   - pkg/telemetry: State snapshot, HTTP API, websocket stream and MQTT
package rzpanel
