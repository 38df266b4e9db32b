// Package radar turns the OPS24x serial line protocol into detections for
// the consolidation pipeline. The feed subscribes to the serial mux,
// classifies each line, and converts speed readings into radar detections;
// readings at or above the trigger threshold open a consolidation request.
package radar

import (
	"strconv"
	"strings"
)

// allowedCommands is the allow-list of two-character OPS24x commands the API
// will pass through to the sensor. Query forms ("?X"/"X?") and setters are
// listed explicitly; anything not listed is rejected before it reaches the
// port.
var allowedCommands = []string{
	"??", // query overall module information
	"?R", // read reset reason
	"?Z", // read speed resolution
	"?P", // read sensor part number
	"?N", // read serial number
	"?D", // read build date
	"L?", // read sensor label
	"?V", // read firmware version
	"?B", // read firmware build number

	// Speed units
	"U?", // query current speed units
	"UC", // centimeters per second
	"UF", // feet per second
	"UK", // kilometers per hour
	"UM", // meters per second
	"US", // miles per hour

	// Data precision
	"F?", // query the current decimal precision setting

	// Sampling rate and buffer size
	"SI", // 1K samples/second
	"SV", // 5K samples/second
	"SX", // 10K samples/second
	"S2", // 20K samples/second
	"SL", // 50K samples/second
	"SC", // 100K samples/second
	"S>", // buffer 1024 samples
	"S<", // buffer 512 samples
	"S[", // buffer 256 samples
	"S(", // buffer 128 samples

	// Speed resolution control
	"X1",
	"X2",
	"X4",
	"X8",

	// Filtering and direction
	"R?", // query current speed filter settings
	"R+", // report inbound direction only
	"R-", // report outbound direction only
	"R|", // clear directional filtering

	// Peak speed averaging
	"K+",
	"K-",

	// Transmitter frequency
	"?F", // query current frequency output
	"T?", // query current transmitter frequency

	// Data output settings
	"O?", // query output settings
	"OS", // enable speed reporting
	"Os", // disable speed reporting
	"OJ", // enable JSON output
	"Oj", // disable JSON output
	"OM", // enable magnitude reporting
	"Om", // disable magnitude reporting
	"OT", // enable time reporting
	"Ot", // disable time reporting
	"OH", // enable human-readable timestamps
	"OC", // enable object detection
	"OU", // enable units reporting with each data output
	"Ou", // disable units reporting with each data output
	"OL", // LED control on
	"Ol", // LED control off
	"OZ", // activate the USB overflow watchdog
	"Oz", // revert the USB overflow watchdog

	// Blank data reporting
	"B?", // query the current blank data reporting setting
	"BZ", // report zero value when blanking
	"BL", // report blank lines
	"BS", // report a space
	"BC", // report with a comma
	"BT", // report with a timestamp
	"BV", // turn off blank data reporting

	// UART interface control
	"I?", // query current baud rate
	"I1", // 9,600
	"I2", // 19,200 (default)
	"I3", // 57,600
	"I4", // 115,200
	"I5", // 230,400

	// Object detection interrupt
	"IG",
	"Ig",

	// Counter commands
	"N?", // query object count
	"N!", // reset object count
	"N>", // set count start threshold
	"N<", // set count end threshold

	// Clock
	"C?", // query sensor clock (time since power-on)

	// Power and transmit settings
	"PA", // active power mode
	"PI", // idle power mode
	"PP", // single pulse (after idle)
	"P7", // transmit power -9 dB
	"P6", // -6 dB
	"P5", // -4 dB
	"P4", // -2.5 dB
	"P3", // -1.4 dB
	"P2", // -0.8 dB
	"P1", // -0.4 dB
	"P0", // maximum transmit power
	"PX", // maximum transmit power (alias)

	// Duty cycle / hibernate
	"W?", // query short delay time
	"W0", // 0 ms
	"WI", // 1 ms
	"WV", // 5 ms
	"WX", // 10 ms
	"WL", // 50 ms
	"WC", // 100 ms
	"WD", // 500 ms
	"WM", // 1000 ms
	"Z?", // query sleep setting
	"Z0", // sleep 0 seconds (normal operation)
	"ZI", // 1 second
	"ZV", // 5 seconds
	"ZX", // 10 seconds
	"ZL", // 50 seconds
	"ZC", // 100 seconds
	"Z2", // 200 seconds

	// Magnitude control
	"M?", // query current speed magnitude setting

	// Alerts and averaging
	"Y?", // query alert and averaging settings
	"Y+", // enable speed averaging
	"Y-", // disable speed averaging

	// Persistent memory
	"A!", // save current configuration to persistent memory
	"A?", // query persistent memory settings
	"A.", // read current settings from persistent memory
	"AX", // reset flash settings to factory defaults
}

// IsValidAngleCommand reports whether cmd is a direction-angle setter of the
// form ^/+<angle> or ^/-<angle>, used for cosine error correction when the
// sensor is mounted at an angle to the road.
func IsValidAngleCommand(cmd string) bool {
	if len(cmd) < 4 {
		return false
	}
	if !strings.HasPrefix(cmd, "^/+") && !strings.HasPrefix(cmd, "^/-") {
		return false
	}
	_, err := strconv.ParseFloat(cmd[3:], 64)
	return err == nil
}

// IsAllowedCommand reports whether cmd may be written to the sensor: either
// a listed two-character command or a well-formed angle setter.
func IsAllowedCommand(cmd string) bool {
	for _, allowed := range allowedCommands {
		if cmd == allowed {
			return true
		}
	}
	return IsValidAngleCommand(cmd)
}
