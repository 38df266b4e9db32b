package serialmux

import "io"

// SerialPorter is what the mux needs from an attached device: reads carry
// the sensor's line stream, writes carry commands. The real port, the dev
// replay port, and the test doubles all satisfy it.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
