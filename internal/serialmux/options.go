package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// PortOptions carries the line parameters for a real serial connection. The
// daemon only sets BaudRate from its flag; everything else normalizes to the
// OPS24x wiring (8 data bits, 1 stop bit, no parity).
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize fills unset fields with the sensor defaults and rejects values
// the hardware cannot do.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 19200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("data bits %d out of range, want 5 to 8", opts.DataBits)
	}

	switch opts.StopBits {
	case 0:
		opts.StopBits = 1
	case 1, 2:
	default:
		return opts, fmt.Errorf("stop bits must be 1 or 2, got %d", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("parity %q is not one of N, E, O", opts.Parity)
	}

	return opts, nil
}

// SerialMode translates the options into go.bug.st/serial's Mode for Open.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	// serial.StopBits is an enum (1 means one-and-a-half), not a count.
	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode, nil
}
