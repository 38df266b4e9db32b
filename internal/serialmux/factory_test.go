package serialmux

import "testing"

// No serial hardware in CI, so these only cover the failure paths.

func TestNewRealSerialMuxBadOptions(t *testing.T) {
	// Option validation happens before any device open.
	mux, err := NewRealSerialMux("/dev/ttyACM0", PortOptions{DataBits: 3})
	if err == nil {
		t.Fatal("Expected invalid options to be rejected")
	}
	if mux != nil {
		t.Error("Expected a nil mux alongside the error")
	}
}

func TestNewRealSerialMuxMissingDevice(t *testing.T) {
	mux, err := NewRealSerialMux("/dev/passage-no-such-device", PortOptions{})
	if err == nil {
		mux.Close()
		t.Fatal("Expected an error opening a missing device")
	}
	if mux != nil {
		t.Error("Expected a nil mux alongside the error")
	}
}
