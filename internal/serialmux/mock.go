package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// MockSerialPort replays a scripted line stream and captures every command
// written to it. Dev mode runs the whole pipeline on one of these instead of
// a physical sensor.
type MockSerialPort struct {
	io.Reader

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("serial port closed")
	}
	return m.written.Write(p)
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	// Closing the pipe reader ends the replay goroutine on its next write.
	if c, ok := m.Reader.(io.Closer); ok {
		c.Close()
	}
	return nil
}

// WrittenCommands returns everything written to the port so far.
func (m *MockSerialPort) WrittenCommands() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

// NewMockSerialMux builds a mux over a replay port that emits the given
// lines cyclically, one per interval. An interval at or below zero gets the
// 500ms default, roughly the cadence of a quiet OPS24x.
func NewMockSerialMux(lines []string, interval time.Duration) *SerialMux[*MockSerialPort] {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	r, w := io.Pipe()
	mockPort := &MockSerialPort{Reader: r}

	go func() {
		defer w.Close()
		if len(lines) == 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		i := 0
		for range ticker.C {
			if _, err := io.WriteString(w, lines[i%len(lines)]+"\n"); err != nil {
				return
			}
			i++
		}
	}()

	return NewSerialMux(mockPort)
}
