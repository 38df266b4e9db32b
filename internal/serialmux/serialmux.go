// Package serialmux multiplexes one serial-attached sensor across many
// consumers. Every subscriber sees every line the device emits; command
// writes are serialized so concurrent callers cannot interleave bytes on
// the wire.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// ErrShortWrite reports a command that only partially reached the device.
var ErrShortWrite = errors.New("short write to serial port")

// SerialMux fans lines from a single serial port out to any number of
// subscribers.
type SerialMux[T SerialPorter] struct {
	port      T
	subs      map[string]chan string
	subsMu    sync.Mutex
	commandMu sync.Mutex
	closing   bool
	closingMu sync.Mutex
}

// SerialMuxInterface is the consumer-facing surface of a mux. The real,
// replay, and disabled implementations all satisfy it.
type SerialMuxInterface interface {
	// Subscribe registers a new line channel. The returned ID identifies
	// the channel when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe closes and removes a subscriber channel.
	Unsubscribe(string)
	// SendCommand writes one newline-terminated command to the device.
	SendCommand(string) error
	// Monitor reads device lines and fans them out until the context ends.
	Monitor(context.Context) error
	// Close closes every subscriber channel and the underlying port.
	Close() error

	// Initialize sends the model's startup sequence. The sequence comes
	// from the sensor model registry so one mux serves any supported
	// device.
	Initialize(commands ...string) error

	// AttachAdminRoutes mounts the serial debug pages under /debug/. The
	// tsweb debugger gates them to local and tailnet callers.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux wraps an open port in a mux.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port: port,
		subs: make(map[string]chan string),
	}
}

// newSubscriberID returns an 8-byte random hex ID.
func newSubscriberID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := newSubscriberID()
	ch := make(chan string)
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// Initialize sends the model-specific startup sequence. Event times are
// stamped host-side on receipt, so nothing here syncs a device clock; the
// sequence only has to put the sensor into a parseable output mode.
func (s *SerialMux[T]) Initialize(commands ...string) error {
	for _, command := range commands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand writes command to the device, appending the newline the OPS24x
// protocol expects if the caller left it off.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrShortWrite
	}
	return nil
}

// Monitor reads device lines and delivers each to every subscriber. A
// subscriber that is not ready to receive is skipped for that line so it
// cannot stall delivery to the others.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lines := make(chan string)
	scanErr := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer loop
	// always observes context cancellation.
	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErr <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErr:
			return err

		case line, ok := <-lines:
			if !ok {
				// Port reached EOF or the reader goroutine stopped.
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}
			// The closing check shares subsMu with Close so a
			// shutdown cannot close channels mid-fan-out.
			s.subsMu.Lock()
			s.closingMu.Lock()
			closing := s.closing
			s.closingMu.Unlock()
			if closing {
				s.subsMu.Unlock()
				return nil
			}
			for _, ch := range s.subs {
				select {
				case ch <- line:
				default:
				}
			}
			s.subsMu.Unlock()
		}
	}
}

// Close closes every subscriber channel, then the port. Monitor exits on its
// next delivery attempt.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	return s.port.Close()
}
