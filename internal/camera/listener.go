// Package camera receives AI camera inferences over UDP and feeds them into
// the correlation window. The camera pushes one JSON datagram per inference;
// there is no request/response protocol.
package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/monitoring"
	"github.com/kerbside-data/passage.report/internal/timeutil"
)

// DefaultMaxDatagram bounds accepted datagram size. Inference messages are a
// few hundred bytes; anything larger is junk or an attack and is dropped.
const DefaultMaxDatagram = 8192

// inference is the camera's wire format. ts is unix milliseconds of the
// inference on the camera; zero means the camera did not stamp it.
type inference struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        []int   `json:"box"`
	Image      string  `json:"image"`
	TS         int64   `json:"ts"`
}

// ListenerConfig configures the UDP inference listener.
type ListenerConfig struct {
	// Addr is the UDP listen address, e.g. ":5600".
	Addr string
	// RcvBuf is the socket receive buffer size in bytes. Zero keeps the
	// system default.
	RcvBuf int
	// MaxDatagram bounds accepted datagram size. Zero means
	// DefaultMaxDatagram.
	MaxDatagram int
}

// Counters tracks datagram handling for the stats endpoint.
type Counters struct {
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
	Oversized uint64 `json:"oversized"`
	Appended  uint64 `json:"appended"`
}

// Listener receives camera inferences and appends them to the correlation
// window. Camera detections never open consolidation requests; they are
// joined to radar triggers by observation time.
type Listener struct {
	cfg     ListenerConfig
	windows *fusion.WindowStore
	clock   timeutil.Clock

	mu       sync.Mutex
	conn     *net.UDPConn
	counters Counters
}

// NewListener wires a listener against the correlation window store.
func NewListener(cfg ListenerConfig, windows *fusion.WindowStore, clock timeutil.Clock) *Listener {
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = DefaultMaxDatagram
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Listener{
		cfg:     cfg,
		windows: windows,
		clock:   clock,
	}
}

// Start listens for datagrams until ctx is done. It returns the error that
// stopped it, ctx.Err() on cancellation.
func (l *Listener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("resolve camera address %s: %w", l.cfg.Addr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.cfg.Addr, err)
	}
	defer conn.Close()

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			monitoring.Logf("camera: failed to set UDP receive buffer to %d: %v", l.cfg.RcvBuf, err)
		}
	}

	monitoring.Logf("camera: listening on %s", conn.LocalAddr())

	// One byte of headroom past the cap distinguishes at-cap from oversized.
	buffer := make([]byte, l.cfg.MaxDatagram+1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			// A short read deadline keeps the loop responsive to ctx.
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, _, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Logf("camera: UDP read error: %v", err)
				continue
			}

			l.HandleDatagram(buffer[:n])
		}
	}
}

// LocalAddr returns the bound address once Start has opened the socket, or
// nil before that. Tests listen on port 0 and read the port back from here.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// HandleDatagram decodes and validates one inference datagram. Malformed or
// oversized payloads are dropped and counted, never propagated.
func (l *Listener) HandleDatagram(data []byte) {
	l.mu.Lock()
	l.counters.Received++
	l.mu.Unlock()

	if len(data) > l.cfg.MaxDatagram {
		l.mu.Lock()
		l.counters.Oversized++
		l.mu.Unlock()
		monitoring.Logf("camera: dropped oversized datagram (%d bytes)", len(data))
		return
	}

	var msg inference
	if err := json.Unmarshal(data, &msg); err != nil {
		l.noteMalformed(fmt.Sprintf("bad JSON: %v", err))
		return
	}

	det := fusion.Detection{
		Source:     fusion.SourceCamera,
		ObservedAt: l.observedAt(msg.TS),
		Camera: &fusion.CameraPayload{
			Class:      msg.Class,
			Confidence: msg.Confidence,
			Box:        msg.Box,
			ImageRef:   msg.Image,
		},
	}

	if err := det.Validate(); err != nil {
		l.noteMalformed(err.Error())
		return
	}

	if err := l.windows.Append(det); err != nil {
		l.noteMalformed(err.Error())
		return
	}

	l.mu.Lock()
	l.counters.Appended++
	l.mu.Unlock()
}

// observedAt converts a camera timestamp in unix milliseconds to the event
// time, falling back to host receipt time when the camera did not stamp one.
func (l *Listener) observedAt(tsMillis int64) time.Time {
	if tsMillis <= 0 {
		return l.clock.Now()
	}
	return time.UnixMilli(tsMillis)
}

func (l *Listener) noteMalformed(reason string) {
	l.mu.Lock()
	l.counters.Malformed++
	l.mu.Unlock()
	monitoring.Logf("camera: dropped inference: %s", reason)
}

// Counters returns a snapshot of the datagram counters.
func (l *Listener) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters
}
