package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/monitoring"
)

// DefaultUDPBuffer is the queue depth between Publish and the socket writer.
const DefaultUDPBuffer = 256

// writeErrorLogInterval batches socket error logging so a dead relay does
// not produce one log line per passing vehicle.
const writeErrorLogInterval = 10 * time.Second

// UDPSink relays each consolidated event as one JSON datagram to a collector
// address, typically an off-box relay. Delivery is best effort: a full queue
// or a failed write drops the event and counts it.
type UDPSink struct {
	conn    *net.UDPConn
	address string
	events  chan fusion.ConsolidatedEvent
	metrics *monitoring.FusionCollector

	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewUDPSink dials the relay address. buffer <= 0 uses DefaultUDPBuffer;
// metrics may be nil. Call Start to begin draining the queue.
func NewUDPSink(addr string, buffer int, metrics *monitoring.FusionCollector) (*UDPSink, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve relay address %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", addr, err)
	}
	if buffer <= 0 {
		buffer = DefaultUDPBuffer
	}
	return &UDPSink{
		conn:    conn,
		address: addr,
		events:  make(chan fusion.ConsolidatedEvent, buffer),
		metrics: metrics,
	}, nil
}

// Start begins the writer goroutine, which runs until ctx is done.
func (s *UDPSink) Start(ctx context.Context) {
	go s.writeLoop(ctx)
	monitoring.Logf("udp sink: relaying events to %s", s.address)
}

func (s *UDPSink) writeLoop(ctx context.Context) {
	failed := 0
	var lastErr error
	ticker := time.NewTicker(writeErrorLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.events:
			raw, err := json.Marshal(event)
			if err != nil {
				monitoring.Logf("udp sink: marshal event %s: %v", event.CorrelationID, err)
				continue
			}
			if _, err := s.conn.Write(raw); err != nil {
				failed++
				lastErr = err
				s.dropped.Add(1)
				s.metrics.RecordSinkDrop("udp")
				continue
			}
			s.sent.Add(1)
		case <-ticker.C:
			if failed > 0 && lastErr != nil {
				monitoring.Logf("udp sink: %d events failed to send (latest: %v)", failed, lastErr)
				failed = 0
				lastErr = nil
			}
		}
	}
}

// Publish queues the event for relay, dropping it when the queue is full.
func (s *UDPSink) Publish(event fusion.ConsolidatedEvent) {
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
		s.metrics.RecordSinkDrop("udp")
	}
}

// Close closes the socket. Cancel the Start context first.
func (s *UDPSink) Close() error {
	return s.conn.Close()
}

// Addr reports the relay address the sink dials.
func (s *UDPSink) Addr() string { return s.address }

// Sent reports how many events reached the socket.
func (s *UDPSink) Sent() uint64 { return s.sent.Load() }

// Dropped reports how many events were discarded, queue overflows and
// socket errors combined.
func (s *UDPSink) Dropped() uint64 { return s.dropped.Load() }
