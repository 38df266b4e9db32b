package db

import (
	"sync"
	"sync/atomic"

	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/monitoring"
)

// DefaultSinkBuffer is the queue depth between Publish and the writer
// goroutine.
const DefaultSinkBuffer = 256

// DBSink adapts the store to the fusion.Sink interface. Publish hands the
// event to a buffered channel and returns immediately; a single writer
// goroutine owns the inserts. A full buffer drops the event and counts it,
// which keeps the coordinator's emit path from ever waiting on disk.
type DBSink struct {
	db      *DB
	metrics *monitoring.FusionCollector

	events chan fusion.ConsolidatedEvent
	done   chan struct{}
	once   sync.Once

	dropped atomic.Uint64
	written atomic.Uint64
}

// NewDBSink starts the writer goroutine. buffer <= 0 uses DefaultSinkBuffer;
// metrics may be nil.
func NewDBSink(database *DB, buffer int, metrics *monitoring.FusionCollector) *DBSink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	sink := &DBSink{
		db:      database,
		metrics: metrics,
		events:  make(chan fusion.ConsolidatedEvent, buffer),
		done:    make(chan struct{}),
	}
	go sink.writeLoop()
	return sink
}

// Publish queues the event for insertion, dropping it when the queue is
// full. Publish must not be called after Close.
func (s *DBSink) Publish(event fusion.ConsolidatedEvent) {
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
		s.metrics.RecordSinkDrop("db")
		monitoring.Logf("db sink: buffer full, dropped event %s", event.CorrelationID)
	}
}

func (s *DBSink) writeLoop() {
	defer close(s.done)
	for event := range s.events {
		if err := s.db.InsertEvent(&event); err != nil {
			monitoring.Logf("db sink: insert event %s: %v", event.CorrelationID, err)
			continue
		}
		s.written.Add(1)
	}
}

// Close drains queued events into the database and stops the writer.
func (s *DBSink) Close() {
	s.once.Do(func() { close(s.events) })
	<-s.done
}

// Dropped reports how many events were discarded on a full buffer.
func (s *DBSink) Dropped() uint64 { return s.dropped.Load() }

// Written reports how many events reached the database.
func (s *DBSink) Written() uint64 { return s.written.Load() }
