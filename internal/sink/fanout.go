// Package sink delivers consolidated events beyond the coordinator: to the
// database, to in-process subscribers such as the SSE stream, and to an
// off-box UDP relay. Every sink honors the fire-and-forget Publish
// contract; none of them block the emit path beyond a channel try-send.
package sink

import (
	"github.com/kerbside-data/passage.report/internal/fusion"
)

// Fanout delivers each event to every child sink in order. Children own
// their own buffering, so a slow child only costs its try-send.
type Fanout []fusion.Sink

// Publish hands the event to each child.
func (f Fanout) Publish(event fusion.ConsolidatedEvent) {
	for _, child := range f {
		child.Publish(event)
	}
}
