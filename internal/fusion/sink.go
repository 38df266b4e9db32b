package fusion

// Sink receives consolidated events for delivery beyond the coordinator.
// Publish is fire-and-forget: the coordinator calls it at most once per
// correlation ID and never waits on delivery, so implementations must not
// block and must own their own retry or durability story.
type Sink interface {
	Publish(event ConsolidatedEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ConsolidatedEvent)

// Publish calls f(event).
func (f SinkFunc) Publish(event ConsolidatedEvent) { f(event) }
