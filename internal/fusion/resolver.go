package fusion

import (
	"fmt"
	"math"
	"time"
)

// Resolve merges a request's trigger and collected detections into the final
// consolidated event. It is pure: no clock, no I/O, no retries, operating
// only on what the coordinator already gathered. EmittedAt is stamped by the
// caller at handoff.
//
// Rules, in order:
//   - Radar comes from the trigger and is always present.
//   - Collected sources are copied through verbatim; absent sources stay
//     nil rather than defaulting to zero values.
//   - Every source that timed out gets a note naming its budget.
//   - If both weather sources are present and their temperatures differ by
//     more than disagreementC, both readings are kept and a note records
//     the disagreement. No averaging, no silent pick.
func Resolve(req *ConsolidationRequest, disagreementC float64) ConsolidatedEvent {
	req.mu.Lock()
	collected := make(map[Source]Detection, len(req.collected))
	for s, d := range req.collected {
		collected[s] = d
	}
	missed := make(map[Source]time.Duration, len(req.missed))
	for s, b := range req.missed {
		missed[s] = b
	}
	req.mu.Unlock()

	event := ConsolidatedEvent{
		CorrelationID: req.CorrelationID,
		EventTime:     req.Trigger.ObservedAt,
		Radar:         *req.Trigger.Radar,
	}

	var notes []string
	for _, source := range CollectedSources {
		if d, ok := collected[source]; ok {
			switch source {
			case SourceCamera:
				if d.Camera != nil {
					p := *d.Camera
					event.Camera = &p
				}
			case SourceWeatherLocal:
				if d.Weather != nil {
					p := *d.Weather
					event.WeatherLocal = &p
				}
			case SourceWeatherRegional:
				if d.Weather != nil {
					p := *d.Weather
					event.WeatherRegional = &p
				}
			}
			continue
		}
		if budget, ok := missed[source]; ok {
			notes = append(notes, fmt.Sprintf("%s: no match within %s", source, budget))
		}
	}

	if event.WeatherLocal != nil && event.WeatherRegional != nil {
		delta := math.Abs(event.WeatherLocal.TempC - event.WeatherRegional.TempC)
		if delta > disagreementC {
			notes = append(notes, fmt.Sprintf(
				"weather sources disagree: local %.1fC vs regional %.1fC (delta %.1fC exceeds %.1fC)",
				event.WeatherLocal.TempC, event.WeatherRegional.TempC, delta, disagreementC))
		}
	}

	event.Notes = notes
	return event
}
