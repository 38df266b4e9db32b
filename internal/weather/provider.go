// Package weather polls environmental condition feeds and keeps the
// correlation window stocked with recent observations. Two independent feeds
// run in production: the on-site station and a regional API. Either can be
// down without affecting the other.
package weather

import (
	"context"

	"github.com/kerbside-data/passage.report/internal/fusion"
)

// Provider abstracts one weather data source. Implementations map their
// wire format into the shared payload; fields the source cannot supply stay
// zero and are omitted from serialized records.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) (fusion.WeatherPayload, error)
}
