package weather

import (
	"context"
	"fmt"
	"math"

	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/httputil"
)

// stationObservation is the on-site station's wire format. The station
// firmware reports everything in SI units already.
type stationObservation struct {
	StationID   string   `json:"station_id"`
	TempC       *float64 `json:"temp_c"`
	Humidity    *float64 `json:"humidity"`
	WindMPS     *float64 `json:"wind_mps"`
	VisibilityM *float64 `json:"visibility_m"`
}

// StationProvider fetches the local weather station's current observation.
type StationProvider struct {
	url    string
	client httputil.HTTPClient
}

// NewStationProvider creates a provider polling the station endpoint, e.g.
// http://10.0.0.12/current.json.
func NewStationProvider(url string, client httputil.HTTPClient) *StationProvider {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &StationProvider{url: url, client: client}
}

func (p *StationProvider) Name() string { return "station" }

// Fetch reads the station's current observation. A response without a
// temperature is an error: the station always measures temperature, so its
// absence means the feed is broken rather than reporting calm conditions.
func (p *StationProvider) Fetch(ctx context.Context) (fusion.WeatherPayload, error) {
	var obs stationObservation
	if err := httputil.GetJSON(ctx, p.client, p.url, &obs); err != nil {
		return fusion.WeatherPayload{}, err
	}

	if obs.TempC == nil || math.IsNaN(*obs.TempC) {
		return fusion.WeatherPayload{}, fmt.Errorf("station observation missing temperature")
	}

	payload := fusion.WeatherPayload{
		TempC:   *obs.TempC,
		Station: obs.StationID,
	}
	if obs.Humidity != nil {
		payload.Humidity = *obs.Humidity
	}
	if obs.WindMPS != nil {
		payload.WindSpeed = *obs.WindMPS
	}
	if obs.VisibilityM != nil {
		payload.VisibilityM = *obs.VisibilityM
	}
	return payload, nil
}
