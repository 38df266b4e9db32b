package weather

import (
	"context"
	"fmt"
	"math"

	"github.com/kerbside-data/passage.report/internal/fusion"
	"github.com/kerbside-data/passage.report/internal/httputil"
)

// regionalResponse is the regional API's wire format: a list of recent
// observations for the requested site, newest first. Wind comes in km/h and
// visibility in km, so both convert to SI on the way in.
type regionalResponse struct {
	Observations []regionalObservation `json:"observations"`
}

type regionalObservation struct {
	Site         string   `json:"site"`
	AirTempC     *float64 `json:"air_temp_c"`
	RelHumidity  *float64 `json:"rel_humidity"`
	WindSpeedKMH *float64 `json:"wind_speed_kmh"`
	VisibilityKM *float64 `json:"visibility_km"`
}

// RegionalProvider fetches the nearest regional observation site. It backs
// up the on-site station with a coarser reading when the station is down.
type RegionalProvider struct {
	url    string
	client httputil.HTTPClient
}

// NewRegionalProvider creates a provider polling the regional observations
// endpoint. The URL already addresses a single site.
func NewRegionalProvider(url string, client httputil.HTTPClient) *RegionalProvider {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &RegionalProvider{url: url, client: client}
}

func (p *RegionalProvider) Name() string { return "regional" }

// Fetch reads the newest observation for the site.
func (p *RegionalProvider) Fetch(ctx context.Context) (fusion.WeatherPayload, error) {
	var resp regionalResponse
	if err := httputil.GetJSON(ctx, p.client, p.url, &resp); err != nil {
		return fusion.WeatherPayload{}, err
	}

	if len(resp.Observations) == 0 {
		return fusion.WeatherPayload{}, fmt.Errorf("regional response contains no observations")
	}
	obs := resp.Observations[0]
	if obs.AirTempC == nil || math.IsNaN(*obs.AirTempC) {
		return fusion.WeatherPayload{}, fmt.Errorf("regional observation missing temperature")
	}

	payload := fusion.WeatherPayload{
		TempC:   *obs.AirTempC,
		Station: obs.Site,
	}
	if obs.RelHumidity != nil {
		payload.Humidity = *obs.RelHumidity
	}
	if obs.WindSpeedKMH != nil {
		payload.WindSpeed = *obs.WindSpeedKMH / 3.6
	}
	if obs.VisibilityKM != nil {
		payload.VisibilityM = *obs.VisibilityKM * 1000
	}
	return payload, nil
}
