package radar

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Line classification tokens. The OPS24x emits a mix of JSON speed reports,
// bare CSV readings (blank-data or pre-OJ modes), and JSON config echoes in
// response to queries.
const (
	LineTypeData    = "data"
	LineTypeConfig  = "config"
	LineTypeUnknown = "unknown"
)

// ClassifyLine inspects a serial line and returns its type token. The
// classification is intentionally conservative: anything with a speed or
// magnitude key is a reading, any other JSON object is config chatter.
func ClassifyLine(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return LineTypeUnknown
	}
	if strings.Contains(trimmed, "\"speed\"") || strings.Contains(trimmed, "\"magnitude\"") {
		return LineTypeData
	}
	if looksNumericCSV(trimmed) {
		return LineTypeData
	}
	if strings.HasPrefix(trimmed, "{") {
		return LineTypeConfig
	}
	return LineTypeUnknown
}

// looksNumericCSV reports whether the line is a bare comma-separated reading
// such as "152,12.4" (magnitude, speed) or "88.21,152,12.4" (uptime,
// magnitude, speed).
func looksNumericCSV(line string) bool {
	segments := strings.Split(line, ",")
	if len(segments) != 2 && len(segments) != 3 {
		return false
	}
	for _, segment := range segments {
		if _, err := strconv.ParseFloat(strings.TrimSpace(segment), 64); err != nil {
			return false
		}
	}
	return true
}

// Reading is one parsed speed report. Speed keeps the device's sign: the
// OPS24x reports receding targets as negative speeds.
type Reading struct {
	Speed     float64
	HasSpeed  bool
	Magnitude float64
	Unit      string
}

// dataLine is the JSON shape of an OPS24x speed report. Depending on
// firmware settings the values arrive as JSON numbers or quoted strings, so
// everything decodes through json.Number-tolerant fields.
type dataLine struct {
	Time      string          `json:"time"`
	Speed     json.RawMessage `json:"speed"`
	Magnitude json.RawMessage `json:"magnitude"`
	Unit      string          `json:"unit"`
}

// ParseReading parses a data line in either JSON or CSV form.
func ParseReading(line string) (Reading, error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		return parseJSONReading(trimmed)
	}
	return parseCSVReading(trimmed)
}

func parseJSONReading(line string) (Reading, error) {
	var d dataLine
	if err := json.Unmarshal([]byte(line), &d); err != nil {
		return Reading{}, fmt.Errorf("malformed data line: %w", err)
	}

	var r Reading
	r.Unit = d.Unit
	if speed, ok := parseRawNumber(d.Speed); ok {
		r.Speed = speed
		r.HasSpeed = true
	}
	if magnitude, ok := parseRawNumber(d.Magnitude); ok {
		r.Magnitude = magnitude
	}
	return r, nil
}

func parseCSVReading(line string) (Reading, error) {
	segments := strings.Split(line, ",")
	values := make([]float64, 0, len(segments))
	for _, segment := range segments {
		v, err := strconv.ParseFloat(strings.TrimSpace(segment), 64)
		if err != nil {
			return Reading{}, fmt.Errorf("malformed data line %q: %w", line, err)
		}
		values = append(values, v)
	}

	// Two segments are magnitude,speed; three lead with the device uptime.
	switch len(values) {
	case 2:
		return Reading{Magnitude: values[0], Speed: values[1], HasSpeed: true}, nil
	case 3:
		return Reading{Magnitude: values[1], Speed: values[2], HasSpeed: true}, nil
	default:
		return Reading{}, fmt.Errorf("malformed data line %q: expected 2 or 3 segments, got %d", line, len(values))
	}
}

// parseRawNumber accepts both 12.3 and "12.3" forms.
func parseRawNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseConfigLine decodes a JSON config echo into its key/value pairs. The
// OPS24x answers queries like ?? with one object per line, e.g.
// {"Product":"OPS243"} or {"SamplingRate":10000, "resolution":0.0306}.
func parseConfigLine(line string) (map[string]any, error) {
	var values map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &values); err != nil {
		return nil, fmt.Errorf("malformed config line: %w", err)
	}
	return values, nil
}

// speedUnitFactors converts device-reported speed units to m/s. The init
// sequence sets UM (meters per second), but a device restored from persistent
// memory may report otherwise until reinitialised.
var speedUnitFactors = map[string]float64{
	"mps":  1,
	"m/s":  1,
	"kmph": 1 / 3.6,
	"km/h": 1 / 3.6,
	"mph":  1 / 2.23694,
	"fps":  0.3048,
	"cmps": 0.01,
	"cm/s": 0.01,
}

// SpeedToMPS converts a device-reported speed to m/s using the unit tag on
// the reading, defaulting to m/s when the tag is absent or unknown.
func SpeedToMPS(speed float64, unit string) float64 {
	if factor, ok := speedUnitFactors[strings.ToLower(strings.TrimSpace(unit))]; ok {
		return speed * factor
	}
	return speed
}
