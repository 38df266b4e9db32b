package radar

import "fmt"

// SensorModel defines the capabilities and initialisation commands for a
// supported radar sensor.
type SensorModel struct {
	Slug            string   `json:"slug"`
	DisplayName     string   `json:"display_name"`
	DefaultBaudRate int      `json:"default_baud_rate"`
	InitCommands    []string `json:"init_commands"`
	Description     string   `json:"description"`
}

// SupportedSensorModels is the registry of sensor models the feed knows how
// to initialise. Init commands put the device into JSON output with speed,
// magnitude, and timestamp reporting in meters per second, which is what the
// line parser expects.
var SupportedSensorModels = map[string]SensorModel{
	"ops243-a": {
		Slug:            "ops243-a",
		DisplayName:     "OmniPreSense OPS243-A",
		DefaultBaudRate: 19200,
		InitCommands:    []string{"OJ", "OS", "OM", "OT", "UM", "R|", "BV"},
		Description:     "Doppler radar, speed measurement only",
	},
	"ops241-a": {
		Slug:            "ops241-a",
		DisplayName:     "OmniPreSense OPS241-A",
		DefaultBaudRate: 19200,
		InitCommands:    []string{"OJ", "OS", "OM", "UM", "R|", "BV"},
		Description:     "Short-range Doppler radar",
	},
}

// LookupSensorModel returns the registered model for slug.
func LookupSensorModel(slug string) (SensorModel, error) {
	model, ok := SupportedSensorModels[slug]
	if !ok {
		return SensorModel{}, fmt.Errorf("unknown sensor model %q", slug)
	}
	return model, nil
}
