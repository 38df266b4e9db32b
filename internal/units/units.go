// Package units provides shared constants and conversion for the units the
// API can serve. Stored values are always SI: speeds in m/s, temperatures in
// degrees Celsius.
package units

// Speed units the API accepts. kph is an alias for kmph.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Temperature units.
const (
	Celsius    = "c"
	Fahrenheit = "f"
)

// ValidSpeedUnits lists every accepted speed unit value.
var ValidSpeedUnits = []string{MPS, MPH, KMPH, KPH}

// IsValidSpeedUnit reports whether unit is one of ValidSpeedUnits.
func IsValidSpeedUnit(unit string) bool {
	for _, v := range ValidSpeedUnits {
		if unit == v {
			return true
		}
	}
	return false
}

// SpeedUnitsString names the accepted speed units for error messages.
func SpeedUnitsString() string {
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a stored m/s speed into the target display units.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.23694
	case KMPH, KPH:
		return speedMPS * 3.6
	case MPS:
		return speedMPS
	default:
		return speedMPS // unknown units fall back to m/s
	}
}

// ToMPS converts a speed in the given units back to meters per second,
// the unit everything is stored in.
func ToMPS(speed float64, fromUnits string) float64 {
	switch fromUnits {
	case MPH:
		return speed / 2.23694
	case KMPH, KPH:
		return speed / 3.6
	case MPS:
		return speed
	default:
		return speed // unknown units are treated as m/s
	}
}

// ConvertTemperature converts a stored Celsius temperature into the target
// display units.
func ConvertTemperature(tempC float64, targetUnits string) float64 {
	switch targetUnits {
	case Fahrenheit:
		return tempC*9.0/5.0 + 32.0
	case Celsius:
		return tempC
	default:
		return tempC // unknown units fall back to Celsius
	}
}
