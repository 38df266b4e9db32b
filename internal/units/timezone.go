package units

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// tzEntry pairs an IANA zone name with the label shown in the boot log and
// error messages. One entry per unique STD/DST offset pair, ordered west to
// east, so the printed list stays short.
type tzEntry struct {
	zone  string
	label string
}

var commonZones = []tzEntry{
	{"Pacific/Niue", "Niue (-11:00)"},
	{"America/Adak", "Adak (-10:00/-09:00)"},
	{"Pacific/Honolulu", "Honolulu (-10:00)"},
	{"Pacific/Marquesas", "Marquesas (-09:30)"},
	{"America/Anchorage", "Anchorage (-09:00/-08:00)"},
	{"Pacific/Gambier", "Gambier (-09:00)"},
	{"America/Los_Angeles", "Los Angeles (-08:00/-07:00)"},
	{"Pacific/Pitcairn", "Pitcairn (-08:00)"},
	{"America/Denver", "Denver (-07:00/-06:00)"},
	{"America/Phoenix", "Phoenix (-07:00)"},
	{"America/Chicago", "Chicago (-06:00/-05:00)"},
	{"America/Mexico_City", "Mexico City (-06:00)"},
	{"America/New_York", "New York (-05:00/-04:00)"},
	{"America/Lima", "Lima (-05:00)"},
	{"America/Barbados", "Barbados (-04:00)"},
	{"America/Santiago", "Santiago (-04:00/-03:00)"},
	{"America/St_Johns", "St. John's (-03:30/-02:30)"},
	{"America/Miquelon", "Miquelon (-03:00/-02:00)"},
	{"America/Sao_Paulo", "Sao Paulo (-03:00)"},
	{"America/Godthab", "Godthab/Nuuk (-02:00/-01:00)"},
	{"Atlantic/South_Georgia", "South Georgia (-02:00)"},
	{"Atlantic/Azores", "Azores (-01:00/+00:00)"},
	{"Atlantic/Cape_Verde", "Cape Verde (-01:00)"},
	{"UTC", "UTC (+00:00)"},
	{"Africa/Abidjan", "Abidjan (+00:00)"},
	{"Europe/Dublin", "Dublin (+00:00/+01:00)"},
	{"Antarctica/Troll", "Troll (+00:00/+02:00)"},
	{"Africa/Lagos", "Lagos (+01:00)"},
	{"Europe/Berlin", "Berlin (+01:00/+02:00)"},
	{"Africa/Johannesburg", "Johannesburg (+02:00)"},
	{"Europe/Athens", "Athens (+02:00/+03:00)"},
	{"Africa/Nairobi", "Nairobi (+03:00)"},
	{"Asia/Tehran", "Tehran (+03:30)"},
	{"Asia/Dubai", "Dubai (+04:00)"},
	{"Asia/Kabul", "Kabul (+04:30)"},
	{"Asia/Karachi", "Karachi (+05:00)"},
	{"Asia/Kolkata", "Mumbai/Kolkata (+05:30)"},
	{"Asia/Kathmandu", "Kathmandu (+05:45)"},
	{"Asia/Dhaka", "Dhaka (+06:00)"},
	{"Asia/Yangon", "Yangon (+06:30)"},
	{"Asia/Bangkok", "Bangkok (+07:00)"},
	{"Asia/Singapore", "Singapore (+08:00)"},
	{"Australia/Eucla", "Eucla (+08:45)"},
	{"Asia/Seoul", "Seoul (+09:00)"},
	{"Australia/Darwin", "Darwin (+09:30)"},
	{"Australia/Adelaide", "Adelaide (+09:30/+10:30)"},
	{"Australia/Brisbane", "Brisbane (+10:00)"},
	{"Australia/Sydney", "Sydney (+10:00/+11:00)"},
	{"Australia/Lord_Howe", "Lord Howe (+10:30/+11:00)"},
	{"Pacific/Bougainville", "Bougainville (+11:00)"},
	{"Pacific/Norfolk", "Norfolk (+11:00/+12:00)"},
	{"Pacific/Fiji", "Fiji (+12:00)"},
	{"Pacific/Auckland", "Auckland (+12:00/+13:00)"},
	{"Pacific/Chatham", "Chatham (+12:45/+13:45)"},
	{"Pacific/Apia", "Apia (+13:00)"},
	{"Pacific/Kiritimati", "Kiritimati (+14:00)"},
}

// locations caches loaded zones. The daily rollup converts one timestamp
// per stored event, so repeated LoadLocation lookups add up.
var locations sync.Map // zone name -> *time.Location

func loadLocation(tz string) (*time.Location, error) {
	if cached, ok := locations.Load(tz); ok {
		return cached.(*time.Location), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	locations.Store(tz, loc)
	return loc, nil
}

// IsTimezoneValid reports whether tz names a zone in the system tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := loadLocation(tz)
	return err == nil
}

// IsCommonTimezone reports whether tz is in the curated list. Zones outside
// the list still work everywhere; this only drives the boot-time hint.
func IsCommonTimezone(tz string) bool {
	for _, e := range commonZones {
		if e.zone == tz {
			return true
		}
	}
	return false
}

// GetValidTimezonesString joins the curated zone names for error messages.
func GetValidTimezonesString() string {
	names := make([]string, len(commonZones))
	for i, e := range commonZones {
		names[i] = e.zone
	}
	return strings.Join(names, ", ")
}

// ConvertTime shifts a stored UTC timestamp into tz for display. Event rows
// are always stored in UTC.
func ConvertTime(utcTime time.Time, tz string) (time.Time, error) {
	if tz == "UTC" {
		return utcTime, nil
	}
	loc, err := loadLocation(tz)
	if err != nil {
		return utcTime, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return utcTime.In(loc), nil
}

// GetTimezoneLabel returns the display label for a curated zone, or the raw
// zone name for anything outside the list.
func GetTimezoneLabel(tz string) string {
	for _, e := range commonZones {
		if e.zone == tz {
			return e.label
		}
	}
	return tz
}
