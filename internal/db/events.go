package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kerbside-data/passage.report/internal/fusion"
)

// ErrEventNotFound is returned by GetEvent for an unknown correlation ID.
var ErrEventNotFound = errors.New("event not found")

// DefaultListLimit caps ListEvents when the caller does not pick a limit.
const DefaultListLimit = 100

// EventFilter bounds a ListEvents query. Zero values mean unbounded: a zero
// Since or Until skips that time bound (Until is exclusive), Limit <= 0
// falls back to DefaultListLimit, and MinSpeed <= 0 keeps every speed.
type EventFilter struct {
	Since    time.Time
	Until    time.Time
	Limit    int
	MinSpeed float64 // m/s
}

const eventColumns = `
	correlation_id, event_time_ns,
	speed, magnitude, direction,
	camera_class, camera_confidence, camera_box, camera_image_ref,
	local_temp_c, local_humidity, local_wind_speed, local_visibility_m, local_station,
	regional_temp_c, regional_humidity, regional_wind_speed, regional_visibility_m, regional_station,
	notes, emitted_at_ns`

// InsertEvent stores one consolidated event. The correlation ID is the
// primary key, so inserting the same event twice fails instead of silently
// overwriting the first copy.
func (db *DB) InsertEvent(event *fusion.ConsolidatedEvent) error {
	if event == nil {
		return errors.New("nil event")
	}
	if event.CorrelationID == "" {
		return errors.New("event has no correlation id")
	}

	var (
		magnitude        *float64
		direction        *string
		cameraClass      *string
		cameraConfidence *float64
		cameraBox        *string
		cameraImageRef   *string
		notes            *string
	)
	if event.Radar.Magnitude != 0 {
		magnitude = &event.Radar.Magnitude
	}
	if event.Radar.Direction != "" {
		direction = &event.Radar.Direction
	}
	if camera := event.Camera; camera != nil {
		cameraClass = &camera.Class
		cameraConfidence = &camera.Confidence
		if len(camera.Box) > 0 {
			raw, err := json.Marshal(camera.Box)
			if err != nil {
				return fmt.Errorf("marshal camera box: %w", err)
			}
			boxJSON := string(raw)
			cameraBox = &boxJSON
		}
		if camera.ImageRef != "" {
			cameraImageRef = &camera.ImageRef
		}
	}
	if len(event.Notes) > 0 {
		raw, err := json.Marshal(event.Notes)
		if err != nil {
			return fmt.Errorf("marshal notes: %w", err)
		}
		notesJSON := string(raw)
		notes = &notesJSON
	}

	local := weatherColumnsFor(event.WeatherLocal)
	regional := weatherColumnsFor(event.WeatherRegional)

	_, err := db.Exec(`
		INSERT INTO consolidated_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.CorrelationID,
		event.EventTime.UnixNano(),
		event.Radar.Speed,
		magnitude,
		direction,
		cameraClass,
		cameraConfidence,
		cameraBox,
		cameraImageRef,
		local.tempC, local.humidity, local.windSpeed, local.visibilityM, local.station,
		regional.tempC, regional.humidity, regional.windSpeed, regional.visibilityM, regional.station,
		notes,
		event.EmittedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", event.CorrelationID, err)
	}
	return nil
}

// GetEvent loads one stored event by correlation ID.
func (db *DB) GetEvent(correlationID string) (*fusion.ConsolidatedEvent, error) {
	row := db.QueryRow(`
		SELECT `+eventColumns+`
		FROM consolidated_events
		WHERE correlation_id = ?`, correlationID)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", correlationID, err)
	}
	return event, nil
}

// ListEvents returns stored events matching the filter, newest first.
func (db *DB) ListEvents(filter EventFilter) ([]fusion.ConsolidatedEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM consolidated_events`

	conds, args := timeRangeConds(filter.Since, filter.Until)
	if filter.MinSpeed > 0 {
		conds = append(conds, "speed >= ?")
		args = append(args, filter.MinSpeed)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += " ORDER BY event_time_ns DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []fusion.ConsolidatedEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// rowScanner is the part of sql.Row and sql.Rows that scanEvent needs.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*fusion.ConsolidatedEvent, error) {
	var (
		event                    fusion.ConsolidatedEvent
		eventTimeNS, emittedAtNS int64
		magnitude                *float64
		direction                *string
		cameraClass              *string
		cameraConfidence         *float64
		cameraBox                *string
		cameraImageRef           *string
		local, regional          weatherColumns
		notes                    *string
	)
	err := row.Scan(
		&event.CorrelationID,
		&eventTimeNS,
		&event.Radar.Speed,
		&magnitude,
		&direction,
		&cameraClass,
		&cameraConfidence,
		&cameraBox,
		&cameraImageRef,
		&local.tempC, &local.humidity, &local.windSpeed, &local.visibilityM, &local.station,
		&regional.tempC, &regional.humidity, &regional.windSpeed, &regional.visibilityM, &regional.station,
		&notes,
		&emittedAtNS,
	)
	if err != nil {
		return nil, err
	}

	event.EventTime = time.Unix(0, eventTimeNS).UTC()
	event.EmittedAt = time.Unix(0, emittedAtNS).UTC()
	if magnitude != nil {
		event.Radar.Magnitude = *magnitude
	}
	if direction != nil {
		event.Radar.Direction = *direction
	}

	if cameraClass != nil {
		camera := &fusion.CameraPayload{Class: *cameraClass}
		if cameraConfidence != nil {
			camera.Confidence = *cameraConfidence
		}
		if cameraBox != nil {
			if err := json.Unmarshal([]byte(*cameraBox), &camera.Box); err != nil {
				return nil, fmt.Errorf("unmarshal camera box: %w", err)
			}
		}
		if cameraImageRef != nil {
			camera.ImageRef = *cameraImageRef
		}
		event.Camera = camera
	}

	event.WeatherLocal = local.payload()
	event.WeatherRegional = regional.payload()

	if notes != nil {
		if err := json.Unmarshal([]byte(*notes), &event.Notes); err != nil {
			return nil, fmt.Errorf("unmarshal notes: %w", err)
		}
	}
	return &event, nil
}

// weatherColumns holds the nullable column values for one weather source.
// A present payload always stores its temperature, so tempC doubles as the
// presence marker when scanning back.
type weatherColumns struct {
	tempC       *float64
	humidity    *float64
	windSpeed   *float64
	visibilityM *float64
	station     *string
}

func weatherColumnsFor(weather *fusion.WeatherPayload) weatherColumns {
	var cols weatherColumns
	if weather == nil {
		return cols
	}
	cols.tempC = &weather.TempC
	if weather.Humidity != 0 {
		cols.humidity = &weather.Humidity
	}
	if weather.WindSpeed != 0 {
		cols.windSpeed = &weather.WindSpeed
	}
	if weather.VisibilityM != 0 {
		cols.visibilityM = &weather.VisibilityM
	}
	if weather.Station != "" {
		cols.station = &weather.Station
	}
	return cols
}

func (cols weatherColumns) payload() *fusion.WeatherPayload {
	if cols.tempC == nil {
		return nil
	}
	weather := &fusion.WeatherPayload{TempC: *cols.tempC}
	if cols.humidity != nil {
		weather.Humidity = *cols.humidity
	}
	if cols.windSpeed != nil {
		weather.WindSpeed = *cols.windSpeed
	}
	if cols.visibilityM != nil {
		weather.VisibilityM = *cols.visibilityM
	}
	if cols.station != nil {
		weather.Station = *cols.station
	}
	return weather
}
