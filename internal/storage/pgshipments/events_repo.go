package pgshipments

import (
	"context"
	"encoding/json"

	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// InsertEvents пишет события с дедупликацией по (shipment_id, event_type,
// event_date): конфликт уникальности — штатный "уже есть", не ошибка.
// Возвращает число реально вставленных строк.
func (s *Storage) InsertEvents(ctx context.Context, evs []*models.TrackingEvent) (int, error) {
	inserted := 0
	for _, e := range evs {
		var raw any
		if e.RawData != nil && *e.RawData != "" {
			var m any
			if json.Unmarshal([]byte(*e.RawData), &m) == nil {
				raw = m
			}
		}

		source := e.DataSource
		if source == "" {
			source = "system"
		}
		confidence := e.ConfidenceScore
		if confidence <= 0 {
			confidence = 1
		}

		tag, err := s.db.Exec(ctx, `
INSERT INTO shipment_events (
  shipment_id, event_type, event_code, event_date,
  location_name, location_code, description,
  vessel_name, vessel_imo, voyage_number,
  data_source, confidence_score, raw_data, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now())
ON CONFLICT (shipment_id, event_type, event_date) DO NOTHING
`, e.ShipmentID, e.EventType, e.EventCode, e.EventDate.UTC(),
			e.LocationName, e.LocationCode, e.Description,
			e.VesselName, e.VesselIMO, e.VoyageNumber,
			source, confidence, raw)
		if err != nil {
			return inserted, errors.Wrap(err, "insert shipment event")
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *Storage) ListEvents(ctx context.Context, shipmentID string, limit, offset int) ([]*models.TrackingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, shipment_id, event_type, event_code, event_date,
  location_name, location_code, description,
  vessel_name, vessel_imo, voyage_number,
  data_source, confidence_score, raw_data, created_at
FROM shipment_events
WHERE shipment_id = $1
ORDER BY event_date DESC
LIMIT $2 OFFSET $3
`, shipmentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		var raw any
		if err := rows.Scan(
			&e.ID, &e.ShipmentID, &e.EventType, &e.EventCode, &e.EventDate,
			&e.LocationName, &e.LocationCode, &e.Description,
			&e.VesselName, &e.VesselIMO, &e.VoyageNumber,
			&e.DataSource, &e.ConfidenceScore, &raw, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		if raw != nil {
			b, _ := json.Marshal(raw)
			s := string(b)
			e.RawData = &s
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// LatestEvent возвращает последнее (по event_date) событие отправления,
// исключая служебные DELETED. nil, если событий нет.
func (s *Storage) LatestEvent(ctx context.Context, shipmentID string) (*models.TrackingEvent, error) {
	row := s.db.QueryRow(ctx, `
SELECT event_type, event_date, location_name, description
FROM shipment_events
WHERE shipment_id = $1 AND event_type <> $2
ORDER BY event_date DESC
LIMIT 1
`, shipmentID, models.EventDeleted)

	var e models.TrackingEvent
	e.ShipmentID = shipmentID
	err := row.Scan(&e.EventType, &e.EventDate, &e.LocationName, &e.Description)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest event")
	}
	return &e, nil
}
