package pgshipments

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  tracking_number TEXT NOT NULL,
  tracking_type TEXT NOT NULL,
  carrier_code TEXT NOT NULL DEFAULT '',
  carrier_name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  last_event_date TIMESTAMPTZ NULL,
  last_event_location TEXT NOT NULL DEFAULT '',
  last_event_description TEXT NOT NULL DEFAULT '',
  eta TIMESTAMPTZ NULL,
  ata TIMESTAMPTZ NULL,
  vessel_name TEXT NOT NULL DEFAULT '',
  voyage_number TEXT NOT NULL DEFAULT '',
  metadata JSONB NULL,
  next_check_at TIMESTAMPTZ NOT NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// Активный трек уникален в рамках организации; неактивные (soft-deleted)
		// копии не мешают повторной регистрации.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipments_org_number_active
  ON shipments(organization_id, tracking_number) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_next_check_at ON shipments(next_check_at)`,
		`
CREATE TABLE IF NOT EXISTS shipment_events (
  id BIGSERIAL PRIMARY KEY,
  shipment_id TEXT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  event_type TEXT NOT NULL,
  event_code TEXT NOT NULL DEFAULT '',
  event_date TIMESTAMPTZ NOT NULL,
  location_name TEXT NOT NULL DEFAULT '',
  location_code TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  vessel_name TEXT NOT NULL DEFAULT '',
  vessel_imo TEXT NOT NULL DEFAULT '',
  voyage_number TEXT NOT NULL DEFAULT '',
  data_source TEXT NOT NULL DEFAULT 'system',
  confidence_score DOUBLE PRECISION NOT NULL DEFAULT 1,
  raw_data JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_events_shipment_id_event_date
  ON shipment_events(shipment_id, event_date DESC)`,
		// Ключ дедупликации событий: повторная синтезация того же события
		// должна быть no-op на уровне БД.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipment_events_dedup
  ON shipment_events(shipment_id, event_type, event_date)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
