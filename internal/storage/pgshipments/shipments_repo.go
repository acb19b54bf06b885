package pgshipments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const shipmentColumns = `
  id, organization_id, tracking_number, tracking_type,
  carrier_code, carrier_name,
  status, active,
  last_event_date, last_event_location, last_event_description,
  eta, ata, vessel_name, voyage_number,
  metadata, next_check_at, check_fail_count,
  created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (*models.Shipment, error) {
	var sh models.Shipment
	var meta []byte
	if err := row.Scan(
		&sh.ID, &sh.OrganizationID, &sh.TrackingNumber, &sh.TrackingType,
		&sh.CarrierCode, &sh.CarrierName,
		&sh.Status, &sh.Active,
		&sh.LastEventDate, &sh.LastEventLocation, &sh.LastEventDescription,
		&sh.ETA, &sh.ATA, &sh.VesselName, &sh.VoyageNumber,
		&meta, &sh.NextCheckAt, &sh.CheckFailCount,
		&sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sh.Meta); err != nil {
			return nil, errors.Wrap(err, "unmarshal shipment metadata")
		}
	}
	return &sh, nil
}

// CreateOrGetShipments регистрирует отправления. Уже существующий активный
// трек (organization_id, tracking_number) не дублируется — возвращается
// существующая строка.
func (s *Storage) CreateOrGetShipments(ctx context.Context, orgID string, items []models.ShipmentCreateInput, carrierCodeFor func(string) string) ([]*models.Shipment, error) {
	now := time.Now().UTC()

	out := make([]*models.Shipment, 0, len(items))
	for _, it := range items {
		sh := &models.Shipment{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			TrackingNumber: it.TrackingNumber,
			TrackingType:   it.TrackingType,
			CarrierName:    it.CarrierName,
			CarrierCode:    carrierCodeFor(it.CarrierName),
			Status:         models.StatusRegistered,
			Active:         true,
			NextCheckAt:    now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		tag, err := s.db.Exec(ctx, `
INSERT INTO shipments (
  id, organization_id, tracking_number, tracking_type,
  carrier_code, carrier_name, status, active,
  next_check_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,$8,$9,$9)
ON CONFLICT (organization_id, tracking_number) WHERE active DO NOTHING
`, sh.ID, sh.OrganizationID, sh.TrackingNumber, sh.TrackingType,
			sh.CarrierCode, sh.CarrierName, sh.Status, sh.NextCheckAt, now)
		if err != nil {
			return nil, errors.Wrap(err, "insert shipment")
		}

		if tag.RowsAffected() == 0 {
			// Конфликт уникальности — штатный исход "уже отслеживается".
			existing, err := s.GetByTrackingNumber(ctx, orgID, it.TrackingNumber, true)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				out = append(out, existing)
				continue
			}
		}
		out = append(out, sh)
	}

	return out, nil
}

// Insert пишет полную строку отправления (bulk import). Гонка двух
// параллельных импортов схлопывается на частичном уникальном индексе:
// второй insert — штатный no-op, возвращается false.
func (s *Storage) Insert(ctx context.Context, sh *models.Shipment) (bool, error) {
	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = now
	}
	if sh.NextCheckAt.IsZero() {
		sh.NextCheckAt = now
	}

	meta, err := json.Marshal(sh.Meta)
	if err != nil {
		return false, errors.Wrap(err, "marshal shipment metadata")
	}

	tag, err := s.db.Exec(ctx, `
INSERT INTO shipments (
  id, organization_id, tracking_number, tracking_type,
  carrier_code, carrier_name, status, active,
  last_event_date, last_event_location, last_event_description,
  eta, ata, vessel_name, voyage_number,
  metadata, next_check_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
ON CONFLICT (organization_id, tracking_number) WHERE active DO NOTHING
`, sh.ID, sh.OrganizationID, sh.TrackingNumber, sh.TrackingType,
		sh.CarrierCode, sh.CarrierName, sh.Status,
		sh.LastEventDate, sh.LastEventLocation, sh.LastEventDescription,
		sh.ETA, sh.ATA, sh.VesselName, sh.VoyageNumber,
		meta, sh.NextCheckAt, sh.CreatedAt)
	if err != nil {
		return false, errors.Wrap(err, "insert shipment")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Storage) GetByID(ctx context.Context, id string) (*models.Shipment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id)
	sh, err := scanShipment(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

func (s *Storage) GetByTrackingNumber(ctx context.Context, orgID, trackingNumber string, active bool) (*models.Shipment, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE organization_id = $1 AND tracking_number = $2 AND active = $3
ORDER BY updated_at DESC
LIMIT 1
`, orgID, trackingNumber, active)
	sh, err := scanShipment(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by number")
	}
	return sh, nil
}

// GetByProviderRef ищет отправление по внутреннему id провайдера из metadata
// (webhook'и часто присылают только его).
func (s *Storage) GetByProviderRef(ctx context.Context, orgID, providerShipmentID string) (*models.Shipment, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE organization_id = $1 AND active AND metadata->>'providerShipmentId' = $2
LIMIT 1
`, orgID, providerShipmentID)
	sh, err := scanShipment(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by provider ref")
	}
	return sh, nil
}

// UpdateShipment перезаписывает денормализованные поля и metadata.
func (s *Storage) UpdateShipment(ctx context.Context, sh *models.Shipment) error {
	meta, err := json.Marshal(sh.Meta)
	if err != nil {
		return errors.Wrap(err, "marshal shipment metadata")
	}

	_, err = s.db.Exec(ctx, `
UPDATE shipments
SET
  tracking_type = $2,
  carrier_code = $3,
  carrier_name = $4,
  status = $5,
  active = $6,
  last_event_date = $7,
  last_event_location = $8,
  last_event_description = $9,
  eta = $10,
  ata = $11,
  vessel_name = $12,
  voyage_number = $13,
  metadata = $14,
  updated_at = now()
WHERE id = $1
`, sh.ID, sh.TrackingType, sh.CarrierCode, sh.CarrierName,
		sh.Status, sh.Active,
		sh.LastEventDate, sh.LastEventLocation, sh.LastEventDescription,
		sh.ETA, sh.ATA, sh.VesselName, sh.VoyageNumber, meta)
	return errors.Wrap(err, "update shipment")
}

// SoftDelete помечает отправление неактивным и пишет псевдособытие DELETED
// с указанием, кто удалил.
func (s *Storage) SoftDelete(ctx context.Context, id, actor string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
UPDATE shipments
SET active = FALSE,
    metadata = COALESCE(metadata, '{}'::jsonb)
      || jsonb_build_object('deletedBy', $2::text, 'deletedAt', $3::text),
    updated_at = now()
WHERE id = $1
`, id, actor, now.Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "soft delete shipment")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO shipment_events (shipment_id, event_type, event_date, description, data_source, confidence_score, created_at)
VALUES ($1, $2, $3, $4, $5, 1, now())
ON CONFLICT (shipment_id, event_type, event_date) DO NOTHING
`, id, models.EventDeleted, now, "Deleted by "+actor, "manual")
	if err != nil {
		return errors.Wrap(err, "insert deleted event")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// Reactivate возвращает soft-deleted отправление в строй: перезаписывает
// поля новыми данными, ставит active и вычищает устаревшие DELETED-события.
func (s *Storage) Reactivate(ctx context.Context, sh *models.Shipment) error {
	now := time.Now().UTC()
	t := now
	sh.Meta.ReactivatedAt = &t
	sh.Active = true

	meta, err := json.Marshal(sh.Meta)
	if err != nil {
		return errors.Wrap(err, "marshal shipment metadata")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
UPDATE shipments
SET
  tracking_type = $2,
  carrier_code = $3,
  carrier_name = $4,
  status = $5,
  active = TRUE,
  last_event_date = $6,
  last_event_location = $7,
  last_event_description = $8,
  eta = $9,
  ata = $10,
  vessel_name = $11,
  voyage_number = $12,
  metadata = $13,
  next_check_at = $14,
  check_fail_count = 0,
  updated_at = now()
WHERE id = $1
`, sh.ID, sh.TrackingType, sh.CarrierCode, sh.CarrierName, sh.Status,
		sh.LastEventDate, sh.LastEventLocation, sh.LastEventDescription,
		sh.ETA, sh.ATA, sh.VesselName, sh.VoyageNumber, meta, now)
	if err != nil {
		return errors.Wrap(err, "reactivate shipment")
	}

	_, err = tx.Exec(ctx, `DELETE FROM shipment_events WHERE shipment_id = $1 AND event_type = $2`,
		sh.ID, models.EventDeleted)
	if err != nil {
		return errors.Wrap(err, "purge deleted events")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// ClaimDueShipments выбирает пачку отправлений, готовых к сверке, и "бронирует"
// их через lease, чтобы параллельные воркеры не взяли те же строки.
// SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE active
  AND next_check_at <= $1
  AND status NOT IN ($2, $3)
ORDER BY next_check_at ASC
LIMIT $4
FOR UPDATE SKIP LOCKED
`, now.UTC(), models.StatusDelivered, models.StatusCancelled, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due shipments")
	}
	defer rows.Close()

	var picked []*models.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due shipment")
		}
		picked = append(picked, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, sh := range picked {
		_, err := tx.Exec(ctx, `UPDATE shipments SET next_check_at = $2, updated_at = now() WHERE id = $1`, sh.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease shipment")
		}
		sh.NextCheckAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// ScheduleNextCheck выставляет время следующей сверки и счётчик неудач.
func (s *Storage) ScheduleNextCheck(ctx context.Context, id string, at time.Time, failCount int32) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments SET next_check_at = $2, check_fail_count = $3, updated_at = now() WHERE id = $1
`, id, at.UTC(), failCount)
	return errors.Wrap(err, "schedule next check")
}

// MarkDue сдвигает next_check_at в "сейчас" (ручной refresh через API).
func (s *Storage) MarkDue(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE shipments SET next_check_at = now(), updated_at = now() WHERE id = $1`, id)
	return errors.Wrap(err, "mark shipment due")
}
