package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/broker/messages"
	"github.com/HarborPulse/ShipWatch/internal/cache"
	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/HarborPulse/ShipWatch/internal/services/reconcile"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrGetShipments(ctx context.Context, orgID string, items []models.ShipmentCreateInput, carrierCodeFor func(string) string) ([]*models.Shipment, error)
	GetByID(ctx context.Context, id string) (*models.Shipment, error)
	ListEvents(ctx context.Context, shipmentID string, limit, offset int) ([]*models.TrackingEvent, error)
	SoftDelete(ctx context.Context, id, actor string) error
	MarkDue(ctx context.Context, id string) error
}

// Service — операции чтения/регистрации отправлений для API-слоя. Текущее
// состояние кэшируется в redis целиком как JSON; кэш — best effort.
type Service struct {
	repo       Repository
	engine     *reconcile.Engine
	cache      cache.BytesCache
	currentTTL time.Duration

	carrierCodeFor func(string) string
}

func New(repo Repository, engine *reconcile.Engine, c cache.BytesCache, currentTTL time.Duration, carrierCodeFor func(string) string) *Service {
	return &Service{
		repo:           repo,
		engine:         engine,
		cache:          c,
		currentTTL:     currentTTL,
		carrierCodeFor: carrierCodeFor,
	}
}

// Register регистрирует пачку отправлений. Дубликаты внутри запроса
// схлопываются, существующие активные записи возвращаются как есть.
func (s *Service) Register(ctx context.Context, orgID string, items []models.ShipmentCreateInput) ([]*models.Shipment, error) {
	if orgID == "" {
		return nil, errors.New("organizationId is required")
	}
	if len(items) == 0 {
		return nil, errors.New("items is empty")
	}
	if len(items) > 10_000 {
		return nil, errors.New("too many items (max 10000)")
	}

	clean := make([]models.ShipmentCreateInput, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		it.TrackingNumber = strings.ToUpper(strings.TrimSpace(it.TrackingNumber))
		if it.TrackingNumber == "" {
			return nil, errors.New("trackingNumber is required")
		}
		switch it.TrackingType {
		case models.TypeContainer, models.TypeBL, models.TypeAWB, models.TypeParcel:
		case "":
			it.TrackingType = models.TypeParcel
		default:
			return nil, fmt.Errorf("unknown trackingType %q", it.TrackingType)
		}
		if _, ok := seen[it.TrackingNumber]; ok {
			continue
		}
		seen[it.TrackingNumber] = struct{}{}
		clean = append(clean, it)
	}

	return s.repo.CreateOrGetShipments(ctx, orgID, clean, s.carrierCodeFor)
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.Shipment, error) {
	if id == "" {
		return nil, errors.New("shipmentId is required")
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(id)); err == nil && ok {
			var sh models.Shipment
			if json.Unmarshal(b, &sh) == nil {
				return &sh, nil
			}
		}
	}

	sh, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheCurrent(ctx, sh)
	return sh, nil
}

func (s *Service) ListEvents(ctx context.Context, shipmentID string, limit, offset int) ([]*models.TrackingEvent, error) {
	if shipmentID == "" {
		return nil, errors.New("shipmentId is required")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEvents(ctx, shipmentID, limit, offset)
}

// Refresh — принудительная сверка: guards свежести и терминальности
// игнорируются, следующая плановая проверка сдвигается на "сейчас".
func (s *Service) Refresh(ctx context.Context, id string) (*models.Shipment, error) {
	sh, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sh == nil {
		return nil, nil
	}

	out, err := s.engine.Reconcile(ctx, sh, true)
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkDue(ctx, id); err != nil {
		return nil, errors.Wrap(err, "mark due")
	}

	s.cacheCurrent(ctx, out.Shipment)
	return out.Shipment, nil
}

// Delete — мягкое удаление: запись деактивируется, история событий остаётся,
// номер освобождается для повторной регистрации.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	if id == "" {
		return errors.New("shipmentId is required")
	}
	if err := s.repo.SoftDelete(ctx, id, actor); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, currentKey(id))
	}
	return nil
}

// ApplyUpdatedMessage обрабатывает shipment.updated от воркера: перечитывает
// запись из БД и обновляет кэш текущего состояния.
func (s *Service) ApplyUpdatedMessage(ctx context.Context, msg messages.ShipmentUpdated) error {
	if msg.ShipmentID == "" {
		return errors.New("shipment_id is required")
	}
	sh, err := s.repo.GetByID(ctx, msg.ShipmentID)
	if err != nil {
		return err
	}
	s.cacheCurrent(ctx, sh)
	return nil
}

func (s *Service) cacheCurrent(ctx context.Context, sh *models.Shipment) {
	if s.cache == nil || s.currentTTL <= 0 || sh == nil {
		return
	}
	b, err := json.Marshal(sh)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, currentKey(sh.ID), b, s.currentTTL)
}

func currentKey(id string) string {
	return fmt.Sprintf("shipment:%s:current", id)
}
