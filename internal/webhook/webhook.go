package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/HarborPulse/ShipWatch/internal/status"
	"github.com/pkg/errors"
)

// ErrBadSignature возвращается при несовпадении HMAC-подписи: запрос
// отклоняется целиком, ничего не персистится.
var ErrBadSignature = errors.New("webhook signature mismatch")

// ErrShipmentNotFound: идентификатор из payload не привязан ни к одному
// активному отправлению.
var ErrShipmentNotFound = errors.New("shipment not found for webhook payload")

type Repository interface {
	GetByTrackingNumber(ctx context.Context, orgID, trackingNumber string, active bool) (*models.Shipment, error)
	GetByProviderRef(ctx context.Context, orgID, providerShipmentID string) (*models.Shipment, error)
	InsertEvents(ctx context.Context, evs []*models.TrackingEvent) (int, error)
	UpdateShipment(ctx context.Context, sh *models.Shipment) error
}

// Payload — входящее webhook-событие провайдера. Либо tracking_number,
// либо его внутренний shipment id.
type Payload struct {
	OrganizationID     string    `json:"organization_id"`
	TrackingNumber     string    `json:"tracking_number,omitempty"`
	ProviderShipmentID string    `json:"provider_shipment_id,omitempty"`
	EventType          string    `json:"event_type"`
	EventDate          time.Time `json:"event_date"`
	Location           string    `json:"location,omitempty"`
	Description        string    `json:"description,omitempty"`
	Status             string    `json:"status,omitempty"`
}

// Смена статуса по типу события webhook. Payload считается авторитетным:
// терминальность не проверяется.
var eventStatuses = map[string]string{
	models.EventOutForDelivery: models.StatusOutForDelivery,
	models.EventDelivered:      models.StatusDelivered,
	models.EventException:      models.StatusException,
	models.EventDelayed:        models.StatusDelayed,
	models.EventCancelled:      models.StatusCancelled,
}

// Handler принимает единичные события от провайдеров. Это не полная сверка:
// одно событие вставляется и денормализованные поля обновляются напрямую.
type Handler struct {
	repo     Repository
	secret   string
	provider string
}

func New(repo Repository, providerName, secret string) *Handler {
	return &Handler{repo: repo, provider: providerName, secret: secret}
}

// Verify проверяет HMAC-SHA256 подпись сырого тела. Пустой секрет — проверка
// выключена (доверенная сеть).
func (h *Handler) Verify(signatureHex string, body []byte) error {
	if h.secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	want := mac.Sum(nil)

	got, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "sha256="))
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(want, got) {
		return ErrBadSignature
	}
	return nil
}

// Apply вставляет событие и обновляет отправление. Возвращает обновлённую
// запись.
func (h *Handler) Apply(ctx context.Context, p Payload) (*models.Shipment, error) {
	if p.EventType == "" {
		return nil, errors.New("event_type is required")
	}
	if p.TrackingNumber == "" && p.ProviderShipmentID == "" {
		return nil, errors.New("tracking_number or provider_shipment_id is required")
	}

	var sh *models.Shipment
	var err error
	if p.TrackingNumber != "" {
		sh, err = h.repo.GetByTrackingNumber(ctx, p.OrganizationID, strings.ToUpper(p.TrackingNumber), true)
		if err != nil {
			return nil, err
		}
	}
	if sh == nil && p.ProviderShipmentID != "" {
		sh, err = h.repo.GetByProviderRef(ctx, p.OrganizationID, p.ProviderShipmentID)
		if err != nil {
			return nil, err
		}
	}
	if sh == nil {
		return nil, ErrShipmentNotFound
	}

	eventDate := p.EventDate
	if eventDate.IsZero() {
		eventDate = time.Now().UTC()
	}

	ev := &models.TrackingEvent{
		ShipmentID:      sh.ID,
		EventType:       strings.ToUpper(strings.TrimSpace(p.EventType)),
		EventDate:       eventDate.UTC(),
		LocationName:    p.Location,
		Description:     p.Description,
		DataSource:      h.provider + "_webhook",
		ConfidenceScore: 1.0,
	}
	if _, err := h.repo.InsertEvents(ctx, []*models.TrackingEvent{ev}); err != nil {
		return nil, errors.Wrap(err, "insert webhook event")
	}

	// События вставлены — теперь денормализация.
	if sh.LastEventDate == nil || ev.EventDate.After(*sh.LastEventDate) {
		d := ev.EventDate
		sh.LastEventDate = &d
		sh.LastEventLocation = ev.LocationName
		sh.LastEventDescription = ev.Description
	}
	if st, ok := eventStatuses[ev.EventType]; ok {
		sh.Status = st
	} else if p.Status != "" {
		sh.Status = status.Classify(p.Status, sh.TrackingType)
	}
	now := time.Now().UTC()
	sh.Meta.LastAPIUpdate = &now

	if err := h.repo.UpdateShipment(ctx, sh); err != nil {
		return nil, errors.Wrap(err, "update shipment")
	}
	return sh, nil
}
