package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/broker/messages"
	"github.com/HarborPulse/ShipWatch/internal/events"
	"github.com/HarborPulse/ShipWatch/internal/integrations/provider"
	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/HarborPulse/ShipWatch/internal/status"
	"github.com/pkg/errors"
)

const (
	defaultStaleness = 15 * time.Minute

	SkipFresh      = "fresh"
	SkipTerminal   = "terminal"
	SkipNoProvider = "no_provider"
)

type Repository interface {
	InsertEvents(ctx context.Context, evs []*models.TrackingEvent) (int, error)
	UpdateShipment(ctx context.Context, sh *models.Shipment) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// transitionEvents: смена канонического статуса порождает отдельное событие
// (в дополнение к вехам синтезатора). registered/in_transit событий смены
// не порождают — их историю несут вехи.
var transitionEvents = map[string]string{
	models.StatusOutForDelivery: models.EventOutForDelivery,
	models.StatusDelivered:      models.EventDelivered,
	models.StatusException:      models.EventException,
	models.StatusDelayed:        models.EventDelayed,
	models.StatusCancelled:      models.EventCancelled,
}

// Outcome — результат одного цикла сверки.
type Outcome struct {
	Shipment *models.Shipment
	Events   []*models.TrackingEvent
	Inserted int

	// Skipped непуст, если сверка не выполнялась (guard сработал).
	Skipped string
	// ProviderFailed: провайдер не ответил; запись осталась без обновления,
	// ошибка зафиксирована в metadata.
	ProviderFailed bool
}

// Engine — машина состояний сверки: guards, опрос провайдера, классификация,
// синтез событий, запись. События вставляются ДО обновления строки
// отправления: упавшая посередине сверка оставит сироту-событие, но никогда —
// отправление, ссылающееся на несуществующее событие.
type Engine struct {
	repo      Repository
	providers *provider.Registry
	synth     *events.Synthesizer
	producer  Producer
	topic     string

	staleness time.Duration
	now       func() time.Time
}

func NewEngine(repo Repository, providers *provider.Registry, synth *events.Synthesizer) *Engine {
	return &Engine{
		repo:      repo,
		providers: providers,
		synth:     synth,
		staleness: defaultStaleness,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithProducer включает публикацию shipment.updated после успешной сверки.
func (e *Engine) WithProducer(p Producer, topic string) *Engine {
	e.producer = p
	e.topic = topic
	return e
}

func (e *Engine) WithStaleness(d time.Duration) *Engine {
	if d > 0 {
		e.staleness = d
	}
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

func (e *Engine) Reconcile(ctx context.Context, sh *models.Shipment, force bool) (Outcome, error) {
	now := e.now()

	// Guard 1: недавно обновлялись — не дёргаем rate-limited провайдера.
	if !force && sh.Meta.LastAPIUpdate != nil && now.Sub(*sh.Meta.LastAPIUpdate) < e.staleness {
		return Outcome{Shipment: sh, Skipped: SkipFresh}, nil
	}
	// Guard 2: терминальный статус залипает.
	if !force && models.IsTerminal(sh.Status) {
		return Outcome{Shipment: sh, Skipped: SkipTerminal}, nil
	}

	client, ok := e.providers.For(sh)
	if !ok {
		return Outcome{Shipment: sh, Skipped: SkipNoProvider}, nil
	}

	res, err := client.Track(ctx, sh.TrackingNumber)
	if err != nil {
		// Отказ провайдера не фатален: фиксируем в metadata и выходим.
		sh.Meta.LastAPIError = &models.APIError{At: now, Message: err.Error(), Type: sh.TrackingType}
		if uerr := e.repo.UpdateShipment(ctx, sh); uerr != nil {
			return Outcome{Shipment: sh, ProviderFailed: true}, errors.Wrap(uerr, "record provider failure")
		}
		slog.Warn("provider call failed", "shipment_id", sh.ID, "carrier", sh.CarrierCode, "error", err.Error())
		return Outcome{Shipment: sh, ProviderFailed: true}, nil
	}

	oldStatus := sh.Status
	newStatus := status.Classify(res.StatusRaw, sh.TrackingType)

	evs := e.synth.Synthesize(sh.ID, sh.TrackingType, res, now)
	if newStatus != oldStatus {
		if t, ok := transitionEvents[newStatus]; ok {
			evs = append(evs, &models.TrackingEvent{
				ShipmentID:      sh.ID,
				EventType:       t,
				EventDate:       now,
				Description:     res.StatusRaw,
				DataSource:      res.DataSource,
				ConfidenceScore: events.ReportedConfidence,
			})
		}
	}
	evs = events.Dedup(evs)

	inserted, err := e.repo.InsertEvents(ctx, evs)
	if err != nil {
		sh.Meta.LastAPIError = &models.APIError{At: now, Message: err.Error(), Type: "persistence"}
		_ = e.repo.UpdateShipment(ctx, sh)
		return Outcome{Shipment: sh}, errors.Wrap(err, "insert events")
	}

	sh.Status = newStatus
	if latest := events.Latest(evs); latest != nil {
		d := latest.EventDate
		sh.LastEventDate = &d
		sh.LastEventLocation = latest.LocationName
		sh.LastEventDescription = latest.Description
	}
	if res.ETA != nil {
		sh.ETA = res.ETA
	}
	if res.ATA != nil {
		sh.ATA = res.ATA
	}
	if res.VesselName != "" {
		sh.VesselName = res.VesselName
	}
	if res.VoyageNumber != "" {
		sh.VoyageNumber = res.VoyageNumber
	}
	if res.ProviderShipmentID != "" {
		sh.Meta.ProviderShipmentID = res.ProviderShipmentID
	}
	if d := events.TransitTimeDays(res); d != nil {
		sh.Meta.TransitTimeDays = d
	}
	t := now
	sh.Meta.LastAPIUpdate = &t
	sh.Meta.LastAPIError = nil
	sh.Meta.ProviderPayload = res.Raw

	if err := e.repo.UpdateShipment(ctx, sh); err != nil {
		return Outcome{Shipment: sh, Events: evs, Inserted: inserted}, errors.Wrap(err, "update shipment")
	}

	out := Outcome{Shipment: sh, Events: evs, Inserted: inserted}
	e.publish(ctx, out, now)
	return out, nil
}

// publish — best effort: потеря нотификации не ломает сверку.
func (e *Engine) publish(ctx context.Context, out Outcome, now time.Time) {
	if e.producer == nil || e.topic == "" {
		return
	}
	msg := messages.ShipmentUpdated{
		ShipmentID:     out.Shipment.ID,
		OrganizationID: out.Shipment.OrganizationID,
		Status:         out.Shipment.Status,
		CheckedAt:      now,
		EventsInserted: out.Inserted,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := e.producer.Publish(ctx, e.topic, []byte(out.Shipment.ID), b); err != nil {
		slog.Error("publish shipment.updated", "shipment_id", out.Shipment.ID, "error", err.Error())
	}
}
