package events

import (
	"strings"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/integrations/provider"
	"github.com/HarborPulse/ShipWatch/internal/models"
)

const (
	// Confidence для событий, полученных от перевозчика как факт.
	ReportedConfidence = 1.0
	// Confidence для выведенной эвристикой "вероятной" доставки.
	EstimatedConfidence = 0.7

	defaultDeliveryOffset = 72 * time.Hour
)

// statusEventTypes — прямой маппинг сырого статуса в тип события-вехи.
var statusEventTypes = map[string]string{
	"gate in":                models.EventGateIn,
	"gate out":               models.EventGateOut,
	"loaded":                 models.EventLoadedOnVessel,
	"loaded on vessel":       models.EventLoadedOnVessel,
	"discharged":             models.EventDischargedFromVessel,
	"discharged from vessel": models.EventDischargedFromVessel,
	"sailing":                models.EventDeparted,
	"departed":               models.EventDeparted,
	"vessel departed":        models.EventDeparted,
	"arrived":                models.EventArrived,
	"vessel arrived":         models.EventArrived,
	"out for delivery":       models.EventOutForDelivery,
	"delivered":              models.EventDelivered,
	"empty returned":         models.EventEmptyReturned,
	"empty container returned": models.EventEmptyReturned,
}

// Synthesizer собирает канонические события из нормализованного ответа
// провайдера: прямые события, бэкфилл морских вех по датam погрузки/выгрузки
// и эвристическую "вероятную доставку".
type Synthesizer struct {
	deliveryOffset time.Duration
}

func NewSynthesizer(deliveryOffset time.Duration) *Synthesizer {
	if deliveryOffset <= 0 {
		deliveryOffset = defaultDeliveryOffset
	}
	return &Synthesizer{deliveryOffset: deliveryOffset}
}

// Synthesize возвращает набор событий, дедуплицированный по (eventType, eventDate).
// Первое вхождение выигрывает. Порядок внутри набора не гарантируется:
// выбор "самого свежего" события — забота вызывающего.
func (s *Synthesizer) Synthesize(shipmentID, trackingType string, res provider.Result, now time.Time) []*models.TrackingEvent {
	var out []*models.TrackingEvent

	source := res.DataSource
	if source == "" {
		source = provider.SourceSystem
	}
	confidence := res.Confidence
	if confidence <= 0 {
		confidence = ReportedConfidence
	}

	for _, e := range res.Events {
		out = append(out, &models.TrackingEvent{
			ShipmentID:      shipmentID,
			EventType:       normalizeEventType(e.Type, e.Description),
			EventCode:       e.Code,
			EventDate:       e.Date.UTC(),
			LocationName:    e.LocationName,
			LocationCode:    e.LocationCode,
			Description:     e.Description,
			VesselName:      e.VesselName,
			VesselIMO:       e.VesselIMO,
			VoyageNumber:    e.VoyageNumber,
			DataSource:      source,
			ConfidenceScore: confidence,
		})
	}

	// Текущий статус провайдера как событие-веха, если для него есть дата.
	if t, ok := statusEventTypes[strings.ToLower(strings.TrimSpace(res.StatusRaw))]; ok {
		if d := milestoneDate(t, res, now); d != nil {
			out = append(out, &models.TrackingEvent{
				ShipmentID:      shipmentID,
				EventType:       t,
				EventDate:       d.UTC(),
				Description:     res.StatusRaw,
				VesselName:      res.VesselName,
				VoyageNumber:    res.VoyageNumber,
				DataSource:      source,
				ConfidenceScore: confidence,
			})
		}
	}

	// Морской бэкфилл: вехи погрузки/выгрузки восстанавливаются по датам
	// независимо от текущей строки статуса.
	maritime := trackingType == models.TypeContainer || trackingType == models.TypeBL
	if maritime && res.LoadingDate != nil && res.LoadingDate.Before(now) {
		out = append(out, &models.TrackingEvent{
			ShipmentID:      shipmentID,
			EventType:       models.EventLoadedOnVessel,
			EventDate:       res.LoadingDate.UTC(),
			Description:     "Loaded on vessel",
			VesselName:      res.VesselName,
			VoyageNumber:    res.VoyageNumber,
			DataSource:      source,
			ConfidenceScore: confidence,
		})
	}
	if maritime && res.DischargeDate != nil && res.DischargeDate.Before(now) {
		out = append(out, &models.TrackingEvent{
			ShipmentID:      shipmentID,
			EventType:       models.EventDischargedFromVessel,
			EventDate:       res.DischargeDate.UTC(),
			Description:     "Discharged from vessel",
			VesselName:      res.VesselName,
			VoyageNumber:    res.VoyageNumber,
			DataSource:      source,
			ConfidenceScore: confidence,
		})
	}

	// Выгрузка в прошлом без явного сигнала доставки -> "вероятно доставлено".
	// Дата оценочная (выгрузка + offset), confidence ниже фактических событий.
	if maritime && res.DischargeDate != nil && res.DischargeDate.Before(now) && !hasDelivered(out) {
		out = append(out, &models.TrackingEvent{
			ShipmentID:      shipmentID,
			EventType:       models.EventDelivered,
			EventDate:       res.DischargeDate.Add(s.deliveryOffset).UTC(),
			Description:     "Estimated delivery (inferred from discharge date)",
			DataSource:      source,
			ConfidenceScore: EstimatedConfidence,
		})
	}

	return Dedup(out)
}

// TransitTimeDays считает время в пути (дни между погрузкой и выгрузкой).
// nil, если какой-то из дат нет.
func TransitTimeDays(res provider.Result) *int {
	if res.LoadingDate == nil || res.DischargeDate == nil {
		return nil
	}
	d := int(res.DischargeDate.Sub(*res.LoadingDate).Hours() / 24)
	return &d
}

// Dedup схлопывает события по ключу (eventType, eventDate); первое выигрывает.
func Dedup(evs []*models.TrackingEvent) []*models.TrackingEvent {
	type key struct {
		t string
		d int64
	}
	seen := make(map[key]struct{}, len(evs))
	out := make([]*models.TrackingEvent, 0, len(evs))
	for _, e := range evs {
		k := key{t: e.EventType, d: e.EventDate.UTC().Unix()}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Latest возвращает хронологически последнее событие набора (nil для пустого).
func Latest(evs []*models.TrackingEvent) *models.TrackingEvent {
	var latest *models.TrackingEvent
	for _, e := range evs {
		if latest == nil || e.EventDate.After(latest.EventDate) {
			latest = e
		}
	}
	return latest
}

func hasDelivered(evs []*models.TrackingEvent) bool {
	for _, e := range evs {
		if e.EventType == models.EventDelivered {
			return true
		}
	}
	return false
}

func normalizeEventType(raw, description string) string {
	t := strings.ToUpper(strings.TrimSpace(raw))
	switch t {
	case models.EventRegistered, models.EventGateIn, models.EventGateOut,
		models.EventLoadedOnVessel, models.EventDischargedFromVessel,
		models.EventDeparted, models.EventArrived, models.EventOutForDelivery,
		models.EventDelivered, models.EventEmptyReturned, models.EventDeleted,
		models.EventException, models.EventDelayed, models.EventCancelled:
		return t
	}
	if mapped, ok := statusEventTypes[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	if mapped, ok := statusEventTypes[strings.ToLower(strings.TrimSpace(description))]; ok {
		return mapped
	}
	return models.EventOther
}

func milestoneDate(eventType string, res provider.Result, now time.Time) *time.Time {
	switch eventType {
	case models.EventLoadedOnVessel, models.EventDeparted:
		if res.LoadingDate != nil && res.LoadingDate.Before(now) {
			return res.LoadingDate
		}
	case models.EventDischargedFromVessel, models.EventArrived:
		if res.DischargeDate != nil && res.DischargeDate.Before(now) {
			return res.DischargeDate
		}
		if res.ATA != nil && res.ATA.Before(now) {
			return res.ATA
		}
	case models.EventDelivered:
		if res.ATA != nil && res.ATA.Before(now) {
			return res.ATA
		}
		return &now
	case models.EventOutForDelivery, models.EventGateIn, models.EventGateOut, models.EventEmptyReturned:
		return &now
	}
	return nil
}
