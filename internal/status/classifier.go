package status

import (
	"strings"

	"github.com/HarborPulse/ShipWatch/internal/models"
)

// exactStatuses — известные строки статусов перевозчиков (DHL, FedEx, UPS, GLS,
// морской словарь ShipsGo; английский + итальянский). Ключи в нижнем регистре.
// Это единственная каноническая таблица: семейство "Out for Delivery"
// (включая "La spedizione è in consegna") маппится в out_for_delivery.
var exactStatuses = map[string]string{
	// регистрация / приём
	"registered":                      models.StatusRegistered,
	"booked":                          models.StatusRegistered,
	"booking confirmed":               models.StatusRegistered,
	"label created":                   models.StatusRegistered,
	"shipment information sent to fedex": models.StatusRegistered,
	"shipment information received":   models.StatusRegistered,
	"electronic information submitted": models.StatusRegistered,
	"order created":                   models.StatusRegistered,
	"order processed":                 models.StatusRegistered,
	"pre-transit":                     models.StatusRegistered,
	"spedizione creata":               models.StatusRegistered,
	"etichetta creata":                models.StatusRegistered,
	"la spedizione è stata creata":    models.StatusRegistered,
	"presa in carico":                 models.StatusRegistered,
	"untracked":                       models.StatusRegistered,

	// в пути
	"in transit":                    models.StatusInTransit,
	"transit":                       models.StatusInTransit,
	"on the way":                    models.StatusInTransit,
	"picked up":                     models.StatusInTransit,
	"shipment picked up":            models.StatusInTransit,
	"departed":                      models.StatusInTransit,
	"departed facility":             models.StatusInTransit,
	"departed fedex location":       models.StatusInTransit,
	"arrived at hub":                models.StatusInTransit,
	"arrived at fedex location":     models.StatusInTransit,
	"arrived at destination":        models.StatusInTransit,
	"at local fedex facility":       models.StatusInTransit,
	"processed at facility":         models.StatusInTransit,
	"left the origin":               models.StatusInTransit,
	"forwarded":                     models.StatusInTransit,
	"in sorting center":             models.StatusInTransit,
	"sailing":                       models.StatusInTransit,
	"loaded":                        models.StatusInTransit,
	"loaded on vessel":              models.StatusInTransit,
	"gate in":                       models.StatusInTransit,
	"gate out":                      models.StatusInTransit,
	"transhipment":                  models.StatusInTransit,
	"transshipment":                 models.StatusInTransit,
	"arrived":                       models.StatusInTransit,
	"vessel departed":               models.StatusInTransit,
	"vessel arrived":                models.StatusInTransit,
	"in consegna al corriere":       models.StatusInTransit,
	"in transito":                   models.StatusInTransit,
	"la spedizione è in transito":   models.StatusInTransit,
	"partita dalla sede del mittente": models.StatusInTransit,
	"arrivata nella sede":           models.StatusInTransit,
	"spedizione sdoganata":          models.StatusInTransit,
	"customs cleared":               models.StatusInTransit,
	"clearance completed":           models.StatusInTransit,
	"export customs clearance complete": models.StatusInTransit,

	// в доставке
	"out for delivery":                  models.StatusOutForDelivery,
	"on fedex vehicle for delivery":     models.StatusOutForDelivery,
	"on vehicle for delivery":           models.StatusOutForDelivery,
	"with delivery courier":             models.StatusOutForDelivery,
	"in consegna":                       models.StatusOutForDelivery,
	"la spedizione è in consegna":       models.StatusOutForDelivery,
	"uscita in consegna":                models.StatusOutForDelivery,

	// доставлено
	"delivered":                  models.StatusDelivered,
	"shipment delivered":         models.StatusDelivered,
	"delivered to recipient":     models.StatusDelivered,
	"proof of delivery":          models.StatusDelivered,
	"consegnato":                 models.StatusDelivered,
	"consegnata":                 models.StatusDelivered,
	"la spedizione è stata consegnata": models.StatusDelivered,
	"discharged":                 models.StatusDelivered,
	"discharged from vessel":     models.StatusDelivered,
	"scaricato":                  models.StatusDelivered,
	"empty returned":             models.StatusDelivered,
	"empty container returned":   models.StatusDelivered,

	// задержки
	"delayed":                    models.StatusDelayed,
	"shipment delayed":           models.StatusDelayed,
	"delivery delayed":           models.StatusDelayed,
	"clearance delay":            models.StatusDelayed,
	"customs hold":               models.StatusDelayed,
	"on hold":                    models.StatusDelayed,
	"held in customs":            models.StatusDelayed,
	"in giacenza":                models.StatusDelayed,
	"spedizione in ritardo":      models.StatusDelayed,
	"rollover":                   models.StatusDelayed,

	// проблемы
	"exception":                  models.StatusException,
	"delivery exception":         models.StatusException,
	"shipment exception":         models.StatusException,
	"failed delivery attempt":    models.StatusException,
	"returned to sender":         models.StatusException,
	"return to sender":           models.StatusException,
	"address problem":            models.StatusException,
	"incorrect address":          models.StatusException,
	"damaged":                    models.StatusException,
	"lost":                       models.StatusException,
	"consegna non riuscita":      models.StatusException,
	"eccezione":                  models.StatusException,

	// отмена
	"cancelled":                  models.StatusCancelled,
	"canceled":                   models.StatusCancelled,
	"booking cancelled":          models.StatusCancelled,
	"shipment cancelled":         models.StatusCancelled,
	"annullata":                  models.StatusCancelled,
	"spedizione annullata":       models.StatusCancelled,
}

// keywordFamilies — эвристика второго уровня. Порядок семейств фиксирован:
// первое семейство с совпадением выигрывает.
var keywordFamilies = []struct {
	status   string
	keywords []string
}{
	{models.StatusDelivered, []string{"delivered", "consegnat", "empty", "discharged", "scaricato"}},
	{models.StatusInTransit, []string{"transit", "sailing", "departed", "loaded", "arrived", "consegna", "on the way", "sdoganat"}},
	{models.StatusRegistered, []string{"creata", "created", "information sent", "registered", "booked"}},
	{models.StatusDelayed, []string{"delay", "ritardo", "hold", "customs"}},
	{models.StatusException, []string{"exception", "error", "problem", "returned"}},
}

// Classify нормализует произвольную строку статуса перевозчика в канонический
// статус. Алгоритм трёхуровневый: точная таблица, затем ключевые слова, затем
// дефолт по типу отслеживания. Всегда возвращает непустой статус.
func Classify(raw string, trackingType string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s != "" {
		if st, ok := exactStatuses[s]; ok {
			return st
		}
		for _, fam := range keywordFamilies {
			for _, kw := range fam.keywords {
				if strings.Contains(s, kw) {
					return fam.status
				}
			}
		}
	}

	switch trackingType {
	case models.TypeContainer, models.TypeBL:
		return models.StatusInTransit
	case models.TypeAWB, models.TypeParcel:
		return models.StatusRegistered
	}
	return models.StatusInTransit
}
