package provider

import "github.com/HarborPulse/ShipWatch/internal/models"

// Registry сопоставляет тип отслеживания / код перевозчика с клиентом
// провайдера. Заменяет диспетчеризацию по строкам.
type Registry struct {
	byCarrier map[string]Client
	byType    map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{
		byCarrier: map[string]Client{},
		byType:    map[string]Client{},
	}
}

// RegisterCarrier привязывает клиента к конкретному перевозчику (DHL, FEDEX...).
func (r *Registry) RegisterCarrier(carrierCode string, c Client) *Registry {
	r.byCarrier[carrierCode] = c
	return r
}

// RegisterType привязывает клиента к типу отслеживания (container/bl -> ShipsGo
// maritime, awb -> ShipsGo air и т.п.).
func (r *Registry) RegisterType(trackingType string, c Client) *Registry {
	r.byType[trackingType] = c
	return r
}

// For возвращает клиента для отправления: сперва по перевозчику, затем по типу.
func (r *Registry) For(sh *models.Shipment) (Client, bool) {
	if c, ok := r.byCarrier[sh.CarrierCode]; ok {
		return c, true
	}
	if c, ok := r.byType[sh.TrackingType]; ok {
		return c, true
	}
	return nil, false
}
