package messages

import "time"

// ShipmentUpdated публикуется после успешной сверки отправления.
// Потребители (ship-api) по нему обновляют кэш текущего состояния.
type ShipmentUpdated struct {
	ShipmentID     string    `json:"shipment_id"`
	OrganizationID string    `json:"organization_id"`
	Status         string    `json:"status"`
	CheckedAt      time.Time `json:"checked_at"`
	EventsInserted int       `json:"events_inserted"`
}
