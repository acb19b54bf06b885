package status

import (
	"testing"

	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClassify_ExactTable(t *testing.T) {
	cases := map[string]string{
		"Delivered":                   models.StatusDelivered,
		"delivered to recipient":      models.StatusDelivered,
		"Consegnato":                  models.StatusDelivered,
		"Empty Returned":              models.StatusDelivered,
		"Sailing":                     models.StatusInTransit,
		"Loaded on vessel":            models.StatusInTransit,
		"La spedizione è in transito": models.StatusInTransit,
		"Customs cleared":             models.StatusInTransit,
		"Out for Delivery":            models.StatusOutForDelivery,
		"La spedizione è in consegna": models.StatusOutForDelivery,
		"In consegna":                 models.StatusOutForDelivery,
		"Label created":               models.StatusRegistered,
		"Spedizione creata":           models.StatusRegistered,
		"Customs hold":                models.StatusDelayed,
		"Rollover":                    models.StatusDelayed,
		"Returned to sender":          models.StatusException,
		"Consegna non riuscita":       models.StatusException,
		"Booking cancelled":           models.StatusCancelled,
		"Annullata":                   models.StatusCancelled,
	}
	for raw, want := range cases {
		require.Equal(t, want, Classify(raw, ""), "raw=%q", raw)
	}
}

func TestClassify_CaseAndWhitespaceInsensitive(t *testing.T) {
	require.Equal(t, models.StatusDelivered, Classify("  DELIVERED  ", ""))
	require.Equal(t, models.StatusInTransit, Classify("IN TRANSIT", ""))
}

func TestClassify_KeywordFallback(t *testing.T) {
	// Нет в точной таблице, срабатывают ключевые слова.
	require.Equal(t, models.StatusDelivered, Classify("Package was delivered at front door", ""))
	require.Equal(t, models.StatusInTransit, Classify("Vessel still sailing towards POD", ""))
	require.Equal(t, models.StatusDelayed, Classify("Weather delay at hub", ""))
	require.Equal(t, models.StatusException, Classify("Unexpected error during handling", ""))
}

func TestClassify_KeywordFamilyOrder(t *testing.T) {
	// "delivered" и "transit" в одной строке: семейство delivered выигрывает.
	require.Equal(t, models.StatusDelivered, Classify("delivered after long transit", ""))
	// "consegnat" (delivered) против "consegna" (in_transit family).
	require.Equal(t, models.StatusDelivered, Classify("pacco consegnato al destinatario", ""))
}

func TestClassify_TypeDefaults(t *testing.T) {
	require.Equal(t, models.StatusInTransit, Classify("", models.TypeContainer))
	require.Equal(t, models.StatusInTransit, Classify("", models.TypeBL))
	require.Equal(t, models.StatusRegistered, Classify("", models.TypeAWB))
	require.Equal(t, models.StatusRegistered, Classify("", models.TypeParcel))
	require.Equal(t, models.StatusInTransit, Classify("", ""))
}

func TestClassify_UnknownStringNeverEmpty(t *testing.T) {
	// Полностью неизвестная строка: и таблица, и ключевые слова мимо,
	// берётся дефолт по типу.
	require.Equal(t, models.StatusInTransit, Classify("zzz qqq", models.TypeContainer))
	require.Equal(t, models.StatusRegistered, Classify("zzz qqq", models.TypeParcel))
	require.Equal(t, models.StatusInTransit, Classify("zzz qqq", ""))
}
