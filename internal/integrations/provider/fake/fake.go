package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/integrations/provider"
	"github.com/HarborPulse/ShipWatch/internal/models"
)

// Client — детерминированная заглушка провайдера для локальной разработки
// и нагрузочных прогонов. Статус зависит только от номера: часть отправлений
// оказывается доставленной, часть едет.
type Client struct{}

func New() *Client { return &Client{} }

func (f *Client) Track(ctx context.Context, trackingNumber string) (provider.Result, error) {
	now := time.Now().UTC()

	h := fnv.New32a()
	_, _ = h.Write([]byte(trackingNumber))
	v := h.Sum32()

	loading := now.Add(-10 * 24 * time.Hour)

	// 20% треков считаем доставленными
	res := provider.Result{
		StatusRaw:   "Sailing",
		LoadingDate: &loading,
		DataSource:  "fake",
		Confidence:  1.0,
	}

	res.Events = append(res.Events, provider.Event{
		Type:        models.EventDeparted,
		Date:        loading,
		Description: "fake departure",
	})

	if v%5 == 0 {
		discharge := now.Add(-24 * time.Hour)
		res.StatusRaw = "Delivered"
		res.DischargeDate = &discharge
		res.ATA = &discharge
		res.Events = append(res.Events, provider.Event{
			Type:        models.EventDelivered,
			Date:        discharge,
			Description: "fake delivery",
		})
	}

	return res, nil
}
