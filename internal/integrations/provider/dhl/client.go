package dhl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/integrations/provider"
	"github.com/pkg/errors"
)

// Client — адаптер DHL Shipment Tracking Unified API (ключ в заголовке).
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api-eu.dhl.com"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type trackResp struct {
	Shipments []struct {
		ID     string `json:"id"`
		Status struct {
			Timestamp   string `json:"timestamp"`
			Status      string `json:"status"`
			Description string `json:"description"`
		} `json:"status"`
		EstimatedTimeOfDelivery string `json:"estimatedTimeOfDelivery"`
		Events                  []struct {
			Timestamp   string `json:"timestamp"`
			StatusCode  string `json:"statusCode"`
			Status      string `json:"status"`
			Description string `json:"description"`
			Location    struct {
				Address struct {
					AddressLocality string `json:"addressLocality"`
				} `json:"address"`
			} `json:"location"`
		} `json:"events"`
	} `json:"shipments"`
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (provider.Result, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "parse base url")
	}
	u.Path += "/track/shipments"
	q := u.Query()
	q.Set("trackingNumber", trackingNumber)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("DHL-API-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return provider.Result{}, fmt.Errorf("dhl rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return provider.Result{}, fmt.Errorf("dhl http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "read body")
	}

	var tr trackResp
	if err := json.Unmarshal(raw, &tr); err != nil {
		return provider.Result{}, errors.Wrap(err, "decode")
	}
	if len(tr.Shipments) == 0 {
		return provider.Result{}, errors.New("dhl: no shipments in response")
	}
	s := tr.Shipments[0]

	statusRaw := s.Status.Description
	if statusRaw == "" {
		statusRaw = s.Status.Status
	}

	out := provider.Result{
		StatusRaw:          statusRaw,
		ETA:                parseTime(s.EstimatedTimeOfDelivery),
		ProviderShipmentID: s.ID,
		DataSource:         "dhl_api",
		Confidence:         1.0,
		Raw:                json.RawMessage(raw),
	}

	for _, e := range s.Events {
		d := parseTime(e.Timestamp)
		if d == nil {
			continue
		}
		desc := e.Description
		if desc == "" {
			desc = e.Status
		}
		out.Events = append(out.Events, provider.Event{
			Type:         e.Status,
			Code:         e.StatusCode,
			Date:         *d,
			LocationName: e.Location.Address.AddressLocality,
			Description:  desc,
		})
	}

	return out, nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
