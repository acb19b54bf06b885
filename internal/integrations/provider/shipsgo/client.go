package shipsgo

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

// Mode — какой из ShipsGo-сервисов дергаем.
const (
	ModeMaritime = "maritime"
	ModeAir      = "air"
)

// Client — адаптер ShipsGo (морской и авиа трекинг). Авторизованный путь
// даёт полный ответ (confidence 1.0); при его отказе клиент деградирует до
// публичного lookup с урезанными полями и confidence 0.8.
type Client struct {
	baseURL string
	apiKey  string
	mode    string
	httpc   *http.Client
}

func New(baseURL, apiKey, mode string) *Client {
	if baseURL == "" {
		baseURL = "https://shipsgo.com/api/v1.2"
	}
	if mode == "" {
		mode = ModeMaritime
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		mode:    mode,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type respEvent struct {
	Status   string `json:"Status"`
	Date     string `json:"Date"`
	Location string `json:"Location"`
	Vessel   string `json:"Vessel"`
	Voyage   string `json:"Voyage"`
}

type respBody struct {
	ShipsgoID     string      `json:"ShipsgoId"`
	Status        string      `json:"Status"`
	StatusID      int         `json:"StatusId"`
	LoadingDate   string      `json:"LoadingDate"`
	DischargeDate string      `json:"DischargeDate"`
	ArrivalDate   string      `json:"ArrivalDate"`
	FirstETA      string      `json:"FirstETA"`
	Vessel        string      `json:"Vessel"`
	VesselIMO     string      `json:"VesselIMO"`
	VoyageNumber  string      `json:"Voyage"`
	Pol           string      `json:"Pol"`
	Pod           string      `json:"Pod"`
	Events        []respEvent `json:"Events"`
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (provider.Result, error) {
	res, err := c.track(ctx, trackingNumber, false)
	if err == nil {
		return res, nil
	}
	// Авторизованный путь не ответил — пробуем публичный.
	pubRes, pubErr := c.track(ctx, trackingNumber, true)
	if pubErr != nil {
		return provider.Result{}, err
	}
	return pubRes, nil
}

func (c *Client) track(ctx context.Context, trackingNumber string, public bool) (provider.Result, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "parse base url")
	}

	path := "/ContainerService/GetContainerInfo"
	if c.mode == ModeAir {
		path = "/AirService/GetAirShipmentInfo"
	}
	if public {
		path += "/Public"
	}
	u.Path += path

	q := u.Query()
	q.Set("requestNumber", trackingNumber)
	if !public {
		q.Set("authCode", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return provider.Result{}, fmt.Errorf("shipsgo rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return provider.Result{}, fmt.Errorf("shipsgo http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "read body")
	}

	var rb respBody
	if err := json.Unmarshal(raw, &rb); err != nil {
		return provider.Result{}, errors.Wrap(err, "decode")
	}

	source := "shipsgo_api"
	confidence := 1.0
	if public {
		source = "shipsgo_public"
		confidence = 0.8
	}

	out := provider.Result{
		StatusRaw:          rb.Status,
		LoadingDate:        parseDate(rb.LoadingDate),
		DischargeDate:      parseDate(rb.DischargeDate),
		ETA:                parseDate(rb.FirstETA),
		ATA:                parseDate(rb.ArrivalDate),
		VesselName:         rb.Vessel,
		VoyageNumber:       rb.VoyageNumber,
		ProviderShipmentID: rb.ShipsgoID,
		DataSource:         source,
		Confidence:         confidence,
		Raw:                json.RawMessage(raw),
	}

	for _, e := range rb.Events {
		d := parseDate(e.Date)
		if d == nil {
			continue
		}
		out.Events = append(out.Events, provider.Event{
			Type:         e.Status,
			Date:         *d,
			LocationName: e.Location,
			Description:  e.Status,
			VesselName:   e.Vessel,
			VoyageNumber: e.Voyage,
		})
	}

	return out, nil
}

// ShipsGo отдаёт даты как "02/01/2006" или ISO; плейсхолдеры -> nil.
func parseDate(s string) *time.Time {
	if s == "" || s == "-" {
		return nil
	}
	for _, layout := range []string{"02/01/2006", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
