package fedex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/integrations/provider"
	"github.com/pkg/errors"
)

// Client — адаптер FedEx Track API. Токен client-credentials кэшируется
// до истечения и обновляется прозрачно для вызывающего.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpc        *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(baseURL, clientID, clientSecret string) *Client {
	if baseURL == "" {
		baseURL = "https://apis.fedex.com"
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Запас в минуту, чтобы не словить 401 на границе истечения.
	if c.token != "" && time.Now().Add(time.Minute).Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "new token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do token request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("fedex oauth http %d", resp.StatusCode)
	}

	var tr tokenResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", errors.Wrap(err, "decode token")
	}

	c.token = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return c.token, nil
}

type trackReq struct {
	IncludeDetailedScans bool `json:"includeDetailedScans"`
	TrackingInfo         []struct {
		TrackingNumberInfo struct {
			TrackingNumber string `json:"trackingNumber"`
		} `json:"trackingNumberInfo"`
	} `json:"trackingInfo"`
}

type trackResp struct {
	Output struct {
		CompleteTrackResults []struct {
			TrackResults []struct {
				LatestStatusDetail struct {
					Description string `json:"description"`
				} `json:"latestStatusDetail"`
				EstimatedDeliveryTimeWindow struct {
					Window struct {
						Ends string `json:"ends"`
					} `json:"window"`
				} `json:"estimatedDeliveryTimeWindow"`
				ScanEvents []struct {
					Date             string `json:"date"`
					EventType        string `json:"eventType"`
					EventDescription string `json:"eventDescription"`
					ScanLocation     struct {
						City        string `json:"city"`
						CountryCode string `json:"countryCode"`
					} `json:"scanLocation"`
				} `json:"scanEvents"`
			} `json:"trackResults"`
		} `json:"completeTrackResults"`
	} `json:"output"`
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (provider.Result, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return provider.Result{}, err
	}

	var body trackReq
	body.IncludeDetailedScans = true
	body.TrackingInfo = make([]struct {
		TrackingNumberInfo struct {
			TrackingNumber string `json:"trackingNumber"`
		} `json:"trackingNumberInfo"`
	}, 1)
	body.TrackingInfo[0].TrackingNumberInfo.TrackingNumber = trackingNumber

	b, err := json.Marshal(body)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "marshal track request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/track/v1/trackingnumbers", strings.NewReader(string(b)))
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return provider.Result{}, fmt.Errorf("fedex http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "read body")
	}

	var tr trackResp
	if err := json.Unmarshal(raw, &tr); err != nil {
		return provider.Result{}, errors.Wrap(err, "decode")
	}
	if len(tr.Output.CompleteTrackResults) == 0 || len(tr.Output.CompleteTrackResults[0].TrackResults) == 0 {
		return provider.Result{}, errors.New("fedex: empty track result")
	}
	r := tr.Output.CompleteTrackResults[0].TrackResults[0]

	out := provider.Result{
		StatusRaw:  r.LatestStatusDetail.Description,
		ETA:        parseTime(r.EstimatedDeliveryTimeWindow.Window.Ends),
		DataSource: "fedex_api",
		Confidence: 1.0,
		Raw:        json.RawMessage(raw),
	}

	for _, e := range r.ScanEvents {
		d := parseTime(e.Date)
		if d == nil {
			continue
		}
		loc := e.ScanLocation.City
		if e.ScanLocation.CountryCode != "" {
			loc += ", " + e.ScanLocation.CountryCode
		}
		out.Events = append(out.Events, provider.Event{
			Type:         e.EventType,
			Code:         e.EventType,
			Date:         *d,
			LocationName: loc,
			Description:  e.EventDescription,
		})
	}

	return out, nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
