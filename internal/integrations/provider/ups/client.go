package ups

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
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Client — адаптер UPS Track API. OAuth как у FedEx: client credentials,
// токен живёт в памяти до истечения.
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
		baseURL = "https://onlinetools.ups.com"
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
	ExpiresIn   string `json:"expires_in"`
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Add(time.Minute).Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/security/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "new token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do token request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("ups oauth http %d", resp.StatusCode)
	}

	var tr tokenResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", errors.Wrap(err, "decode token")
	}

	// UPS отдаёт expires_in строкой.
	ttl := time.Hour
	if d, err := time.ParseDuration(tr.ExpiresIn + "s"); err == nil {
		ttl = d
	}
	c.token = tr.AccessToken
	c.tokenExpiry = time.Now().Add(ttl)
	return c.token, nil
}

type trackResp struct {
	TrackResponse struct {
		Shipment []struct {
			Package []struct {
				CurrentStatus struct {
					Description string `json:"description"`
					Code        string `json:"code"`
				} `json:"currentStatus"`
				DeliveryDate []struct {
					Type string `json:"type"`
					Date string `json:"date"`
				} `json:"deliveryDate"`
				Activity []struct {
					Date     string `json:"date"`
					Time     string `json:"time"`
					Location struct {
						Address struct {
							City        string `json:"city"`
							CountryCode string `json:"countryCode"`
						} `json:"address"`
					} `json:"location"`
					Status struct {
						Type        string `json:"type"`
						Description string `json:"description"`
						Code        string `json:"code"`
					} `json:"status"`
				} `json:"activity"`
			} `json:"package"`
		} `json:"shipment"`
	} `json:"trackResponse"`
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (provider.Result, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return provider.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/track/v1/details/"+url.PathEscape(trackingNumber), nil)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("transId", uuid.NewString())
	req.Header.Set("transactionSrc", "shipwatch")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return provider.Result{}, fmt.Errorf("ups rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return provider.Result{}, fmt.Errorf("ups http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Result{}, errors.Wrap(err, "read body")
	}

	var tr trackResp
	if err := json.Unmarshal(raw, &tr); err != nil {
		return provider.Result{}, errors.Wrap(err, "decode")
	}
	if len(tr.TrackResponse.Shipment) == 0 || len(tr.TrackResponse.Shipment[0].Package) == 0 {
		return provider.Result{}, errors.New("ups: empty track response")
	}
	pkg := tr.TrackResponse.Shipment[0].Package[0]

	out := provider.Result{
		StatusRaw:  pkg.CurrentStatus.Description,
		DataSource: "ups_api",
		Confidence: 1.0,
		Raw:        json.RawMessage(raw),
	}

	for _, dd := range pkg.DeliveryDate {
		d := parseDate(dd.Date)
		if d == nil {
			continue
		}
		switch dd.Type {
		case "SDD", "RDD":
			out.ETA = d
		case "DEL":
			out.ATA = d
		}
	}

	for _, a := range pkg.Activity {
		d := parseActivityTime(a.Date, a.Time)
		if d == nil {
			continue
		}
		loc := a.Location.Address.City
		if a.Location.Address.CountryCode != "" {
			loc += ", " + a.Location.Address.CountryCode
		}
		out.Events = append(out.Events, provider.Event{
			Type:         a.Status.Type,
			Code:         a.Status.Code,
			Date:         *d,
			LocationName: loc,
			Description:  a.Status.Description,
		})
	}

	return out, nil
}

// Даты активности приходят раздельно: "20060102" и "150405".
func parseActivityTime(date, tm string) *time.Time {
	if date == "" {
		return nil
	}
	if tm == "" {
		tm = "000000"
	}
	t, err := time.ParseInLocation("20060102150405", date+tm, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation("20060102", s, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}
