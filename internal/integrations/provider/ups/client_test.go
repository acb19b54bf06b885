package ups

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const trackRespBody = `{
  "trackResponse": {
    "shipment": [{
      "package": [{
        "currentStatus": {"description": "Out For Delivery Today", "code": "OT"},
        "deliveryDate": [{"type": "SDD", "date": "20250611"}],
        "activity": [
          {"date": "20250610", "time": "081500", "location": {"address": {"city": "Milan", "countryCode": "IT"}}, "status": {"type": "I", "description": "Out For Delivery Today", "code": "OT"}},
          {"date": "20250609", "time": "", "location": {"address": {"city": "Bergamo", "countryCode": "IT"}}, "status": {"type": "I", "description": "Arrived at Facility", "code": "AR"}}
        ]
      }]
    }]
  }
}`

func TestTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/security/v1/oauth/token":
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			require.Equal(t, "id", user)
			require.Equal(t, "secret", pass)
			_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
		case strings.HasPrefix(r.URL.Path, "/api/track/v1/details/"):
			require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			require.NotEmpty(t, r.Header.Get("transId"))
			_, _ = w.Write([]byte(trackRespBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "id", "secret")
	res, err := c.Track(context.Background(), "1Z999AA10123456784")
	require.NoError(t, err)

	require.Equal(t, "Out For Delivery Today", res.StatusRaw)
	require.Equal(t, "ups_api", res.DataSource)
	require.NotNil(t, res.ETA)
	require.Len(t, res.Events, 2)
	require.Equal(t, "Milan, IT", res.Events[0].LocationName)
	// Пустое время активности считается полуночью.
	require.Equal(t, 0, res.Events[1].Date.Hour())
}

func TestTrack_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/security/v1/oauth/token" {
			_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
			return
		}
		_, _ = w.Write([]byte(`{"trackResponse":{"shipment":[]}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "id", "secret")
	_, err := c.Track(context.Background(), "1Z999AA10123456784")
	require.Error(t, err)
}
