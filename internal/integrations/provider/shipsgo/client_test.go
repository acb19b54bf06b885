package shipsgo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const containerResp = `{
  "ShipsgoId": "sg-42",
  "Status": "Sailing",
  "StatusId": 22,
  "LoadingDate": "15/05/2025",
  "DischargeDate": "-",
  "ArrivalDate": "-",
  "FirstETA": "05/06/2025",
  "Vessel": "EVER GIVEN",
  "Voyage": "V123",
  "Pol": "GENOA",
  "Pod": "SHANGHAI",
  "Events": [
    {"Status": "Loaded on vessel", "Date": "15/05/2025", "Location": "Genoa", "Vessel": "EVER GIVEN", "Voyage": "V123"},
    {"Status": "Vessel departed", "Date": "16/05/2025", "Location": "Genoa"}
  ]
}`

func TestTrack_Authenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ContainerService/GetContainerInfo", r.URL.Path)
		require.Equal(t, "secret", r.URL.Query().Get("authCode"))
		require.Equal(t, "MSKU1234567", r.URL.Query().Get("requestNumber"))
		_, _ = w.Write([]byte(containerResp))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", ModeMaritime)
	res, err := c.Track(context.Background(), "MSKU1234567")
	require.NoError(t, err)

	require.Equal(t, "Sailing", res.StatusRaw)
	require.Equal(t, "sg-42", res.ProviderShipmentID)
	require.Equal(t, "shipsgo_api", res.DataSource)
	require.Equal(t, 1.0, res.Confidence)
	require.Equal(t, "EVER GIVEN", res.VesselName)
	require.NotNil(t, res.LoadingDate)
	require.Equal(t, time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC), *res.LoadingDate)
	require.Nil(t, res.DischargeDate) // "-" -> nil
	require.NotNil(t, res.ETA)
	require.Len(t, res.Events, 2)
	require.Equal(t, "Genoa", res.Events[0].LocationName)
	require.NotEmpty(t, res.Raw)
}

func TestTrack_PublicFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ContainerService/GetContainerInfo":
			w.WriteHeader(http.StatusUnauthorized)
		case "/ContainerService/GetContainerInfo/Public":
			require.Empty(t, r.URL.Query().Get("authCode"))
			_, _ = w.Write([]byte(containerResp))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", ModeMaritime)
	res, err := c.Track(context.Background(), "MSKU1234567")
	require.NoError(t, err)

	// Публичный lookup деградирует confidence.
	require.Equal(t, "shipsgo_public", res.DataSource)
	require.Equal(t, 0.8, res.Confidence)
}

func TestTrack_BothPathsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", ModeMaritime)
	_, err := c.Track(context.Background(), "MSKU1234567")
	require.Error(t, err)
	// Возвращается ошибка авторизованного пути, не публичного.
	require.Contains(t, err.Error(), "shipsgo http 500")
}

func TestTrack_AirMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/AirService/GetAirShipmentInfo", r.URL.Path)
		_, _ = w.Write([]byte(`{"ShipsgoId":"sg-7","Status":"In Transit"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", ModeAir)
	res, err := c.Track(context.Background(), "176-12345675")
	require.NoError(t, err)
	require.Equal(t, "In Transit", res.StatusRaw)
}

func TestParseDate(t *testing.T) {
	require.Nil(t, parseDate(""))
	require.Nil(t, parseDate("-"))
	require.Nil(t, parseDate("garbage"))

	d := parseDate("2025-05-15")
	require.NotNil(t, d)
	require.Equal(t, time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC), *d)
}
