package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/broker/messages"
	"github.com/HarborPulse/ShipWatch/internal/events"
	"github.com/HarborPulse/ShipWatch/internal/integrations/provider"
	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/HarborPulse/ShipWatch/internal/services/importer"
	"github.com/HarborPulse/ShipWatch/internal/services/reconcile"
	"github.com/HarborPulse/ShipWatch/internal/services/shipments"
	"github.com/HarborPulse/ShipWatch/internal/status"
	"github.com/HarborPulse/ShipWatch/internal/webhook"
	"github.com/stretchr/testify/require"
)

// fakeRepo закрывает контракты shipments/importer/webhook-слоёв разом.
type fakeRepo struct {
	byID map[string]*models.Shipment
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: map[string]*models.Shipment{}}
}

func (r *fakeRepo) CreateOrGetShipments(_ context.Context, orgID string, items []models.ShipmentCreateInput, carrierCodeFor func(string) string) ([]*models.Shipment, error) {
	out := make([]*models.Shipment, 0, len(items))
	for _, it := range items {
		sh := &models.Shipment{
			ID:             "sh-" + it.TrackingNumber,
			OrganizationID: orgID,
			TrackingNumber: it.TrackingNumber,
			TrackingType:   it.TrackingType,
			Status:         models.StatusRegistered,
			Active:         true,
		}
		if carrierCodeFor != nil {
			sh.CarrierCode = carrierCodeFor(it.CarrierName)
		}
		r.byID[sh.ID] = sh
		out = append(out, sh)
	}
	return out, nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*models.Shipment, error) {
	return r.byID[id], nil
}

func (r *fakeRepo) ListEvents(_ context.Context, _ string, _, _ int) ([]*models.TrackingEvent, error) {
	return nil, nil
}

func (r *fakeRepo) SoftDelete(_ context.Context, id, _ string) error {
	delete(r.byID, id)
	return nil
}

func (r *fakeRepo) MarkDue(_ context.Context, _ string) error { return nil }

func (r *fakeRepo) GetByTrackingNumber(_ context.Context, orgID, trackingNumber string, active bool) (*models.Shipment, error) {
	for _, sh := range r.byID {
		if sh.OrganizationID == orgID && sh.TrackingNumber == trackingNumber && sh.Active == active {
			return sh, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) GetByProviderRef(_ context.Context, _, _ string) (*models.Shipment, error) {
	return nil, nil
}

func (r *fakeRepo) Insert(_ context.Context, sh *models.Shipment) (bool, error) {
	r.byID[sh.ID] = sh
	return true, nil
}

func (r *fakeRepo) UpdateShipment(_ context.Context, sh *models.Shipment) error {
	r.byID[sh.ID] = sh
	return nil
}

func (r *fakeRepo) Reactivate(_ context.Context, sh *models.Shipment) error {
	r.byID[sh.ID] = sh
	return nil
}

func (r *fakeRepo) InsertEvents(_ context.Context, evs []*models.TrackingEvent) (int, error) {
	return len(evs), nil
}

type fakeConsumer struct{}

func (c fakeConsumer) ConsumeShipmentUpdates(ctx context.Context, _ func(messages.ShipmentUpdated) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestStack(repo *fakeRepo) (*shipments.Service, *importer.Importer, map[string]*webhook.Handler) {
	synth := events.NewSynthesizer(0)
	eng := reconcile.NewEngine(repo, provider.NewRegistry(), synth)
	svc := shipments.New(repo, eng, nil, 0, status.ResolveCarrier)
	imp := importer.New(repo, synth).WithChunkPause(0)
	webhooks := map[string]*webhook.Handler{
		"dhl": webhook.New(repo, "dhl", ""),
	}
	return svc, imp, webhooks
}

func TestRunShipAPI_EndToEnd(t *testing.T) {
	repo := newFakeRepo()
	svc, imp, webhooks := newTestStack(repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := shipAPIOpts{
		httpAddr:      "127.0.0.1:0",
		topic:         "t",
		consumerGroup: "g",
		importOpts:    importer.Options{SkipDuplicates: true, ImportEvents: true, BatchSize: 50},
		onListen:      func(addr string) { addrCh <- addr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runShipAPI(ctx, opts, svc, imp, webhooks, fakeConsumer{}) }()

	base := "http://" + <-addrCh

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	// Регистрация, затем чтение зарегистрированного.
	body := bytes.NewBufferString(`{"organizationId":"org-1","items":[{"trackingNumber":"msku1234567","trackingType":"container","carrierName":"Maersk"}]}`)
	resp, err = http.Post(base+"/v1/shipments", "application/json", body)
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)
	var created struct {
		Shipments []*models.Shipment `json:"shipments"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Len(t, created.Shipments, 1)
	require.Equal(t, "MSKU1234567", created.Shipments[0].TrackingNumber)
	require.Equal(t, "MAERSK", created.Shipments[0].CarrierCode)

	resp, err = http.Get(base + "/v1/shipments/" + created.Shipments[0].ID)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	resp, err = http.Get(base + "/v1/shipments/missing")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 404, resp.StatusCode)

	// Импорт сырого CSV одним полем.
	csvBody := bytes.NewBufferString(`{"organizationId":"org-1","csv":"container number,carrier\nTCLU7654321,MSC\n"}`)
	resp, err = http.Post(base+"/v1/imports", "application/json", csvBody)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	var stats importer.Stats
	require.NoError(t, json.Unmarshal(raw, &stats))
	require.Equal(t, 1, stats.Imported)

	// Webhook: событие по зарегистрированному номеру.
	whBody := bytes.NewBufferString(`{"organization_id":"org-1","tracking_number":"MSKU1234567","event_type":"DELIVERED","status":"delivered"}`)
	resp, err = http.Post(base+"/v1/webhooks/dhl", "application/json", whBody)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	resp, err = http.Post(base+"/v1/webhooks/unknown", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 404, resp.StatusCode)

	cancel()
	select {
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	case <-errCh:
	}
}

func TestHandleRegister_BadJSON(t *testing.T) {
	repo := newFakeRepo()
	svc, imp, webhooks := newTestStack(repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := shipAPIOpts{
		httpAddr: "127.0.0.1:0",
		onListen: func(addr string) { addrCh <- addr },
	}
	go func() { _ = runShipAPI(ctx, opts, svc, imp, webhooks, fakeConsumer{}) }()
	base := "http://" + <-addrCh

	resp, err := http.Post(base+"/v1/shipments", "application/json", bytes.NewBufferString(`{broken`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 400, resp.StatusCode)

	// Пустая организация отбивается валидацией сервиса.
	resp, err = http.Post(base+"/v1/shipments", "application/json", bytes.NewBufferString(`{"items":[{"trackingNumber":"A"}]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 400, resp.StatusCode)
}
