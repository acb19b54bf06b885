package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/broker/messages"
	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/HarborPulse/ShipWatch/internal/services/importer"
	"github.com/HarborPulse/ShipWatch/internal/services/shipments"
	"github.com/HarborPulse/ShipWatch/internal/webhook"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type shipAPIOpts struct {
	httpAddr string

	topic         string
	consumerGroup string

	importOpts importer.Options

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	ConsumeShipmentUpdates(ctx context.Context, handler func(messages.ShipmentUpdated) error) error
}

func runShipAPI(ctx context.Context, opts shipAPIOpts, svc *shipments.Service, imp *importer.Importer, webhooks map[string]*webhook.Handler, consumer kafkaConsumer) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := newRouter(opts, svc, imp, webhooks)

	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		_ = consumer.ConsumeShipmentUpdates(ctx, func(m messages.ShipmentUpdated) error {
			return svc.ApplyUpdatedMessage(ctx, m)
		})
	}()

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}

func newRouter(opts shipAPIOpts, svc *shipments.Service, imp *importer.Importer, webhooks map[string]*webhook.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/shipments", handleRegister(svc))
		r.Get("/shipments/{id}", handleGet(svc))
		r.Get("/shipments/{id}/events", handleListEvents(svc))
		r.Post("/shipments/{id}/refresh", handleRefresh(svc))
		r.Delete("/shipments/{id}", handleDelete(svc))
		r.Post("/imports", handleImport(imp, opts.importOpts))
		r.Post("/webhooks/{provider}", handleWebhook(webhooks))
	})

	return r
}

type registerRequest struct {
	OrganizationID string `json:"organizationId"`
	Items          []struct {
		TrackingNumber string `json:"trackingNumber"`
		TrackingType   string `json:"trackingType,omitempty"`
		CarrierName    string `json:"carrierName,omitempty"`
	} `json:"items"`
}

func handleRegister(svc *shipments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		items := make([]models.ShipmentCreateInput, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, models.ShipmentCreateInput{
				TrackingNumber: it.TrackingNumber,
				TrackingType:   it.TrackingType,
				CarrierName:    it.CarrierName,
			})
		}
		out, err := svc.Register(r.Context(), req.OrganizationID, items)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"shipments": out})
	}
}

func handleGet(svc *shipments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sh, err := svc.GetByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if sh == nil {
			writeError(w, http.StatusNotFound, errors.New("shipment not found"))
			return
		}
		writeJSON(w, http.StatusOK, sh)
	}
}

func handleListEvents(svc *shipments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		evs, err := svc.ListEvents(r.Context(), chi.URLParam(r, "id"), limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": evs})
	}
}

func handleRefresh(svc *shipments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sh, err := svc.Refresh(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if sh == nil {
			writeError(w, http.StatusNotFound, errors.New("shipment not found"))
			return
		}
		writeJSON(w, http.StatusOK, sh)
	}
}

func handleDelete(svc *shipments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get("X-Actor")
		if err := svc.Delete(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	}
}

type importRequest struct {
	OrganizationID string          `json:"organizationId"`
	Rows           []importer.Row  `json:"rows,omitempty"`
	CSV            string          `json:"csv,omitempty"`
	Options        *importOptsBody `json:"options,omitempty"`
}

type importOptsBody struct {
	SkipDuplicates *bool `json:"skipDuplicates,omitempty"`
	UpdateExisting *bool `json:"updateExisting,omitempty"`
	ImportEvents   *bool `json:"importEvents,omitempty"`
	BatchSize      int   `json:"batchSize,omitempty"`
}

// handleImport принимает либо разобранные rows, либо сырой CSV одним полем.
func handleImport(imp *importer.Importer, defaults importer.Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		rows := req.Rows
		if len(rows) == 0 && req.CSV != "" {
			parsed, err := importer.ParseCSV(strings.NewReader(req.CSV), ',')
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			rows = parsed
		}

		opts := defaults
		if o := req.Options; o != nil {
			if o.SkipDuplicates != nil {
				opts.SkipDuplicates = *o.SkipDuplicates
			}
			if o.UpdateExisting != nil {
				opts.UpdateExisting = *o.UpdateExisting
			}
			if o.ImportEvents != nil {
				opts.ImportEvents = *o.ImportEvents
			}
			if o.BatchSize > 0 {
				opts.BatchSize = o.BatchSize
			}
		}

		stats, err := imp.ImportBatch(r.Context(), rows, req.OrganizationID, opts)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleWebhook(webhooks map[string]*webhook.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := webhooks[chi.URLParam(r, "provider")]
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("unknown provider"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.Verify(r.Header.Get("X-Signature"), body); err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		var p webhook.Payload
		if err := json.Unmarshal(body, &p); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		sh, err := h.Apply(r.Context(), p)
		if err != nil {
			if errors.Is(err, webhook.ErrShipmentNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, sh)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
