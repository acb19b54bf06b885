package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/events"
	"github.com/HarborPulse/ShipWatch/internal/integrations/provider"
	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/HarborPulse/ShipWatch/internal/status"
	"github.com/pkg/errors"
)

const (
	defaultChunkSize  = 50
	defaultChunkPause = 200 * time.Millisecond
	maxReportedErrors = 10
)

type Repository interface {
	GetByTrackingNumber(ctx context.Context, orgID, trackingNumber string, active bool) (*models.Shipment, error)
	Insert(ctx context.Context, sh *models.Shipment) (bool, error)
	UpdateShipment(ctx context.Context, sh *models.Shipment) error
	Reactivate(ctx context.Context, sh *models.Shipment) error
	InsertEvents(ctx context.Context, evs []*models.TrackingEvent) (int, error)
}

type Options struct {
	SkipDuplicates bool
	UpdateExisting bool
	ImportEvents   bool
	BatchSize      int
}

func DefaultOptions() Options {
	return Options{
		SkipDuplicates: true,
		UpdateExisting: false,
		ImportEvents:   true,
		BatchSize:      defaultChunkSize,
	}
}

type RowError struct {
	Index          int    `json:"index"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	Message        string `json:"message"`
}

type Stats struct {
	Total         int        `json:"total"`
	Imported      int        `json:"imported"`
	Updated       int        `json:"updated"`
	Skipped       int        `json:"skipped"`
	Errors        int        `json:"errors"`
	EventsCreated int        `json:"eventsCreated"`
	ErrorSamples  []RowError `json:"errorSamples,omitempty"`
}

// Importer — пакетный вариант сверки: разбор строк экспорта, разрешение
// дубликатов/реактиваций и синтез событий по датам.
type Importer struct {
	repo  Repository
	synth *events.Synthesizer

	chunkPause time.Duration
	now        func() time.Time
}

func New(repo Repository, synth *events.Synthesizer) *Importer {
	return &Importer{
		repo:       repo,
		synth:      synth,
		chunkPause: defaultChunkPause,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (im *Importer) WithChunkPause(d time.Duration) *Importer {
	if d >= 0 {
		im.chunkPause = d
	}
	return im
}

func (im *Importer) WithClock(now func() time.Time) *Importer {
	if now != nil {
		im.now = now
	}
	return im
}

// ImportBatch обрабатывает строки чанками: внутри чанка — параллельно,
// между чанками — пауза, чтобы не заваливать БД и внешние слои. Ошибка
// строки не прерывает батч.
func (im *Importer) ImportBatch(ctx context.Context, rows []Row, orgID string, opts Options) (Stats, error) {
	if orgID == "" {
		return Stats{}, errors.New("organizationId is required")
	}

	chunkSize := opts.BatchSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	stats := Stats{Total: len(rows)}
	var mu sync.Mutex

	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			idx := i
			row := rows[i]
			go func() {
				defer wg.Done()
				res := im.importRow(ctx, idx, row, orgID, opts)
				mu.Lock()
				stats.Imported += res.imported
				stats.Updated += res.updated
				stats.Skipped += res.skipped
				stats.EventsCreated += res.eventsCreated
				if res.err != nil {
					stats.Errors++
					if len(stats.ErrorSamples) < maxReportedErrors {
						stats.ErrorSamples = append(stats.ErrorSamples, RowError{
							Index:          idx,
							TrackingNumber: res.trackingNumber,
							Message:        res.err.Error(),
						})
					}
					slog.Error("import row failed", "row", idx, "tracking_number", res.trackingNumber, "error", res.err.Error())
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		if end < len(rows) && im.chunkPause > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(im.chunkPause):
			}
		}
	}

	return stats, nil
}

type rowResult struct {
	imported, updated, skipped, eventsCreated int
	trackingNumber                            string
	err                                       error
}

func (im *Importer) importRow(ctx context.Context, idx int, row Row, orgID string, opts Options) (res rowResult) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("row panic: %v", r)
		}
	}()

	trackingNumber := strings.ToUpper(row.field("trackingNumber"))
	if trackingNumber == "" {
		res.skipped = 1
		return res
	}
	res.trackingNumber = trackingNumber

	carrierName := row.field("carrier")
	carrierCode := status.ResolveCarrier(carrierName)

	rawStatus := row.field("status")
	loadingDate := parseRowDate(row.field("loadingDate"))
	dischargeDate := parseRowDate(row.field("dischargeDate"))
	eta := parseRowDate(row.field("eta"))

	now := im.now()
	finalStatus := im.finalStatus(rawStatus, loadingDate, dischargeDate, now)

	trackingType := guessTrackingType(trackingNumber)

	sh := &models.Shipment{
		OrganizationID:       orgID,
		TrackingNumber:       trackingNumber,
		TrackingType:         trackingType,
		CarrierCode:          carrierCode,
		CarrierName:          carrierName,
		Status:               finalStatus,
		Active:               true,
		ETA:                  eta,
		VesselName:           row.field("vessel"),
		VoyageNumber:         row.field("voyage"),
		LastEventLocation:    row.field("pod"),
	}
	if d := transitDays(loadingDate, dischargeDate); d != nil {
		sh.Meta.TransitTimeDays = d
	}

	// Активные и неактивные дубликаты различаются: soft-deleted трек
	// реактивируется, активный — пропускается или обновляется.
	existing, err := im.repo.GetByTrackingNumber(ctx, orgID, trackingNumber, true)
	if err != nil {
		res.err = err
		return res
	}
	inactive, err := im.repo.GetByTrackingNumber(ctx, orgID, trackingNumber, false)
	if err != nil {
		res.err = err
		return res
	}

	switch {
	case existing != nil && !opts.UpdateExisting && opts.SkipDuplicates:
		res.skipped = 1
		return res

	case existing != nil && opts.UpdateExisting:
		merged := mergeShipment(existing, sh)
		if err := im.repo.UpdateShipment(ctx, merged); err != nil {
			res.err = err
			return res
		}
		sh = merged
		res.updated = 1

	case existing == nil && inactive != nil:
		// Реактивация: новая регистрация ранее удалённого трека.
		sh.ID = inactive.ID
		sh.CreatedAt = inactive.CreatedAt
		sh.Meta.AddedBy = inactive.Meta.AddedBy
		if err := im.repo.Reactivate(ctx, sh); err != nil {
			res.err = err
			return res
		}
		res.imported = 1

	case existing == nil:
		inserted, err := im.repo.Insert(ctx, sh)
		if err != nil {
			res.err = err
			return res
		}
		if !inserted {
			// Параллельная строка того же батча успела первой.
			res.skipped = 1
			return res
		}
		res.imported = 1

	default:
		// existing != nil, не skip и не update: ничего не делаем.
		res.skipped = 1
		return res
	}

	if opts.ImportEvents && rawStatus != "" {
		created, err := im.importRowEvents(ctx, sh, rawStatus, carrierCode, loadingDate, dischargeDate, now)
		if err != nil {
			res.err = err
			return res
		}
		res.eventsCreated = created
	}

	return res
}

// finalStatus: явный статус перевозчика всегда важнее вывода по датам.
// Строка без статуса классифицируется по датам погрузки/выгрузки.
func (im *Importer) finalStatus(rawStatus string, loadingDate, dischargeDate *time.Time, now time.Time) string {
	if rawStatus != "" {
		// Без подсказки типа: неизвестная, но присутствующая строка статуса
		// даёт in_transit, а не датовую эвристику.
		return status.Classify(rawStatus, "")
	}
	if dischargeDate != nil && dischargeDate.Before(now) {
		return models.StatusDelivered
	}
	if loadingDate != nil && loadingDate.Before(now) {
		return models.StatusInTransit
	}
	return models.StatusRegistered
}

func (im *Importer) importRowEvents(ctx context.Context, sh *models.Shipment, rawStatus, carrierCode string, loadingDate, dischargeDate *time.Time, now time.Time) (int, error) {
	source := "import_csv"
	if carrierCode != "" {
		source = strings.ToLower(carrierCode) + "_csv"
	}

	evs := im.synth.Synthesize(sh.ID, sh.TrackingType, provider.Result{
		StatusRaw:     rawStatus,
		LoadingDate:   loadingDate,
		DischargeDate: dischargeDate,
		VesselName:    sh.VesselName,
		VoyageNumber:  sh.VoyageNumber,
		DataSource:    source,
	}, now)

	created, err := im.repo.InsertEvents(ctx, evs)
	if err != nil {
		return 0, errors.Wrap(err, "insert import events")
	}

	if latest := events.Latest(evs); latest != nil {
		d := latest.EventDate
		sh.LastEventDate = &d
		if latest.LocationName != "" {
			sh.LastEventLocation = latest.LocationName
		}
		sh.LastEventDescription = latest.Description
		if err := im.repo.UpdateShipment(ctx, sh); err != nil {
			return created, errors.Wrap(err, "update last event fields")
		}
	}
	return created, nil
}

// mergeShipment накладывает непустые поля новой строки на существующую запись.
func mergeShipment(existing, incoming *models.Shipment) *models.Shipment {
	out := *existing
	out.Status = incoming.Status
	if incoming.CarrierCode != "" {
		out.CarrierCode = incoming.CarrierCode
		out.CarrierName = incoming.CarrierName
	}
	if incoming.ETA != nil {
		out.ETA = incoming.ETA
	}
	if incoming.VesselName != "" {
		out.VesselName = incoming.VesselName
	}
	if incoming.VoyageNumber != "" {
		out.VoyageNumber = incoming.VoyageNumber
	}
	if incoming.Meta.TransitTimeDays != nil {
		out.Meta.TransitTimeDays = incoming.Meta.TransitTimeDays
	}
	return &out
}

func transitDays(loading, discharge *time.Time) *int {
	if loading == nil || discharge == nil {
		return nil
	}
	d := int(discharge.Sub(*loading).Hours() / 24)
	return &d
}

// guessTrackingType: контейнерный номер ISO 6346 (4 буквы + 7 цифр) ->
// container, 3 цифры + дефис (AWB) -> awb, иначе parcel.
func guessTrackingType(trackingNumber string) string {
	n := strings.ToUpper(strings.TrimSpace(trackingNumber))
	if len(n) == 11 && isAlpha(n[:4]) && isDigits(n[4:]) {
		return models.TypeContainer
	}
	if len(n) > 4 && n[3] == '-' && isDigits(n[:3]) {
		return models.TypeAWB
	}
	return models.TypeParcel
}

func isAlpha(s string) bool {
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return len(s) > 0
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
