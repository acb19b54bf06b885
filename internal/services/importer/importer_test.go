package importer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/events"
	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type fakeRepo struct {
	mu sync.Mutex

	active   map[string]*models.Shipment // tracking number -> активная запись
	inactive map[string]*models.Shipment

	inserted    []*models.Shipment
	updated     []*models.Shipment
	reactivated []*models.Shipment
	events      []*models.TrackingEvent

	insertErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		active:   map[string]*models.Shipment{},
		inactive: map[string]*models.Shipment{},
	}
}

func (f *fakeRepo) GetByTrackingNumber(_ context.Context, _ string, trackingNumber string, active bool) (*models.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if active {
		return f.active[trackingNumber], nil
	}
	return f.inactive[trackingNumber], nil
}

func (f *fakeRepo) Insert(_ context.Context, sh *models.Shipment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if _, ok := f.active[sh.TrackingNumber]; ok {
		return false, nil
	}
	sh.ID = "id-" + sh.TrackingNumber
	f.active[sh.TrackingNumber] = sh
	f.inserted = append(f.inserted, sh)
	return true, nil
}

func (f *fakeRepo) UpdateShipment(_ context.Context, sh *models.Shipment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sh
	f.updated = append(f.updated, &cp)
	f.active[sh.TrackingNumber] = sh
	return nil
}

func (f *fakeRepo) Reactivate(_ context.Context, sh *models.Shipment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inactive, sh.TrackingNumber)
	f.active[sh.TrackingNumber] = sh
	f.reactivated = append(f.reactivated, sh)
	return nil
}

func (f *fakeRepo) InsertEvents(_ context.Context, evs []*models.TrackingEvent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evs...)
	return len(evs), nil
}

func newTestImporter(repo Repository) *Importer {
	return New(repo, events.NewSynthesizer(0)).
		WithChunkPause(0).
		WithClock(func() time.Time { return testNow })
}

func TestImportBatch_MaritimeExport(t *testing.T) {
	repo := newFakeRepo()
	im := newTestImporter(repo)

	rows := []Row{
		{
			"Container":         "msku1234567",
			"Carrier":           "Maersk Line",
			"Date of Loading":   "15/05/2025",
			"Date of Discharge": "05/06/2025",
			"Vessel":            "EVER GIVEN",
			"Voyage":            "V123",
			"POD":               "Genoa",
		},
	}

	stats, err := im.ImportBatch(context.Background(), rows, "org-1", DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.Imported)
	require.Zero(t, stats.Errors)

	require.Len(t, repo.inserted, 1)
	sh := repo.inserted[0]
	require.Equal(t, "MSKU1234567", sh.TrackingNumber)
	require.Equal(t, models.TypeContainer, sh.TrackingType)
	require.Equal(t, "MAERSK", sh.CarrierCode)
	// Выгрузка в прошлом, статуса нет: delivered по датам.
	require.Equal(t, models.StatusDelivered, sh.Status)
	require.NotNil(t, sh.Meta.TransitTimeDays)
	require.Equal(t, 21, *sh.Meta.TransitTimeDays)
}

func TestImportBatch_ExplicitStatusWins(t *testing.T) {
	repo := newFakeRepo()
	im := newTestImporter(repo)

	rows := []Row{
		{
			"Container":         "MSKU1234567",
			"Status":            "Sailing",
			"Date of Discharge": "01/01/2025", // в прошлом, но явный статус важнее
		},
		{
			"Container": "TCLU7654321",
			"Status":    "Some unknown carrier wording",
		},
	}

	stats, err := im.ImportBatch(context.Background(), rows, "org-1", DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Imported)

	require.Equal(t, models.StatusInTransit, repo.active["MSKU1234567"].Status)
	// Неизвестная, но присутствующая строка статуса -> in_transit.
	require.Equal(t, models.StatusInTransit, repo.active["TCLU7654321"].Status)
}

func TestImportBatch_DatesInference(t *testing.T) {
	repo := newFakeRepo()
	im := newTestImporter(repo)

	rows := []Row{
		{"Container": "AAAA1111111", "Date of Loading": "01/06/2025"},
		{"Container": "BBBB2222222", "Date of Loading": "01/07/2025"},
	}

	_, err := im.ImportBatch(context.Background(), rows, "org-1", DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, models.StatusInTransit, repo.active["AAAA1111111"].Status)
	// Погрузка в будущем: только зарегистрировано.
	require.Equal(t, models.StatusRegistered, repo.active["BBBB2222222"].Status)
}

func TestImportBatch_SkipDuplicates(t *testing.T) {
	repo := newFakeRepo()
	repo.active["MSKU1234567"] = &models.Shipment{
		ID:             "existing-1",
		TrackingNumber: "MSKU1234567",
		Status:         models.StatusInTransit,
		Active:         true,
	}
	im := newTestImporter(repo)

	rows := []Row{{"Container": "MSKU1234567", "Status": "Delivered"}}

	stats, err := im.ImportBatch(context.Background(), rows, "org-1", DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Skipped)
	require.Zero(t, stats.Imported)
	require.Empty(t, repo.updated)
}

func TestImportBatch_UpdateExisting(t *testing.T) {
	repo := newFakeRepo()
	repo.active["MSKU1234567"] = &models.Shipment{
		ID:             "existing-1",
		TrackingNumber: "MSKU1234567",
		Status:         models.StatusInTransit,
		CarrierCode:    "MAERSK",
		Active:         true,
	}
	im := newTestImporter(repo)

	opts := DefaultOptions()
	opts.UpdateExisting = true
	opts.ImportEvents = false

	rows := []Row{{"Container": "MSKU1234567", "Status": "Delivered", "Vessel": "NEW VESSEL"}}

	stats, err := im.ImportBatch(context.Background(), rows, "org-1", opts)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Updated)

	require.Len(t, repo.updated, 1)
	require.Equal(t, "existing-1", repo.updated[0].ID)
	require.Equal(t, models.StatusDelivered, repo.updated[0].Status)
	require.Equal(t, "NEW VESSEL", repo.updated[0].VesselName)
	// Непустые поля существующей записи не затираются пустыми.
	require.Equal(t, "MAERSK", repo.updated[0].CarrierCode)
}

func TestImportBatch_ReactivatesSoftDeleted(t *testing.T) {
	repo := newFakeRepo()
	created := testNow.Add(-60 * 24 * time.Hour)
	repo.inactive["MSKU1234567"] = &models.Shipment{
		ID:             "old-1",
		TrackingNumber: "MSKU1234567",
		Status:         models.StatusInTransit,
		CreatedAt:      created,
		Meta:           models.ShipmentMeta{AddedBy: "user@example.com", DeletedBy: "ops"},
	}
	im := newTestImporter(repo)

	rows := []Row{{"Container": "MSKU1234567", "Status": "Sailing"}}

	stats, err := im.ImportBatch(context.Background(), rows, "org-1", DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Imported)

	require.Len(t, repo.reactivated, 1)
	re := repo.reactivated[0]
	// Идентичность и происхождение наследуются от старой записи.
	require.Equal(t, "old-1", re.ID)
	require.Equal(t, created, re.CreatedAt)
	require.Equal(t, "user@example.com", re.Meta.AddedBy)
}

func TestImportBatch_EventsSynthesis(t *testing.T) {
	repo := newFakeRepo()
	im := newTestImporter(repo)

	rows := []Row{
		{
			"Container":         "MSKU1234567",
			"Carrier":           "Maersk",
			"Status":            "Discharged",
			"Date of Loading":   "15/05/2025",
			"Date of Discharge": "05/06/2025",
		},
	}

	stats, err := im.ImportBatch(context.Background(), rows, "org-1", DefaultOptions())
	require.NoError(t, err)
	require.NotZero(t, stats.EventsCreated)

	var types []string
	for _, e := range repo.events {
		types = append(types, e.EventType)
		require.Equal(t, "maersk_csv", e.DataSource)
	}
	require.Contains(t, types, models.EventLoadedOnVessel)
	require.Contains(t, types, models.EventDischargedFromVessel)
	require.Contains(t, types, models.EventDelivered)
}

func TestImportBatch_RowErrorsDoNotAbort(t *testing.T) {
	repo := newFakeRepo()
	repo.insertErr = errors.New("insert failed")
	im := newTestImporter(repo)

	rows := []Row{
		{"Container": "MSKU1234567", "Status": "Sailing"},
		{"Container": ""}, // пустой номер — skip, не ошибка
	}

	stats, err := im.ImportBatch(context.Background(), rows, "org-1", DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.Errors)
	require.Equal(t, 1, stats.Skipped)
	require.Len(t, stats.ErrorSamples, 1)
	require.Equal(t, "MSKU1234567", stats.ErrorSamples[0].TrackingNumber)
}

func TestImportBatch_ErrorSamplesCapped(t *testing.T) {
	repo := newFakeRepo()
	repo.insertErr = errors.New("insert failed")
	im := newTestImporter(repo)

	rows := make([]Row, 25)
	for i := range rows {
		rows[i] = Row{"Container": "TCLU000000" + string(rune('A'+i)), "Status": "Sailing"}
	}

	stats, err := im.ImportBatch(context.Background(), rows, "org-1", DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 25, stats.Errors)
	require.Len(t, stats.ErrorSamples, maxReportedErrors)
}

func TestImportBatch_RequiresOrganization(t *testing.T) {
	im := newTestImporter(newFakeRepo())
	_, err := im.ImportBatch(context.Background(), []Row{{"Container": "X"}}, "", DefaultOptions())
	require.Error(t, err)
}

func TestGuessTrackingType(t *testing.T) {
	require.Equal(t, models.TypeContainer, guessTrackingType("MSKU1234567"))
	require.Equal(t, models.TypeAWB, guessTrackingType("176-12345675"))
	require.Equal(t, models.TypeParcel, guessTrackingType("1Z999AA10123456784"))
	require.Equal(t, models.TypeParcel, guessTrackingType("JD014600003RF"))
}
