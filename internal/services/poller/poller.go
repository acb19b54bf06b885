package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/HarborPulse/ShipWatch/internal/services/reconcile"
)

type Repository interface {
	ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error)
	ScheduleNextCheck(ctx context.Context, id string, at time.Time, failCount int32) error
}

type RateLimiter interface {
	AllowCarrier(ctx context.Context, carrierCode string, limit int64, now time.Time) (bool, int64, error)
}

// Poller выгребает просроченные отправления и гоняет их через сверку.
// Claim с арендой: упавший воркер не блокирует записи навсегда.
type Poller struct {
	repo   Repository
	engine *reconcile.Engine
	rl     RateLimiter

	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64
	carrierRateLimits  map[string]int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalSkipped        atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, engine *reconcile.Engine, rl RateLimiter) *Poller {
	return &Poller{
		repo:               repo,
		engine:             engine,
		rl:                 rl,
		planner:            NewPlanner(DefaultPlannerConfig(), nil),
		pollInterval:       2 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              120 * time.Second,
		rateLimitPerMinute: 120,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if lease > 0 {
		p.lease = lease
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

// WithCarrierRateLimits задаёт персональные лимиты на код перевозчика.
func (p *Poller) WithCarrierRateLimits(limits map[string]int64) *Poller {
	p.carrierRateLimits = limits
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalSkipped   int64      `json:"totalSkipped"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalSkipped:   p.totalSkipped.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	p.lastCycleUnixNano.Store(now.UnixNano())

	items, err := p.repo.ClaimDueShipments(ctx, now, p.batchSize, p.lease)
	if err != nil {
		slog.Error("claim due shipments", "error", err.Error())
		p.recordError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, sh := range items {
		sem <- struct{}{}
		wg.Add(1)
		shCopy := sh
		p.inFlight.Add(1)
		go func() {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := p.processOne(ctx, shCopy); err != nil {
				p.totalErrors.Add(1)
				p.recordError(err)
				slog.Error("process shipment", "shipment_id", shCopy.ID, "error", err.Error())
			}
			p.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (p *Poller) recordError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

func (p *Poller) processOne(ctx context.Context, sh *models.Shipment) error {
	now := time.Now().UTC()

	if p.rl != nil && p.rateLimitPerMinute > 0 && sh.CarrierCode != "" {
		limit := p.rateLimitPerMinute
		if l, ok := p.carrierRateLimits[sh.CarrierCode]; ok && l > 0 {
			limit = l
		}

		allowed, n, err := p.rl.AllowCarrier(ctx, sh.CarrierCode, limit, now)
		if err != nil {
			return err
		}
		if !allowed {
			// Слишком много запросов в минуту: подождём немного, чтобы разгрузить источник.
			slog.Warn("rate limit exceeded", "carrier", sh.CarrierCode, "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	out, err := p.engine.Reconcile(ctx, sh, false)
	if err != nil {
		nextFail := sh.CheckFailCount + 1
		at := now.Add(p.planner.BackoffDelay(nextFail))
		if serr := p.repo.ScheduleNextCheck(ctx, sh.ID, at, nextFail); serr != nil {
			return serr
		}
		return err
	}

	switch {
	case out.ProviderFailed:
		nextFail := sh.CheckFailCount + 1
		return p.repo.ScheduleNextCheck(ctx, sh.ID, now.Add(p.planner.BackoffDelay(nextFail)), nextFail)
	case out.Skipped != "":
		p.totalSkipped.Add(1)
		return p.repo.ScheduleNextCheck(ctx, sh.ID, now.Add(p.planner.NextCheckDelay(sh.Status)), sh.CheckFailCount)
	default:
		return p.repo.ScheduleNextCheck(ctx, sh.ID, now.Add(p.planner.NextCheckDelay(out.Shipment.Status)), 0)
	}
}
