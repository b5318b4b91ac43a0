// Package optimizer reclaims space in the memory store. Each cycle
// removes expired records, then trims categories over budget, then trims
// the whole population to the global budget.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/chat_memory/internal/backend"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/internal/retention"
	"github.com/lewisedginton/chat_memory/pkg/logger"
	"github.com/lewisedginton/chat_memory/pkg/metrics"
)

const defaultInterval = time.Hour

// ReportStore persists the last cycle report. The state cache implements it.
type ReportStore interface {
	PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
}

type Config struct {
	Store  backend.Store
	Scorer *retention.Scorer
	// CategoryBudgets caps the record count per category. Zero or missing means unlimited.
	CategoryBudgets map[string]int
	// GlobalBudget caps the total record count. Zero disables the global sweep.
	GlobalBudget int
	Interval     time.Duration
	Logger       logger.Logger
	Metrics      *metrics.Metrics
	Clock        func() time.Time
	Reports      ReportStore
}

// Engine runs optimization cycles on a timer and on demand. Cycles never
// overlap.
type Engine struct {
	store    backend.Store
	scorer   *retention.Scorer
	budgets  map[string]int
	global   int
	interval time.Duration
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	reports  ReportStore

	cycleMu sync.Mutex
	trigger chan struct{}

	lastMu sync.RWMutex
	last   *Report
}

func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Scorer == nil {
		cfg.Scorer = retention.NewScorer(retention.DefaultWeights())
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.GlobalBudget < 0 {
		return nil, fmt.Errorf("global budget must not be negative, got %d", cfg.GlobalBudget)
	}
	budgets := make(map[string]int, len(cfg.CategoryBudgets))
	for category, budget := range cfg.CategoryBudgets {
		if !model.Category(category).Valid() {
			return nil, fmt.Errorf("invalid category %q in budgets", category)
		}
		if budget < 0 {
			return nil, fmt.Errorf("budget for %s must not be negative, got %d", category, budget)
		}
		budgets[category] = budget
	}

	return &Engine{
		store:    cfg.Store,
		scorer:   cfg.Scorer,
		budgets:  budgets,
		global:   cfg.GlobalBudget,
		interval: cfg.Interval,
		log:      cfg.Logger.WithFields(logger.ComponentField("optimizer")),
		metrics:  cfg.Metrics,
		now:      cfg.Clock,
		reports:  cfg.Reports,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// Start runs a cycle every interval and whenever Trigger is called,
// until ctx is cancelled. Cycle errors are logged, not returned.
func (e *Engine) Start(ctx context.Context) error {
	e.log.Info("Starting optimizer", logger.DurationField("interval", e.interval))
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Stopping optimizer")
			return nil
		case <-ticker.C:
		case <-e.trigger:
		}
		if _, err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
			e.log.Error("Optimization cycle finished with errors", logger.ErrorField(err))
		}
	}
}

// Trigger asks the Start loop for an extra cycle. It never blocks; a
// trigger arriving while one is already pending is merged with it.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// RunCycle performs one full cycle and returns its report. The report is
// returned even when err is non-nil; err aggregates the steps that could
// not list their candidates.
func (e *Engine) RunCycle(ctx context.Context) (*Report, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	now := e.now()
	report := &Report{StartedAt: now, CategoryEvicted: make(map[string]int)}
	var result error

	if err := e.sweepExpired(ctx, now, report); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.sweepExpiredCache(ctx, now, report); err != nil {
		result = multierror.Append(result, err)
	}
	for _, category := range e.budgetedCategories() {
		c := model.Category(category)
		n, err := e.sweepBudget(ctx, now, model.Filter{Category: &c}, e.budgets[category], metrics.ReasonCategory, report)
		if n > 0 {
			report.CategoryEvicted[category] = n
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("category %s: %w", category, err))
		}
	}
	if e.global > 0 {
		n, err := e.sweepBudget(ctx, now, model.Filter{}, e.global, metrics.ReasonGlobal, report)
		report.GlobalEvicted = n
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("global: %w", err))
		}
	}

	report.FinishedAt = e.now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	if result != nil {
		for _, err := range result.(*multierror.Error).Errors {
			report.Errors = append(report.Errors, err.Error())
		}
	}
	e.finish(ctx, report)
	return report, result
}

func (e *Engine) budgetedCategories() []string {
	out := make([]string, 0, len(e.budgets))
	for category, budget := range e.budgets {
		if budget > 0 {
			out = append(out, category)
		}
	}
	sort.Strings(out)
	return out
}

// evict deletes one record. A record that is already gone counts as
// reclaimed; any other failure is logged and skipped.
func (e *Engine) evict(ctx context.Context, rec *model.MemoryRecord, reason string, report *Report) bool {
	err := e.store.Delete(ctx, rec.ID)
	if err == nil || errors.Is(err, model.ErrNotFound) {
		e.log.Debug("Evicted memory",
			logger.RecordIDField(rec.ID),
			logger.CategoryField(string(rec.Category)),
			logger.StringField("reason", reason))
		return true
	}
	report.Failures++
	e.metrics.IncEvictionFailure()
	e.log.Warn("Failed to evict memory, skipping",
		logger.RecordIDField(rec.ID),
		logger.StringField("reason", reason),
		logger.ErrorField(err))
	return false
}

func (e *Engine) sweepExpired(ctx context.Context, now time.Time, report *Report) error {
	records, err := e.store.List(ctx, model.Filter{})
	if err != nil {
		return fmt.Errorf("ttl sweep: %w", err)
	}
	for i := range records {
		if !records[i].Expired(now) {
			continue
		}
		if e.evict(ctx, &records[i], metrics.ReasonTTL, report) {
			report.ExpiredRecords++
		}
	}
	e.metrics.AddEvictions(metrics.ReasonTTL, report.ExpiredRecords)
	return nil
}

func (e *Engine) sweepExpiredCache(ctx context.Context, now time.Time, report *Report) error {
	entries, err := e.store.ListCache(ctx)
	if err != nil {
		return fmt.Errorf("cache ttl sweep: %w", err)
	}
	for i := range entries {
		if !entries[i].Expired(now) {
			continue
		}
		err := e.store.DeleteCache(ctx, entries[i].Key)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			report.Failures++
			e.metrics.IncEvictionFailure()
			e.log.Warn("Failed to purge cache entry, skipping",
				logger.StringField("component_key", entries[i].Key),
				logger.ErrorField(err))
			continue
		}
		report.ExpiredCache++
	}
	e.metrics.AddEvictions(metrics.ReasonCacheTTL, report.ExpiredCache)
	return nil
}

// sweepBudget deletes the lowest ranked records matching filter until at
// most budget remain. Records carrying a TTL are left to expire on their
// own and are never chosen, so a population made mostly of them can stay
// over budget.
func (e *Engine) sweepBudget(ctx context.Context, now time.Time, filter model.Filter, budget int, reason string, report *Report) (int, error) {
	records, err := e.store.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	excess := len(records) - budget
	if excess <= 0 {
		return 0, nil
	}

	candidates := records[:0]
	for _, rec := range records {
		if rec.ExpiresAt == nil {
			candidates = append(candidates, rec)
		}
	}

	evicted := 0
	for _, scored := range e.scorer.Rank(candidates, now) {
		if evicted == excess {
			break
		}
		if e.evict(ctx, &scored.Record, reason, report) {
			evicted++
		}
	}
	if evicted < excess {
		e.log.Warn("Budget sweep left population over budget",
			logger.StringField("reason", reason),
			logger.IntField("budget", budget),
			logger.IntField("remaining", len(records)-evicted))
	}
	e.metrics.AddEvictions(reason, evicted)
	return evicted, nil
}

func (e *Engine) finish(ctx context.Context, report *Report) {
	e.metrics.ObserveCycle(report.Duration)

	e.lastMu.Lock()
	e.last = report
	e.lastMu.Unlock()

	if e.reports != nil {
		if err := e.reports.PutJSON(ctx, ReportKey, report, 0); err != nil {
			e.log.Warn("Failed to store optimizer report", logger.ErrorField(err))
		}
	}

	e.log.Info("Optimization cycle complete",
		logger.IntField("expired_records", report.ExpiredRecords),
		logger.IntField("expired_cache_entries", report.ExpiredCache),
		logger.IntField("global_evicted", report.GlobalEvicted),
		logger.IntField("evicted", report.Evicted()),
		logger.IntField("failures", report.Failures),
		logger.DurationField("duration", report.Duration))
}

// LastReport returns the most recent report from this process, falling
// back to the one persisted by a previous process. nil means no cycle has run.
func (e *Engine) LastReport(ctx context.Context) (*Report, error) {
	e.lastMu.RLock()
	last := e.last
	e.lastMu.RUnlock()
	if last != nil || e.reports == nil {
		return last, nil
	}

	var stored Report
	ok, err := e.reports.GetJSON(ctx, ReportKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &stored, nil
}
