// Package ledger tracks cumulative resource usage per provider and time
// window. It is pure bookkeeping: no external calls, no background goroutines
// beyond advisory alert delivery.
package ledger

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rgoodall/quartermaster/internal/metrics"
)

// DefaultWarnThreshold is the fraction of a limit at which advisory alerts fire.
const DefaultWarnThreshold = 0.80

// Limits holds the per-day ceilings for one provider. A zero value means
// unlimited for that resource.
type Limits struct {
	TokensPerDay  int64
	CallsPerDay   int64
	CostPerDayUSD float64
}

// Config holds the ledger's limit configuration. Loaded once at startup and
// immutable for the process lifetime.
type Config struct {
	// Providers maps provider name to its daily limits.
	Providers map[string]Limits
	// CostPerMonthUSD is the global monthly cost ceiling aggregated across
	// providers. Zero means unlimited.
	CostPerMonthUSD float64
	// WarnThreshold is the fraction at which advisory alerts fire.
	// Defaults to 0.80 when zero.
	WarnThreshold float64
}

// Alert is an advisory notification that usage crossed the warning threshold.
// Alerts never block recording.
type Alert struct {
	// Provider is the provider whose limit is near. Empty for the global
	// monthly cost limit.
	Provider string
	// Resource is one of "tokens", "calls", "cost", "month_cost".
	Resource string
	// Used and Limit are the current totals.
	Used  float64
	Limit float64
}

// ExceededError reports that a consumption request would overshoot a limit.
type ExceededError struct {
	// Provider is the provider whose limit blocked the request. Empty for
	// the global monthly cost limit.
	Provider string
	// Resource is the first limit that would be exceeded.
	Resource string
}

// Error implements the error interface.
func (e *ExceededError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("budget exceeded: global %s limit reached", e.Resource)
	}
	return fmt.Sprintf("budget exceeded: %s %s limit reached", e.Provider, e.Resource)
}

// Code returns the machine-readable error code.
func (e *ExceededError) Code() string { return "BUDGET_EXCEEDED" }

// usage holds running totals for one (provider, day) key.
type usage struct {
	Tokens int64
	Calls  int64
	Cost   float64
}

// Ledger is the shared, atomically-updated record of resource consumption.
// The check-then-record sequence is a single critical section, so concurrent
// callers can never jointly overshoot a limit. The ledger tracks attempted
// consumption: failed runner calls still count.
type Ledger struct {
	mu     sync.Mutex
	cfg    Config
	days   map[string]*usage  // "provider|YYYY-MM-DD" -> totals
	months map[string]float64 // "YYYY-MM" -> cost across providers
	warned map[string]bool    // alert de-duplication per (key, resource)

	alertFn func(Alert)
	now     func() time.Time
	store   *Store
	metrics *metrics.Collector
}

// New creates a ledger with the given limit configuration.
func New(cfg Config) *Ledger {
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = DefaultWarnThreshold
	}
	return &Ledger{
		cfg:    cfg,
		days:   make(map[string]*usage),
		months: make(map[string]float64),
		warned: make(map[string]bool),
		now:    time.Now,
	}
}

// SetAlertFunc installs the advisory alert callback. Alerts are delivered on
// their own goroutine and must not be relied on for ordering.
func (l *Ledger) SetAlertFunc(fn func(Alert)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alertFn = fn
}

// SetClock overrides the time source. Used by tests and day-rollover checks.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// SetMetrics attaches a metrics collector for usage counters.
func (l *Ledger) SetMetrics(m *metrics.Collector) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// AttachStore loads persisted day rows into the ledger and keeps the store
// updated on every record.
func (l *Ledger) AttachStore(s *Store) error {
	rows, err := s.Load()
	if err != nil {
		return fmt.Errorf("load ledger store: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = s
	for _, r := range rows {
		l.days[r.Provider+"|"+r.Day] = &usage{Tokens: r.Tokens, Calls: r.Calls, Cost: r.Cost}
		if len(r.Day) >= 7 {
			l.months[r.Day[:7]] += r.Cost
		}
	}
	return nil
}

func dayKey(provider string, t time.Time) string {
	return provider + "|" + t.UTC().Format("2006-01-02")
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CanConsume reports whether recording the given consumption (tokens, one
// call, cost) now would stay within every configured limit. Callers that
// need check-and-record atomicity use TryConsume instead.
func (l *Ledger) CanConsume(provider string, tokens int64, costUSD float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.checkLocked(provider, tokens, 1, costUSD)
	return ok
}

// Record adds consumption to the current window unconditionally. One call is
// counted per invocation. Used for post-hoc reconciliation (actual usage that
// overran the reserved estimate) and for free providers without limits.
func (l *Ledger) Record(provider string, tokens int64, costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(provider, tokens, 1, costUSD)
}

// RecordDelta adds consumption without counting an additional call.
func (l *Ledger) RecordDelta(provider string, tokens int64, costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(provider, tokens, 0, costUSD)
}

// TryConsume atomically checks every limit and records the consumption if
// all pass. It returns an *ExceededError naming the first violated limit
// otherwise; nothing is recorded on refusal.
func (l *Ledger) TryConsume(provider string, tokens int64, costUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	resource, ok := l.checkLocked(provider, tokens, 1, costUSD)
	if !ok {
		l.metrics.RecordBudgetRefusal()
		exceeded := &ExceededError{Provider: provider, Resource: resource}
		if resource == "month_cost" {
			exceeded.Provider = ""
		}
		return exceeded
	}
	l.recordLocked(provider, tokens, 1, costUSD)
	return nil
}

// checkLocked returns the first resource whose limit the increment would
// exceed, or ok=true. Must be called with the lock held.
func (l *Ledger) checkLocked(provider string, tokens, calls int64, costUSD float64) (string, bool) {
	limits := l.cfg.Providers[provider]
	day := l.days[dayKey(provider, l.now())]
	if day == nil {
		day = &usage{}
	}

	if limits.TokensPerDay > 0 && day.Tokens+tokens > limits.TokensPerDay {
		return "tokens", false
	}
	if limits.CallsPerDay > 0 && day.Calls+calls > limits.CallsPerDay {
		return "calls", false
	}
	if limits.CostPerDayUSD > 0 && day.Cost+costUSD > limits.CostPerDayUSD {
		return "cost", false
	}
	if l.cfg.CostPerMonthUSD > 0 && l.months[monthKey(l.now())]+costUSD > l.cfg.CostPerMonthUSD {
		return "month_cost", false
	}
	return "", true
}

// recordLocked applies the increment, persists it, and fires threshold
// alerts. Must be called with the lock held.
func (l *Ledger) recordLocked(provider string, tokens, calls int64, costUSD float64) {
	now := l.now()
	key := dayKey(provider, now)
	day := l.days[key]
	if day == nil {
		day = &usage{}
		l.days[key] = day
	}
	day.Tokens += tokens
	day.Calls += calls
	day.Cost += costUSD
	l.months[monthKey(now)] += costUSD

	l.metrics.RecordUsage(provider, tokens, calls, costUSD)

	if l.store != nil {
		if err := l.store.Upsert(provider, now.UTC().Format("2006-01-02"), day.Tokens, day.Calls, day.Cost); err != nil {
			log.Printf("[ledger] warning: failed to persist usage for %s: %v", provider, err)
		}
	}

	l.fireAlertsLocked(provider, key, day, now)
}

// fireAlertsLocked emits one advisory alert per (day key, resource) crossing
// the warning threshold. Must be called with the lock held.
func (l *Ledger) fireAlertsLocked(provider, key string, day *usage, now time.Time) {
	if l.alertFn == nil {
		return
	}
	limits := l.cfg.Providers[provider]
	threshold := l.cfg.WarnThreshold

	type candidate struct {
		resource string
		used     float64
		limit    float64
	}
	candidates := []candidate{
		{"tokens", float64(day.Tokens), float64(limits.TokensPerDay)},
		{"calls", float64(day.Calls), float64(limits.CallsPerDay)},
		{"cost", day.Cost, limits.CostPerDayUSD},
		{"month_cost", l.months[monthKey(now)], l.cfg.CostPerMonthUSD},
	}
	for _, c := range candidates {
		if c.limit <= 0 || c.used < threshold*c.limit {
			continue
		}
		warnKey := key + "|" + c.resource
		if c.resource == "month_cost" {
			warnKey = monthKey(now) + "|month_cost"
		}
		if l.warned[warnKey] {
			continue
		}
		l.warned[warnKey] = true

		alert := Alert{Provider: provider, Resource: c.resource, Used: c.used, Limit: c.limit}
		if c.resource == "month_cost" {
			alert.Provider = ""
		}
		go l.alertFn(alert)
	}
}

// Utilization holds the fraction of each daily limit consumed for one
// provider. Unlimited resources report zero.
type Utilization struct {
	Tokens float64
	Calls  float64
	Cost   float64
}

// Max returns the highest fraction across the provider's resources.
func (u Utilization) Max() float64 {
	m := u.Tokens
	if u.Calls > m {
		m = u.Calls
	}
	if u.Cost > m {
		m = u.Cost
	}
	return m
}

// Snapshot is a point-in-time view of ledger utilization, used by the
// planner for backpressure decisions.
type Snapshot struct {
	// Providers maps provider name to its current-day utilization.
	Providers map[string]Utilization
	// MonthCost is the fraction of the global monthly cost limit consumed.
	MonthCost float64
}

// Max returns the highest utilization fraction across all tracked resources.
func (s Snapshot) Max() float64 {
	m := s.MonthCost
	for _, u := range s.Providers {
		if f := u.Max(); f > m {
			m = f
		}
	}
	return m
}

// NearLimit reports whether any tracked resource is at or above the fraction.
func (s Snapshot) NearLimit(fraction float64) bool {
	return s.Max() >= fraction
}

// Snapshot returns current-window utilization for every configured provider.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	snap := Snapshot{Providers: make(map[string]Utilization, len(l.cfg.Providers))}

	for provider, limits := range l.cfg.Providers {
		day := l.days[dayKey(provider, now)]
		if day == nil {
			day = &usage{}
		}
		var u Utilization
		if limits.TokensPerDay > 0 {
			u.Tokens = float64(day.Tokens) / float64(limits.TokensPerDay)
		}
		if limits.CallsPerDay > 0 {
			u.Calls = float64(day.Calls) / float64(limits.CallsPerDay)
		}
		if limits.CostPerDayUSD > 0 {
			u.Cost = day.Cost / limits.CostPerDayUSD
		}
		snap.Providers[provider] = u
	}
	if l.cfg.CostPerMonthUSD > 0 {
		snap.MonthCost = l.months[monthKey(now)] / l.cfg.CostPerMonthUSD
	}
	return snap
}

// Usage returns the raw current-day totals for a provider.
func (l *Ledger) Usage(provider string) (tokens int64, calls int64, costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	day := l.days[dayKey(provider, l.now())]
	if day == nil {
		return 0, 0, 0
	}
	return day.Tokens, day.Calls, day.Cost
}
