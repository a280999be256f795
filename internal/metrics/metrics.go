// Package metrics provides in-process counters for engine observability.
package metrics

import "sync"

// Collector accumulates engine counters. All methods are safe for
// concurrent use. A nil *Collector is a valid no-op sink, so components
// can take one optionally.
type Collector struct {
	mu sync.RWMutex

	tasksCreated   int64
	tasksApproved  int64
	tasksFailed    int64
	nodesExecuted  int64
	nodesCancelled int64
	qcApproved     int64
	qcRejected     int64

	cacheHits      int64
	cacheNearHits  int64
	cacheMisses    int64
	tokensSaved    int64
	costSavedUSD   float64
	tokensUsed     map[string]int64
	callsMade      map[string]int64
	costUSD        map[string]float64
	budgetRefusals int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		tokensUsed: make(map[string]int64),
		callsMade:  make(map[string]int64),
		costUSD:    make(map[string]float64),
	}
}

// RecordTaskCreated counts a submitted task.
func (c *Collector) RecordTaskCreated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasksCreated++
	c.mu.Unlock()
}

// RecordTaskOutcome counts a terminal task state.
func (c *Collector) RecordTaskOutcome(approved bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if approved {
		c.tasksApproved++
	} else {
		c.tasksFailed++
	}
	c.mu.Unlock()
}

// RecordNodeExecuted counts a node handed to a worker.
func (c *Collector) RecordNodeExecuted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.nodesExecuted++
	c.mu.Unlock()
}

// RecordNodeCancelled counts a node cancelled before starting.
func (c *Collector) RecordNodeCancelled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.nodesCancelled++
	c.mu.Unlock()
}

// RecordQCVerdict counts a quality gate decision.
func (c *Collector) RecordQCVerdict(approved bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if approved {
		c.qcApproved++
	} else {
		c.qcRejected++
	}
	c.mu.Unlock()
}

// RecordCacheHit counts a reuse. tokensSaved and costSaved come from the
// stored entry, not the new query.
func (c *Collector) RecordCacheHit(near bool, tokensSaved int64, costSavedUSD float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if near {
		c.cacheNearHits++
	} else {
		c.cacheHits++
	}
	c.tokensSaved += tokensSaved
	c.costSavedUSD += costSavedUSD
	c.mu.Unlock()
}

// RecordCacheMiss counts a lookup that found nothing usable.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

// RecordUsage counts attempted consumption against a provider.
func (c *Collector) RecordUsage(provider string, tokens int64, calls int64, costUSD float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tokensUsed[provider] += tokens
	c.callsMade[provider] += calls
	c.costUSD[provider] += costUSD
	c.mu.Unlock()
}

// RecordBudgetRefusal counts a ledger check that blocked an execution.
func (c *Collector) RecordBudgetRefusal() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.budgetRefusals++
	c.mu.Unlock()
}

// Summary is a point-in-time snapshot of all counters.
type Summary struct {
	TasksCreated   int64
	TasksApproved  int64
	TasksFailed    int64
	NodesExecuted  int64
	NodesCancelled int64
	QCApproved     int64
	QCRejected     int64
	QCApprovalRate float64
	CacheHits      int64
	CacheNearHits  int64
	CacheMisses    int64
	CacheHitRate   float64
	TokensSaved    int64
	CostSavedUSD   float64
	TokensUsed     map[string]int64
	CallsMade      map[string]int64
	CostUSD        map[string]float64
	BudgetRefusals int64
}

// Summary returns a copy of the current counters.
func (c *Collector) Summary() Summary {
	if c == nil {
		return Summary{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Summary{
		TasksCreated:   c.tasksCreated,
		TasksApproved:  c.tasksApproved,
		TasksFailed:    c.tasksFailed,
		NodesExecuted:  c.nodesExecuted,
		NodesCancelled: c.nodesCancelled,
		QCApproved:     c.qcApproved,
		QCRejected:     c.qcRejected,
		CacheHits:      c.cacheHits,
		CacheNearHits:  c.cacheNearHits,
		CacheMisses:    c.cacheMisses,
		TokensSaved:    c.tokensSaved,
		CostSavedUSD:   c.costSavedUSD,
		TokensUsed:     make(map[string]int64, len(c.tokensUsed)),
		CallsMade:      make(map[string]int64, len(c.callsMade)),
		CostUSD:        make(map[string]float64, len(c.costUSD)),
		BudgetRefusals: c.budgetRefusals,
	}
	for k, v := range c.tokensUsed {
		s.TokensUsed[k] = v
	}
	for k, v := range c.callsMade {
		s.CallsMade[k] = v
	}
	for k, v := range c.costUSD {
		s.CostUSD[k] = v
	}

	if verdicts := c.qcApproved + c.qcRejected; verdicts > 0 {
		s.QCApprovalRate = float64(c.qcApproved) / float64(verdicts)
	}
	hits := c.cacheHits + c.cacheNearHits
	if lookups := hits + c.cacheMisses; lookups > 0 {
		s.CacheHitRate = float64(hits) / float64(lookups)
	}
	return s
}
