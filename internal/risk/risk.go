// Package risk layers fixed-window counters over every state mutation.
// Counters are scoped global/account/ip/action; a circuit breaker opens
// an action's window after too many failures; a global pause switch
// rejects every mutation. Modes: off (skip), monitor (log only),
// enforce (reject).
package risk

import (
	"log"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nyxlabs/testnet-gateway/internal/apierr"
	"github.com/nyxlabs/testnet-gateway/internal/metrics"
)

const (
	ModeOff     = "off"
	ModeMonitor = "monitor"
	ModeEnforce = "enforce"
)

// Limit bounds one scope within its window. Zero means unlimited on
// that dimension.
type Limit struct {
	MaxCount  int64
	MaxAmount int64
	Window    time.Duration
}

func (l Limit) window() time.Duration {
	if l.Window <= 0 {
		return time.Minute
	}
	return l.Window
}

// Config is the engine's full knob set.
type Config struct {
	Mode                string
	GlobalPaused        bool
	Global              Limit
	Account             Limit
	IP                  Limit
	ActionLimits        map[string]Limit
	BreakerErrorsPerMin int64
	BreakerWindow       time.Duration
}

type cell struct {
	count  int64
	amount int64
	window int64
}

// Engine is safe for concurrent use; all counter state sits behind one
// mutex, bounded by the expiring LRU so idle keys age out.
type Engine struct {
	cfg Config
	m   *metrics.Metrics
	now func() time.Time

	mu       sync.Mutex
	counters *lru.LRU[string, *cell]
	errors   *lru.LRU[string, *cell]
	breakers *lru.LRU[string, int64]
}

// New builds the engine. metricsSink may be nil.
func New(cfg Config, metricsSink *metrics.Metrics) *Engine {
	if cfg.BreakerWindow <= 0 {
		cfg.BreakerWindow = time.Minute
	}
	ttl := 2 * time.Minute
	return &Engine{
		cfg:      cfg,
		m:        metricsSink,
		now:      time.Now,
		counters: lru.NewLRU[string, *cell](4096, nil, ttl),
		errors:   lru.NewLRU[string, *cell](1024, nil, ttl),
		breakers: lru.NewLRU[string, int64](1024, nil, ttl),
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) windowID(window time.Duration) int64 {
	return e.now().Unix() / int64(window/time.Second)
}

func (e *Engine) bump(key string, limit Limit, amount int64) (int64, int64) {
	window := e.windowID(limit.window())
	c, ok := e.counters.Get(key)
	if !ok || c.window != window {
		c = &cell{window: window}
		e.counters.Add(key, c)
	}
	c.count++
	if amount > 0 {
		c.amount += amount
	}
	return c.count, c.amount
}

func (e *Engine) deny(scope, dimension string, limit, current, amount int64) error {
	if e.m != nil {
		e.m.RiskRejections.WithLabelValues(scope, e.cfg.Mode).Inc()
	}
	if e.cfg.Mode == ModeMonitor {
		log.Printf("risk: %s %s limit exceeded %d/%d (monitor)", scope, dimension, current, limit)
		return nil
	}
	return apierr.New(apierr.CodeRiskLimit, "risk limit exceeded", http.StatusTooManyRequests).
		WithDetails(map[string]any{
			"scope": scope, "dimension": dimension,
			"limit": limit, "current": current, "amount": amount,
		})
}

func (e *Engine) checkLimit(scope, key string, limit Limit, amount int64) error {
	if limit.MaxCount == 0 && limit.MaxAmount == 0 {
		return nil
	}
	count, total := e.bump(key, limit, amount)
	if limit.MaxCount > 0 && count > limit.MaxCount {
		return e.deny(scope, "count", limit.MaxCount, count, amount)
	}
	if limit.MaxAmount > 0 && total > limit.MaxAmount {
		return e.deny(scope, "amount", limit.MaxAmount, total, amount)
	}
	return nil
}

func (e *Engine) breakerOpen(action string) bool {
	window, ok := e.breakers.Get(action)
	return ok && window == e.windowID(e.cfg.BreakerWindow)
}

// Check admits or rejects one mutation attempt. Counters always bump,
// even in monitor mode, so flipping to enforce takes effect instantly.
func (e *Engine) Check(action, accountID, clientIP string, amount int64) error {
	if e.cfg.Mode == ModeOff {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.GlobalPaused {
		if e.m != nil {
			e.m.RiskRejections.WithLabelValues("global_pause", e.cfg.Mode).Inc()
		}
		if e.cfg.Mode == ModeEnforce {
			return apierr.New(apierr.CodeGlobalMutationsPaused, "state mutations are paused", http.StatusServiceUnavailable)
		}
		log.Printf("risk: global mutations paused (monitor)")
	}
	if e.breakerOpen(action) {
		if err := e.deny("circuit_breaker", "count", 0, 1, amount); err != nil {
			return err
		}
	}

	if err := e.checkLimit("global", "global:"+action, e.cfg.Global, amount); err != nil {
		return err
	}
	if accountID != "" {
		if err := e.checkLimit("account", "account:"+accountID+":"+action, e.cfg.Account, amount); err != nil {
			return err
		}
	}
	if clientIP != "" {
		if err := e.checkLimit("ip", "ip:"+clientIP+":"+action, e.cfg.IP, amount); err != nil {
			return err
		}
	}
	if limit, ok := e.cfg.ActionLimits[action]; ok {
		if err := e.checkLimit("action:"+action, "action:"+action, limit, amount); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure counts an action failure toward the circuit breaker and
// opens it when the threshold is reached within the window.
func (e *Engine) RecordFailure(action string) {
	if e.cfg.BreakerErrorsPerMin <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	window := e.windowID(e.cfg.BreakerWindow)
	c, ok := e.errors.Get(action)
	if !ok || c.window != window {
		c = &cell{window: window}
		e.errors.Add(action, c)
	}
	c.count++
	if c.count >= e.cfg.BreakerErrorsPerMin {
		e.breakers.Add(action, window)
		log.Printf("risk: circuit breaker opened for %s (%d errors)", action, c.count)
	}
}
