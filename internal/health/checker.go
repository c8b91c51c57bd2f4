package health

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/portmonhq/portmon/internal/metrics"
)

const defaultCycleStale = 3 * time.Minute

const (
	categoryCyclePending    = "CYCLE_PENDING"
	categoryCycleStale      = "CYCLE_STALE"
	categoryCycleError      = "CYCLE_ERROR"
	categoryChangeLogFailed = "CHANGE_LOG_FAILED"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Checker evaluates readiness conditions for the monitor.
type Checker struct {
	metrics    *metrics.Store
	staleAfter time.Duration

	mu               sync.RWMutex
	lastCycleSuccess time.Time
	cycleErr         string
	lastCycleError   time.Time
	changeLogErr     string
	lastChangeLogErr time.Time
}

// NewChecker constructs a readiness checker bound to the provided metrics store.
func NewChecker(store *metrics.Store, staleAfter time.Duration) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultCycleStale
	}
	return &Checker{
		metrics:    store,
		staleAfter: staleAfter,
	}
}

// ObserveCycle records the outcome of a polling cycle.
func (c *Checker) ObserveCycle(ts time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.cycleErr = err.Error()
		c.lastCycleError = ts
		return
	}
	c.lastCycleSuccess = ts
	c.cycleErr = ""
	c.lastCycleError = time.Time{}
}

// ObserveChangeLogFailure records a change log write that was skipped.
func (c *Checker) ObserveChangeLogFailure(ts time.Time, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.changeLogErr = err.Error()
	c.lastChangeLogErr = ts
	c.mu.Unlock()
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 3)
	categories := make([]metrics.ReadinessCategory, 0, 3)
	appendCategory := func(name, severity string) {
		categories = append(categories, metrics.ReadinessCategory{
			Name:     name,
			Severity: severity,
		})
	}

	c.mu.RLock()
	lastSuccess := c.lastCycleSuccess
	cycleErr := c.cycleErr
	lastErr := c.lastCycleError
	changeLogErr := c.changeLogErr
	lastChangeLogErr := c.lastChangeLogErr
	staleAfter := c.staleAfter
	c.mu.RUnlock()

	if lastSuccess.IsZero() {
		reasons = append(reasons, "no cycle completed yet")
		appendCategory(categoryCyclePending, severityInfo)
	} else if now.Sub(lastSuccess) > staleAfter {
		reasons = append(reasons, fmt.Sprintf("cycles stale (%s)", now.Sub(lastSuccess).Round(time.Second)))
		appendCategory(categoryCycleStale, severityWarning)
	}

	if cycleErr != "" && now.Sub(lastErr) <= staleAfter {
		reasons = append(reasons, fmt.Sprintf("cycle failing: %s", cycleErr))
		appendCategory(categoryCycleError, severityCritical)
	}

	if changeLogErr != "" && now.Sub(lastChangeLogErr) <= staleAfter {
		reasons = append(reasons, fmt.Sprintf("change log not writable: %s", changeLogErr))
		appendCategory(categoryChangeLogFailed, severityWarning)
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		if ready {
			c.metrics.ObserveReadiness(true, "", nil)
		} else {
			c.metrics.ObserveReadiness(false, strings.Join(reasons, "; "), categories)
		}
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}
