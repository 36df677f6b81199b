package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/spb722/ai-companion/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check probes one dependency and reports its status
type Check func(ctx context.Context) (Status, string, error)

// Checker runs periodic health checks against the gateway's dependencies:
// the database, the key-value store and the configured LLM providers.
type Checker struct {
	checks      map[string]Check
	critical    map[string]bool
	components  map[string]*Component
	checkPeriod time.Duration
	mutex       sync.RWMutex
	log         *logger.Logger
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	return &Checker{
		checks:      make(map[string]Check),
		critical:    make(map[string]bool),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		log:         log,
		stop:        make(chan struct{}),
	}
}

// Register adds a health check. Critical components gate the overall status;
// a down non-critical component only degrades it.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = check
	c.critical[name] = critical
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Description: "Not checked yet",
	}
}

// RunChecks executes all registered health checks once
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	c.mutex.RUnlock()

	for _, name := range names {
		c.mutex.RLock()
		check := c.checks[name]
		c.mutex.RUnlock()

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, description, err := check(checkCtx)
		cancel()

		c.mutex.Lock()
		component := c.components[name]
		component.Status = status
		component.Description = description
		component.LastChecked = time.Now()
		if err != nil {
			component.Error = err.Error()
		} else {
			component.Error = ""
		}
		c.mutex.Unlock()

		if err != nil {
			c.log.Warn("Health check failed",
				"component", name,
				"status", string(status),
				"error", err.Error(),
			)
		}
	}
}

// Start begins periodic health checks
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.RunChecks(ctx)
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the periodic checks
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Snapshot returns a copy of the current component states
func (c *Checker) Snapshot() map[string]Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]Component, len(c.components))
	for k, v := range c.components {
		result[k] = *v
	}
	return result
}

// Overall reduces the component states to one gateway status. Any critical
// component down takes the gateway down; anything else wrong degrades it.
func (c *Checker) Overall() Status {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	overall := StatusUp
	for name, component := range c.components {
		if component.Status == StatusDown && c.critical[name] {
			return StatusDown
		}
		if component.Status != StatusUp {
			overall = StatusDegraded
		}
	}
	return overall
}

// Handler serves the health endpoint. A down gateway answers 503 so load
// balancers can rotate the instance out.
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		overall := c.Overall()

		code := http.StatusOK
		if overall == StatusDown {
			code = http.StatusServiceUnavailable
		}

		ctx.JSON(code, gin.H{
			"status":     overall,
			"timestamp":  time.Now().UTC(),
			"components": c.Snapshot(),
		})
	}
}
