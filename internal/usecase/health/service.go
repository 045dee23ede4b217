package health

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates every component failed.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

const checkTimeout = 5 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Pinger is satisfied by the shared Redis store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker is satisfied by generation, ranking and embedding clients.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Service coordinates health checks.
type Service struct {
	cache     Pinger
	providers map[string]Checker
}

// New creates a Service. cache can be nil when caching is off; providers are
// keyed by the name reported in Checks.
func New(cache Pinger, providers map[string]Checker) *Service {
	return &Service{cache: cache, providers: maps.Clone(providers)}
}

// Check runs health checks against all components concurrently.
func (s *Service) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]CheckResult, len(s.providers)+1)
	)
	run := func(name string, fn func(context.Context) error) {
		defer wg.Done()
		res := CheckOK
		if err := fn(ctx); err != nil {
			res = CheckError
		}
		mu.Lock()
		checks[name] = res
		mu.Unlock()
	}

	if s.cache != nil {
		wg.Add(1)
		go run("cache", s.cache.Ping)
	}
	for _, name := range slices.Sorted(maps.Keys(s.providers)) {
		wg.Add(1)
		go run(name, s.providers[name].HealthCheck)
	}
	wg.Wait()

	failed := 0
	for _, v := range checks {
		if v == CheckError {
			failed++
		}
	}

	status := Healthy
	switch {
	case failed > 0 && failed == len(checks):
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}
	return Report{Status: status, Checks: checks}
}
