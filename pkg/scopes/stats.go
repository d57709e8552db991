package scopes

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DecisionStats accumulates decision counters for the stats endpoint.
// Counters are cumulative since process start.
type DecisionStats struct {
	allows   atomic.Int64
	denies   atomic.Int64
	degraded atomic.Int64

	mu       sync.Mutex
	byReason map[Reason]int64
}

// NewDecisionStats creates an empty counter set
func NewDecisionStats() *DecisionStats {
	return &DecisionStats{
		byReason: make(map[Reason]int64),
	}
}

// Record counts one decision outcome
func (s *DecisionStats) Record(decision Decision) {
	if decision.Allowed {
		s.allows.Add(1)
	} else {
		s.denies.Add(1)
	}
	if decision.Degraded {
		s.degraded.Add(1)
	}

	s.mu.Lock()
	s.byReason[decision.Reason]++
	s.mu.Unlock()
}

// DecisionStatsSnapshot is a point-in-time view of the counters
type DecisionStatsSnapshot struct {
	Allows   int64            `json:"allows"`
	Denies   int64            `json:"denies"`
	Degraded int64            `json:"degraded"`
	ByReason map[Reason]int64 `json:"by_reason"`
}

// Snapshot returns current counter values
func (s *DecisionStats) Snapshot() DecisionStatsSnapshot {
	snapshot := DecisionStatsSnapshot{
		Allows:   s.allows.Load(),
		Denies:   s.denies.Load(),
		Degraded: s.degraded.Load(),
		ByReason: make(map[Reason]int64),
	}
	s.mu.Lock()
	for reason, count := range s.byReason {
		snapshot.ByReason[reason] = count
	}
	s.mu.Unlock()
	return snapshot
}

// DetectDeploymentType auto-detects the deployment environment from
// environment variables. Detection order: Kubernetes, ECS, EC2, Local.
func DetectDeploymentType() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "Kubernetes"
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("ECS_CONTAINER_METADATA_URI_V4") != "" {
		return "ECS"
	}
	if os.Getenv("AWS_EXECUTION_ENV") == "AWS_ECS_EC2" {
		return "EC2"
	}
	return "Local"
}

// statsCacheTTL bounds how often the stats snapshot recomputes; the scope
// count walks the store, so the endpoint caches briefly to reduce load.
const statsCacheTTL = 30 * time.Second

// SystemStats is the response body for the stats endpoint
type SystemStats struct {
	UptimeSeconds  int64                 `json:"uptime_seconds"`
	StartedAt      time.Time             `json:"started_at"`
	Version        string                `json:"version"`
	DeploymentType string                `json:"deployment_type"`
	Scopes         int                   `json:"scopes"`
	Decisions      DecisionStatsSnapshot `json:"decisions"`
	Cache          CacheStats            `json:"cache"`
}

// StatsService assembles system statistics with a short-lived cache
type StatsService struct {
	version   string
	startedAt time.Time
	store     Store
	cache     *PermissionCache
	decisions *DecisionStats

	mu       sync.Mutex
	cached   *SystemStats
	cachedAt time.Time
}

// NewStatsService creates a stats service; decisions may be shared with the
// decision point
func NewStatsService(version string, store Store, cache *PermissionCache, decisions *DecisionStats) *StatsService {
	return &StatsService{
		version:   version,
		startedAt: time.Now().UTC(),
		store:     store,
		cache:     cache,
		decisions: decisions,
	}
}

// Stats returns current system statistics, recomputing at most every 30s
func (s *StatsService) Stats(ctx context.Context) (*SystemStats, error) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.cachedAt) < statsCacheTTL {
		cached := *s.cached
		s.mu.Unlock()
		return &cached, nil
	}
	s.mu.Unlock()

	docs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stats := &SystemStats{
		UptimeSeconds:  int64(now.Sub(s.startedAt).Seconds()),
		StartedAt:      s.startedAt,
		Version:        s.version,
		DeploymentType: DetectDeploymentType(),
		Scopes:         len(docs),
		Decisions:      s.decisions.Snapshot(),
		Cache:          s.cache.Stats(),
	}

	s.mu.Lock()
	s.cached = stats
	s.cachedAt = now
	s.mu.Unlock()

	cached := *stats
	return &cached, nil
}

// SystemInfo is the response body for the info endpoint
type SystemInfo struct {
	Service        string    `json:"service"`
	Version        string    `json:"version"`
	DeploymentType string    `json:"deployment_type"`
	StartedAt      time.Time `json:"started_at"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
}

// Info returns static service information
func (s *StatsService) Info() SystemInfo {
	now := time.Now().UTC()
	return SystemInfo{
		Service:        "mcpgate",
		Version:        s.version,
		DeploymentType: DetectDeploymentType(),
		StartedAt:      s.startedAt,
		UptimeSeconds:  int64(now.Sub(s.startedAt).Seconds()),
	}
}
