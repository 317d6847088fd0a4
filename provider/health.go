package provider

import (
	"sync"
	"time"

	"cryptolens/models"
)

// HealthSnapshot is a point-in-time view of one provider's reliability.
type HealthSnapshot struct {
	State               models.HealthState
	ConsecutiveFailures int
	CooldownUntil       time.Time
	UpdatedAt           time.Time
}

// InCooldown reports whether an unavailable provider must still be skipped.
func (s HealthSnapshot) InCooldown(now time.Time) bool {
	return s.State == models.HealthUnavailable && now.Before(s.CooldownUntil)
}

// Health is the injectable store of provider health state shared across all
// concurrent requests. Observations carry the time they were made so a slow
// call reporting late can escalate severity but never roll back a more
// severe transition recorded in the meantime.
type Health interface {
	ReportSuccess(name string, observedAt time.Time)
	ReportFailure(name string, observedAt time.Time)
	Snapshot(name string) HealthSnapshot
}

// HealthRegistry implements Health with one lock per provider.
type HealthRegistry struct {
	failureThreshold int
	cooldownBase     time.Duration
	cooldownMax      time.Duration

	mu     sync.Mutex
	states map[string]*healthState
}

type healthState struct {
	mu                  sync.Mutex
	state               models.HealthState
	consecutiveFailures int
	cooldownUntil       time.Time
	updatedAt           time.Time
}

func NewHealthRegistry(failureThreshold int, cooldownBase, cooldownMax time.Duration) *HealthRegistry {
	return &HealthRegistry{
		failureThreshold: failureThreshold,
		cooldownBase:     cooldownBase,
		cooldownMax:      cooldownMax,
		states:           make(map[string]*healthState),
	}
}

func (r *HealthRegistry) state(name string) *healthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[name]
	if !ok {
		s = &healthState{state: models.HealthHealthy}
		r.states[name] = s
	}
	return s
}

// ReportSuccess marks the provider healthy. A success observed before the
// currently recorded state does not soften it.
func (r *HealthRegistry) ReportSuccess(name string, observedAt time.Time) {
	s := r.state(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if observedAt.Before(s.updatedAt) && s.state > models.HealthHealthy {
		return
	}
	s.state = models.HealthHealthy
	s.consecutiveFailures = 0
	s.cooldownUntil = time.Time{}
	s.updatedAt = observedAt
}

// ReportFailure degrades the provider, moving it to unavailable with an
// exponential cooldown once the consecutive-failure threshold is reached.
func (r *HealthRegistry) ReportFailure(name string, observedAt time.Time) {
	s := r.state(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveFailures++
	if s.consecutiveFailures >= r.failureThreshold {
		s.state = models.HealthUnavailable
		s.cooldownUntil = observedAt.Add(r.cooldown(s.consecutiveFailures))
	} else if s.state < models.HealthDegraded {
		s.state = models.HealthDegraded
	}
	if observedAt.After(s.updatedAt) {
		s.updatedAt = observedAt
	}
}

// cooldown doubles with each failure beyond the threshold, capped at the
// configured maximum.
func (r *HealthRegistry) cooldown(failures int) time.Duration {
	d := r.cooldownBase
	for i := r.failureThreshold; i < failures; i++ {
		d *= 2
		if d >= r.cooldownMax {
			return r.cooldownMax
		}
	}
	if d > r.cooldownMax {
		return r.cooldownMax
	}
	return d
}

func (r *HealthRegistry) Snapshot(name string) HealthSnapshot {
	s := r.state(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return HealthSnapshot{
		State:               s.state,
		ConsecutiveFailures: s.consecutiveFailures,
		CooldownUntil:       s.cooldownUntil,
		UpdatedAt:           s.updatedAt,
	}
}
