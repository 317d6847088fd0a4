package provider

import (
	"sort"
	"time"

	"cryptolens/models"
)

// Descriptor is one provider's static position in a field-group's fallback
// chain. Rank is the configured priority; lower is preferred. Index is the
// position in the configuration file, used to break priority ties.
type Descriptor struct {
	Name  string
	Rank  int
	Index int
}

// Candidate is a descriptor annotated with the health severity used for
// ordering. Lower severity sorts first:
//
//	0 healthy
//	1 degraded
//	2 unavailable with expired cooldown (single probe attempt)
//
// Providers still inside their cooldown window are excluded entirely.
type Candidate struct {
	Descriptor
	Severity int
	Health   HealthSnapshot
}

// ChainSelector orders the candidate providers for a field-group. Pure
// function of the static configuration and the current health snapshots; it
// performs no I/O.
type ChainSelector struct {
	health Health
	chains map[string][]Descriptor
}

func NewChainSelector(health Health, chains map[string][]Descriptor) *ChainSelector {
	return &ChainSelector{health: health, chains: chains}
}

// Groups lists the field-groups the selector knows about.
func (s *ChainSelector) Groups() []string {
	groups := make([]string, 0, len(s.chains))
	for g := range s.chains {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// HasGroup reports whether a fallback chain is configured for the group.
func (s *ChainSelector) HasGroup(group string) bool {
	_, ok := s.chains[group]
	return ok
}

// OrderedProviders returns the fallback chain for a field-group sorted by
// (health severity, priority rank, configuration order).
func (s *ChainSelector) OrderedProviders(group string, now time.Time) []Candidate {
	descriptors := s.chains[group]
	candidates := make([]Candidate, 0, len(descriptors))

	for _, d := range descriptors {
		snap := s.health.Snapshot(d.Name)
		if snap.InCooldown(now) {
			continue
		}
		severity := 0
		switch snap.State {
		case models.HealthDegraded:
			severity = 1
		case models.HealthUnavailable:
			// Cooldown expired: re-admit for one probe attempt.
			severity = 2
		}
		candidates = append(candidates, Candidate{Descriptor: d, Severity: severity, Health: snap})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Severity != candidates[j].Severity {
			return candidates[i].Severity < candidates[j].Severity
		}
		if candidates[i].Rank != candidates[j].Rank {
			return candidates[i].Rank < candidates[j].Rank
		}
		return candidates[i].Index < candidates[j].Index
	})
	return candidates
}

// ChainsFromConfig converts the configured per-group provider lists into
// descriptors. Slice order doubles as the priority rank.
func ChainsFromConfig(groups map[string][]string) map[string][]Descriptor {
	chains := make(map[string][]Descriptor, len(groups))
	for group, names := range groups {
		descriptors := make([]Descriptor, 0, len(names))
		for i, name := range names {
			descriptors = append(descriptors, Descriptor{Name: name, Rank: i, Index: i})
		}
		chains[group] = descriptors
	}
	return chains
}
