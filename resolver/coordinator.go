package resolver

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"cryptolens/cache"
	"cryptolens/logger"
	"cryptolens/metrics"
	"cryptolens/models"
	"cryptolens/provider"
)

// Policy supplies freshness TTLs and conflict thresholds. *config.Config
// satisfies it; tests substitute fixed values.
type Policy interface {
	TTLFor(tool, group string) time.Duration
	ConflictThresholdFor(field string) float64
}

// Outcome is the result of resolving one field-group. Unavailable outcomes
// carry no fields or meta, only warnings; they degrade the field-group, not
// the request.
type Outcome struct {
	Group       string
	Fields      map[string]interface{}
	Meta        *models.SourceMeta
	Conflicts   []models.ConflictRecord
	Warnings    []string
	Unavailable bool
}

// Coordinator produces a (fields, SourceMeta) pair per field-group via
// cache-or-fetch with the fallback chain. Shared across requests; all state
// it touches (cache, health) is safe for concurrent use.
type Coordinator struct {
	cache           cache.Backend
	selector        *provider.ChainSelector
	registry        *provider.Registry
	health          provider.Health
	policy          Policy
	metrics         *metrics.Metrics
	log             *logger.Log
	providerTimeout time.Duration
	staleIfError    bool
	alwaysRecord    bool
	verifyWith      map[string]string
	now             func() time.Time
	sf              *singleflight.Group
}

// CoordinatorConfig wires the coordinator's collaborators.
type CoordinatorConfig struct {
	Cache           cache.Backend
	Selector        *provider.ChainSelector
	Registry        *provider.Registry
	Health          provider.Health
	Policy          Policy
	Metrics         *metrics.Metrics
	Log             *logger.Log
	ProviderTimeout time.Duration
	StaleIfError    bool
	AlwaysRecord    bool
	// Singleflight collapses concurrent cold-miss fetches of the same
	// fingerprint into one upstream call.
	Singleflight bool
	// VerifyWith maps a field-group to an extra provider queried for
	// cross-validation of the primary result.
	VerifyWith map[string]string
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	c := &Coordinator{
		cache:           cfg.Cache,
		selector:        cfg.Selector,
		registry:        cfg.Registry,
		health:          cfg.Health,
		policy:          cfg.Policy,
		metrics:         cfg.Metrics,
		log:             cfg.Log,
		providerTimeout: cfg.ProviderTimeout,
		staleIfError:    cfg.StaleIfError,
		alwaysRecord:    cfg.AlwaysRecord,
		verifyWith:      cfg.VerifyWith,
		now:             now,
	}
	if cfg.Singleflight {
		c.sf = &singleflight.Group{}
	}
	return c
}

// Resolve obtains the field-group named by req. Provider failures are
// recovered locally and never escalate into an error; the worst case is an
// Unavailable outcome.
func (c *Coordinator) Resolve(ctx context.Context, req models.FetchRequest) Outcome {
	c.metrics.Resolution()
	log := c.log.WithComponent("coordinator").WithFields(logger.Fields{
		"tool":  req.Tool,
		"group": req.Group,
	})

	ttl := c.policy.TTLFor(req.Tool, req.Group)
	if req.MaxAge > 0 {
		ttl = req.MaxAge
	}
	fingerprint := cache.Fingerprint(req.Tool, req.Group, req.Params)

	entry, found, err := c.cache.Get(ctx, fingerprint)
	if err != nil {
		// Backend trouble degrades to a direct fetch, never to a failure.
		log.WithError(err).Warn("cache read failed, treating as miss")
		found = false
	}

	now := c.now()
	if found && now.Sub(entry.FetchedAt) <= ttl {
		c.metrics.CacheHit()
		return Outcome{
			Group:  req.Group,
			Fields: cloneFields(entry.Fields),
			Meta: &models.SourceMeta{
				Provider:   entry.Provider,
				Endpoint:   entry.Endpoint,
				AsOfUTC:    models.FormatUTC(entry.AsOf),
				TTLSeconds: int(ttl.Seconds()),
			},
		}
	}

	res := c.fetchShared(ctx, req, fingerprint, ttl)
	if res.ok {
		return Outcome{
			Group:     req.Group,
			Fields:    cloneFields(res.fields),
			Meta:      &res.meta,
			Conflicts: res.conflicts,
			Warnings:  res.warnings,
		}
	}

	// All candidates failed. A stale entry is the last resort when
	// permitted; otherwise the field-group is reported unavailable.
	// res is shared with every caller of the same flight when singleflight
	// is on, so its warnings are copied before appending.
	if found && c.staleIfError {
		c.metrics.StaleServed()
		age := now.Sub(entry.FetchedAt)
		warnings := append(copyWarnings(res.warnings), fmt.Sprintf(
			"%s: all providers failed, serving stale cached data from %s (age %s, ttl %s)",
			req.Group, entry.Provider, age.Round(time.Second), ttl))
		return Outcome{
			Group:  req.Group,
			Fields: cloneFields(entry.Fields),
			Meta: &models.SourceMeta{
				Provider:   entry.Provider,
				Endpoint:   entry.Endpoint,
				AsOfUTC:    models.FormatUTC(entry.AsOf),
				TTLSeconds: int(ttl.Seconds()),
				Degraded:   true,
			},
			Warnings: warnings,
		}
	}

	c.metrics.Unavailable()
	warnings := append(copyWarnings(res.warnings), fmt.Sprintf("%s: unavailable, all providers failed", req.Group))
	return Outcome{Group: req.Group, Warnings: warnings, Unavailable: true}
}

type fetchResult struct {
	ok        bool
	fields    map[string]interface{}
	meta      models.SourceMeta
	conflicts []models.ConflictRecord
	warnings  []string
}

// fetchShared funnels concurrent cold misses for one fingerprint through a
// single upstream fetch when singleflight is enabled.
func (c *Coordinator) fetchShared(ctx context.Context, req models.FetchRequest, fingerprint string, ttl time.Duration) fetchResult {
	if c.sf == nil {
		return c.fetchFresh(ctx, req, fingerprint, ttl)
	}
	v, _, _ := c.sf.Do(fingerprint, func() (interface{}, error) {
		return c.fetchFresh(ctx, req, fingerprint, ttl), nil
	})
	return v.(fetchResult)
}

// fetchFresh walks the fallback chain until a provider succeeds.
func (c *Coordinator) fetchFresh(ctx context.Context, req models.FetchRequest, fingerprint string, ttl time.Duration) fetchResult {
	log := c.log.WithComponent("coordinator").WithFields(logger.Fields{
		"tool":  req.Tool,
		"group": req.Group,
	})

	candidates := c.selector.OrderedProviders(req.Group, c.now())
	var warnings []string
	tried := 0

	for _, cand := range candidates {
		if ctx.Err() != nil {
			warnings = append(warnings, fmt.Sprintf("%s: remaining provider attempts aborted: %v", req.Group, ctx.Err()))
			return fetchResult{ok: false, warnings: warnings}
		}

		adapter, ok := c.registry.Get(cand.Name)
		if !ok {
			// A configured-but-unregistered candidate still consumes its
			// slot in the chain, so a later success counts as a fallback.
			tried++
			log.WithField("provider", cand.Name).Warn("provider configured but not registered")
			continue
		}

		tried++
		attemptCtx, cancel := context.WithTimeout(ctx, c.providerTimeout)
		start := time.Now()
		payload, err := adapter.Fetch(attemptCtx, req.Group, req.Params)
		cancel()
		elapsed := time.Since(start)

		if err != nil {
			c.health.ReportFailure(cand.Name, c.now())
			c.metrics.ProviderFailure()
			warnings = append(warnings, fmt.Sprintf("%s: %s failed: %v", req.Group, cand.Name, err))
			log.WithError(err).WithFields(logger.Fields{
				"provider":         cand.Name,
				"response_time_ms": elapsed.Milliseconds(),
			}).Warn("provider fetch failed")
			continue
		}

		c.health.ReportSuccess(cand.Name, c.now())

		entry := cache.Entry{
			Fingerprint: fingerprint,
			Provider:    cand.Name,
			Endpoint:    payload.Endpoint,
			Fields:      cloneFields(payload.Fields),
			AsOf:        payload.AsOf,
			FetchedAt:   c.now(),
			TTL:         ttl,
		}
		if err := c.cache.Set(ctx, entry); err != nil {
			log.WithError(err).Warn("cache write failed")
		}

		meta := models.SourceMeta{
			Provider:       cand.Name,
			Endpoint:       payload.Endpoint,
			AsOfUTC:        models.FormatUTC(payload.AsOf),
			TTLSeconds:     int(ttl.Seconds()),
			ResponseTimeMs: float64(elapsed.Microseconds()) / 1000.0,
		}
		if tried > 1 {
			meta.FallbackUsed = cand.Name
			c.metrics.Fallback()
		}

		fields, conflicts := c.crossCheck(ctx, req, cand.Name, payload)
		return fetchResult{ok: true, fields: fields, meta: meta, conflicts: conflicts, warnings: warnings}
	}

	return fetchResult{ok: false, warnings: warnings}
}

// crossCheck queries the group's verification provider, if any, and
// reconciles overlapping fields against the primary payload. Verification
// trouble is logged and swallowed; the primary result stands on its own.
func (c *Coordinator) crossCheck(ctx context.Context, req models.FetchRequest, primaryName string, primary *provider.Payload) (map[string]interface{}, []models.ConflictRecord) {
	fields := cloneFields(primary.Fields)

	verifyName := c.verifyWith[req.Group]
	if verifyName == "" || verifyName == primaryName {
		return fields, nil
	}
	adapter, ok := c.registry.Get(verifyName)
	if !ok {
		return fields, nil
	}

	log := c.log.WithComponent("coordinator").WithFields(logger.Fields{
		"group":    req.Group,
		"primary":  primaryName,
		"verifier": verifyName,
	})

	attemptCtx, cancel := context.WithTimeout(ctx, c.providerTimeout)
	verification, err := adapter.Fetch(attemptCtx, req.Group, req.Params)
	cancel()
	if err != nil {
		c.health.ReportFailure(verifyName, c.now())
		c.metrics.ProviderFailure()
		log.WithError(err).Warn("cross-check fetch failed, using primary only")
		return fields, nil
	}
	c.health.ReportSuccess(verifyName, c.now())

	var conflicts []models.ConflictRecord
	for field, pv := range primary.Fields {
		vv, ok := verification.Fields[field]
		if !ok {
			continue
		}

		pNum, pIsNum := toFloat(pv)
		vNum, vIsNum := toFloat(vv)
		if pIsNum && vIsNum {
			final, record := ResolveNumericConflict(
				field,
				map[string]float64{primaryName: pNum, verifyName: vNum},
				primaryName,
				c.policy.ConflictThresholdFor(field),
				c.alwaysRecord,
			)
			fields[field] = final
			if record != nil {
				c.metrics.Conflict()
				conflicts = append(conflicts, *record)
			}
			continue
		}

		final, record := ResolveCategoricalConflict(field, map[string]CategoricalValue{
			primaryName: {Value: pv, AsOf: primary.AsOf},
			verifyName:  {Value: vv, AsOf: verification.AsOf},
		})
		fields[field] = final
		if record != nil {
			c.metrics.Conflict()
			conflicts = append(conflicts, *record)
		}
	}
	return fields, conflicts
}

func copyWarnings(warnings []string) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, len(warnings))
	copy(out, warnings)
	return out
}

func cloneFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
