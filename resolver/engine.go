package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptolens/logger"
	"cryptolens/models"
)

// Query is one caller request: a tool, the field-groups to resolve, and the
// disambiguating parameters shared by every pass.
type Query struct {
	Tool      string
	Groups    []string
	Params    map[string]string
	MaxAge    time.Duration
	RequestID string
}

// Engine fans a query out into one resolution pass per field-group and
// assembles the passes into the final envelope. Field-groups have no data
// dependency on one another, so passes run in parallel bounded by the
// configured max concurrency; within a pass, provider attempts stay
// sequential.
type Engine struct {
	coordinator    *Coordinator
	maxConcurrency int
	log            *logger.Log
}

func NewEngine(coordinator *Coordinator, maxConcurrency int, log *logger.Log) *Engine {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Engine{coordinator: coordinator, maxConcurrency: maxConcurrency, log: log}
}

// Execute resolves all requested field-groups and merges the outcomes.
// Partial results are preferred over hard failures: a query whose groups
// all fail still yields a well-formed envelope with empty data and
// explanatory warnings. Cancellation is honored at the next suspension
// point of each in-flight pass; completed passes are kept.
func (e *Engine) Execute(ctx context.Context, q Query) *models.Result {
	started := time.Now()
	result := &models.Result{
		Tool:       q.Tool,
		Symbol:     strings.ToUpper(q.Params["symbol"]),
		RequestID:  q.RequestID,
		Data:       make(map[string]map[string]interface{}),
		SourceMeta: []models.SourceMeta{},
		Conflicts:  []models.ConflictRecord{},
		Warnings:   []string{},
	}

	var (
		mu           sync.Mutex
		seenWarnings = make(map[string]struct{})
		latestAsOf   time.Time
	)
	addWarnings := func(warnings []string) {
		for _, w := range warnings {
			if _, dup := seenWarnings[w]; dup {
				continue
			}
			seenWarnings[w] = struct{}{}
			result.Warnings = append(result.Warnings, w)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(e.maxConcurrency)

	for _, group := range q.Groups {
		group := group
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				addWarnings([]string{group + ": unresolved, request cancelled"})
				mu.Unlock()
				return nil
			}

			outcome := e.coordinator.Resolve(ctx, models.FetchRequest{
				Tool:   q.Tool,
				Group:  group,
				Params: q.Params,
				MaxAge: q.MaxAge,
			})

			mu.Lock()
			defer mu.Unlock()
			addWarnings(outcome.Warnings)
			if outcome.Unavailable {
				return nil
			}
			result.Data[group] = outcome.Fields
			result.SourceMeta = append(result.SourceMeta, *outcome.Meta)
			result.Conflicts = append(result.Conflicts, outcome.Conflicts...)
			if t, err := time.Parse(models.UTCFormat, outcome.Meta.AsOfUTC); err == nil && t.After(latestAsOf) {
				latestAsOf = t
			}
			return nil
		})
	}

	// Barrier: the envelope is only as fast as the slowest pass.
	_ = g.Wait()

	if latestAsOf.IsZero() {
		latestAsOf = time.Now()
	}
	result.AsOfUTC = models.FormatUTC(latestAsOf)

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"tool":        q.Tool,
		"request_id":  q.RequestID,
		"groups":      len(q.Groups),
		"resolved":    len(result.Data),
		"conflicts":   len(result.Conflicts),
		"warnings":    len(result.Warnings),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("query resolved")

	return result
}
