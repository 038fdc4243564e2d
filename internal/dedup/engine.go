// Package dedup removes duplicate scan results with a token-scoped
// mark-and-sweep pass.
//
// A pass stamps every document matching the rule filter with a fresh token,
// marks the newest document of each group, deletes the rest of the stamped
// set and clears the markers. Documents inserted after stamping are not
// touched. Passes over the same collection must not overlap; passes over
// different collections may.
package dedup

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
)

// Summary reports one pass.
type Summary struct {
	Rule         string `json:"rule"`
	Collection   string `json:"collection"`
	Stamped      int64  `json:"stamped"`
	MarkedLatest int64  `json:"markedLatest"`
	Deleted      int64  `json:"deleted"`
}

// Engine runs dedup passes.
type Engine struct {
	docs     store.DedupStore
	settings store.DedupConfigStore
	workers  int
	logger   *zap.Logger
	newToken func() string

	// one lock per collection keeps passes on it sequential
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an engine running up to workers collections at once.
func NewEngine(docs store.DedupStore, settings store.DedupConfigStore, workers int, logger *zap.Logger) *Engine {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		docs:     docs,
		settings: settings,
		workers:  workers,
		logger:   logger.Named("dedup"),
		newToken: uuid.NewString,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lock(collection string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[collection]
	if !ok {
		l = new(sync.Mutex)
		e.locks[collection] = l
	}
	return l
}

// Dedupe runs one pass of rule.
func (e *Engine) Dedupe(ctx context.Context, rule Rule) (Summary, error) {
	l := e.lock(rule.Collection)
	l.Lock()
	defer l.Unlock()
	return e.dedupe(ctx, rule)
}

func (e *Engine) dedupe(ctx context.Context, rule Rule) (Summary, error) {
	sum := Summary{Rule: rule.Name, Collection: rule.Collection}
	token := e.newToken()
	log := e.logger.With(zap.String("rule", rule.Name), zap.String("collection", rule.Collection))

	stamped, err := e.docs.Stamp(ctx, rule.Collection, rule.Spec.Filter, token)
	if err != nil {
		log.Error("stamp failed", zap.Error(err))
		return sum, apperr.Transient("dedup.Stamp", err)
	}
	sum.Stamped = stamped
	if stamped == 0 {
		return sum, nil
	}

	if err := e.sweep(ctx, rule, token, &sum); err != nil {
		log.Error("dedup pass failed", zap.Error(err))
		if cerr := e.docs.ClearMarks(ctx, rule.Collection, token); cerr != nil {
			log.Warn("clear marks failed", zap.Error(cerr))
		}
		return sum, apperr.Transient("dedup", err)
	}
	log.Info("dedup pass finished",
		zap.Int64("stamped", sum.Stamped),
		zap.Int64("latest", sum.MarkedLatest),
		zap.Int64("deleted", sum.Deleted),
	)
	return sum, nil
}

func (e *Engine) sweep(ctx context.Context, rule Rule, token string, sum *Summary) error {
	ids, err := e.docs.LatestIDs(ctx, rule.Collection, token, rule.Spec)
	if err != nil {
		return err
	}
	if sum.MarkedLatest, err = e.docs.MarkLatest(ctx, rule.Collection, ids); err != nil {
		return err
	}
	if sum.Deleted, err = e.docs.Sweep(ctx, rule.Collection, token); err != nil {
		return err
	}
	return e.docs.ClearMarks(ctx, rule.Collection, token)
}

// Run deduplicates the named collections. Collections run concurrently on a
// bounded pool; the passes of one collection run in order. A failed
// collection does not stop the others and yields a Partial error.
func (e *Engine) Run(ctx context.Context, collections []string) ([]Summary, error) {
	pool, err := ants.NewPool(e.workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		summaries []Summary
		succeeded int
		errs      error
	)
	for _, coll := range collections {
		passes := RulesFor(coll)
		if len(passes) == 0 {
			errs = multierr.Append(errs, apperr.Validation("dedup.Run", "no dedup rule for collection %s", coll))
			continue
		}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			for _, rule := range passes {
				sum, err := e.Dedupe(ctx, rule)
				mu.Lock()
				summaries = append(summaries, sum)
				if err == nil {
					succeeded++
				}
				errs = multierr.Append(errs, err)
				mu.Unlock()
				if err != nil {
					return
				}
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = multierr.Append(errs, submitErr)
			mu.Unlock()
		}
	}
	wg.Wait()

	if errs == nil {
		return summaries, nil
	}
	if succeeded == 0 {
		return summaries, errs
	}
	return summaries, apperr.Partial("dedup.Run", errs)
}

// RunConfigured deduplicates the collections enabled in the stored
// settings.
func (e *Engine) RunConfigured(ctx context.Context) ([]Summary, error) {
	settings, err := e.settings.GetDedupSettings(ctx)
	if err != nil {
		e.logger.Error("load dedup settings failed", zap.Error(err))
		return nil, err
	}
	var enabled []string
	for _, coll := range Collections() {
		if settings.Collections[coll] {
			enabled = append(enabled, coll)
		}
	}
	if len(enabled) == 0 {
		return nil, nil
	}
	e.logger.Info("running configured dedup", zap.Strings("collections", enabled))
	return e.Run(ctx, enabled)
}
