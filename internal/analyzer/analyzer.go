// Package analyzer drives the ten-step merge analysis pipeline: session
// creation, package ingest, SAIL formatting, the two delta comparisons,
// classification, review ordering, and the final persist.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"appmerge/internal/classify"
	"appmerge/internal/compare"
	"appmerge/internal/config"
	"appmerge/internal/depgraph"
	"appmerge/internal/parser"
	"appmerge/internal/reader"
	"appmerge/internal/review"
	"appmerge/internal/sail"
	"appmerge/internal/store"
	"appmerge/internal/types"
)

const totalSteps = 10

// Request names the three package archives of one analysis.
type Request struct {
	BasePath       string
	CustomizedPath string
	NewVendorPath  string
}

// Analyzer runs analyses against one store.
type Analyzer struct {
	store   *store.Store
	cfg     *config.Config
	logger  *zap.Logger
	mapping map[string]string
	onStep  func(types.StepEvent)
}

// New builds an analyzer, loading the system-rule mapping table configured
// for SAIL formatting.
func New(st *store.Store, cfg *config.Config, logger *zap.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mapping, err := sail.LoadMapping(cfg.Analysis.MappingTablePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load system rule mapping: %w", err)
	}
	return &Analyzer{store: st, cfg: cfg, logger: logger, mapping: mapping}, nil
}

// OnStep registers a progress callback invoked once per completed step.
func (a *Analyzer) OnStep(fn func(types.StepEvent)) {
	a.onStep = fn
}

// pipeline carries the mutable state of one run between steps.
type pipeline struct {
	session *store.Session
	entries map[types.PackageRole][]reader.Entry
	lookups map[types.PackageRole]types.Lookup
	merged  types.Lookup
	vendor  []types.DeltaRecord
	custom  []types.DeltaRecord
	changes []types.Change
}

// Run executes the full pipeline. On any step failure the session is
// marked failed with the step name and error, and no analysis rows are
// persisted.
func (a *Analyzer) Run(ctx context.Context, req Request) (*store.Session, error) {
	p := &pipeline{
		entries: make(map[types.PackageRole][]reader.Entry),
		lookups: make(map[types.PackageRole]types.Lookup),
	}

	type step struct {
		name string
		fn   func(context.Context, *pipeline) (map[string]int, error)
	}

	head := []step{
		{"create session", a.stepCreateSession},
		{"read packages", func(ctx context.Context, p *pipeline) (map[string]int, error) {
			return a.stepReadPackages(ctx, p, req)
		}},
		{"parse packages", a.stepParsePackages},
		{"build lookup", a.stepBuildLookup},
		{"format sail", a.stepFormatSail},
	}
	tail := []step{
		{"classify", a.stepClassify},
		{"order review queue", a.stepOrder},
		{"persist", func(ctx context.Context, p *pipeline) (map[string]int, error) {
			return a.stepPersist(ctx, p, req)
		}},
	}

	for i, s := range head {
		if err := a.runStep(ctx, p, i+1, s.name, s.fn); err != nil {
			a.failSession(p, s.name, err)
			return nil, err
		}
	}

	// Steps 6 and 7: the two delta comparisons run concurrently on the
	// shared immutable lookups.
	if err := a.runCompareSteps(ctx, p); err != nil {
		a.failSession(p, "compare packages", err)
		return nil, err
	}

	for i, s := range tail {
		if err := a.runStep(ctx, p, i+8, s.name, s.fn); err != nil {
			a.failSession(p, s.name, err)
			return nil, err
		}
	}

	// Refetch so the caller sees the ready status.
	return a.store.SessionByID(ctx, p.session.ID)
}

// runStep wraps one step with the per-step timeout, cancellation checks,
// structured logging, and the progress event.
func (a *Analyzer) runStep(ctx context.Context, p *pipeline, index int, name string,
	fn func(context.Context, *pipeline) (map[string]int, error)) error {

	if err := ctx.Err(); err != nil {
		return types.WrapError(types.ErrCancelled, err, "analysis cancelled before %s", name)
	}

	stepCtx, cancel := context.WithTimeout(ctx, a.cfg.StepTimeout())
	defer cancel()

	start := time.Now()
	counts, err := fn(stepCtx, p)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = types.WrapError(types.ErrCancelled, err, "step %s aborted", name)
		}
		a.logger.Error("Pipeline step failed",
			zap.Int("step_index", index),
			zap.Int("total_steps", totalSteps),
			zap.String("step", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return err
	}

	a.emitStep(index, name, elapsed, counts)
	return nil
}

// emitStep logs one completed step and fires the progress callback.
func (a *Analyzer) emitStep(index int, name string, elapsed time.Duration, counts map[string]int) {
	fields := []zap.Field{
		zap.Int("step_index", index),
		zap.Int("total_steps", totalSteps),
		zap.String("step", name),
		zap.Duration("elapsed", elapsed),
	}
	for k, v := range counts {
		fields = append(fields, zap.Int(k, v))
	}
	a.logger.Info("Pipeline step complete", fields...)

	if a.onStep != nil {
		a.onStep(types.StepEvent{
			StepIndex:  index,
			TotalSteps: totalSteps,
			Name:       name,
			Elapsed:    elapsed,
			Counts:     counts,
		})
	}
}

// failSession records the failing step on the session row. Session
// creation itself failing leaves nothing to mark.
func (a *Analyzer) failSession(p *pipeline, step string, err error) {
	if p.session == nil {
		return
	}
	// The run context may already be cancelled; the failure must still be
	// observable.
	markCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := fmt.Sprintf("%s: %v", step, err)
	if markErr := a.store.MarkFailed(markCtx, p.session.ID, msg); markErr != nil {
		a.logger.Error("Failed to record session failure",
			zap.Int64("session_id", p.session.ID),
			zap.Error(markErr))
	}
}

func (a *Analyzer) stepCreateSession(ctx context.Context, p *pipeline) (map[string]int, error) {
	sess, err := a.store.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	p.session = sess
	a.logger.Info("Analysis session started", zap.String("reference_id", sess.ReferenceID))
	return nil, nil
}

func (a *Analyzer) stepReadPackages(ctx context.Context, p *pipeline, req Request) (map[string]int, error) {
	r := reader.New(a.cfg.Ingest.MaxPackageSize, a.logger)

	paths := map[types.PackageRole]string{
		types.RoleBase:       req.BasePath,
		types.RoleCustomized: req.CustomizedPath,
		types.RoleNewVendor:  req.NewVendorPath,
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(map[types.PackageRole][]reader.Entry, len(paths))
	var mu sync.Mutex
	for role, path := range paths {
		role, path := role, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entries, err := r.Read(path, role)
			if err != nil {
				return err
			}
			mu.Lock()
			results[role] = entries
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.entries = results
	return map[string]int{
		"base_files":       len(results[types.RoleBase]),
		"customized_files": len(results[types.RoleCustomized]),
		"new_vendor_files": len(results[types.RoleNewVendor]),
	}, nil
}

func (a *Analyzer) stepParsePackages(ctx context.Context, p *pipeline) (map[string]int, error) {
	pr := parser.New(a.logger)

	g, gctx := errgroup.WithContext(ctx)
	results := make(map[types.PackageRole]types.Lookup, len(p.entries))
	var mu sync.Mutex
	for role, entries := range p.entries {
		role, entries := role, entries
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lookup, err := pr.ParsePackage(entries, role)
			if err != nil {
				return err
			}
			mu.Lock()
			results[role] = lookup
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.lookups = results
	return map[string]int{
		"base_objects":       len(results[types.RoleBase]),
		"customized_objects": len(results[types.RoleCustomized]),
		"new_vendor_objects": len(results[types.RoleNewVendor]),
	}, nil
}

// stepBuildLookup merges the three package lookups into the session-wide
// resolution map. Later packages win name collisions so references resolve
// to the newest display name.
func (a *Analyzer) stepBuildLookup(ctx context.Context, p *pipeline) (map[string]int, error) {
	merged := make(types.Lookup)
	for _, role := range []types.PackageRole{types.RoleBase, types.RoleCustomized, types.RoleNewVendor} {
		for uuid, obj := range p.lookups[role] {
			merged[uuid] = obj
		}
	}
	p.merged = merged
	return map[string]int{"objects": len(merged)}, nil
}

// stepFormatSail rewrites the scripted code of every object in every
// package against the merged lookup, so references from one package
// resolve to names introduced by another.
func (a *Analyzer) stepFormatSail(ctx context.Context, p *pipeline) (map[string]int, error) {
	f := sail.NewFormatter(p.merged, a.mapping, a.logger)
	formatted := 0
	for _, lookup := range p.lookups {
		for _, obj := range lookup {
			if !obj.Type.Scripted() || obj.Code == "" {
				continue
			}
			obj.Code = f.Format(obj.Code)
			formatted++
		}
	}
	return map[string]int{"formatted": formatted}, nil
}

// runCompareSteps executes steps 6 and 7 in parallel and reports each as
// its own step event with its own elapsed time.
func (a *Analyzer) runCompareSteps(ctx context.Context, p *pipeline) error {
	if err := ctx.Err(); err != nil {
		return types.WrapError(types.ErrCancelled, err, "analysis cancelled before comparison")
	}

	var vendorElapsed, customerElapsed time.Duration
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		p.vendor = compare.Delta(p.lookups[types.RoleBase], p.lookups[types.RoleNewVendor], a.logger)
		vendorElapsed = time.Since(start)
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		p.custom = compare.Delta(p.lookups[types.RoleBase], p.lookups[types.RoleCustomized], a.logger)
		customerElapsed = time.Since(start)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return types.WrapError(types.ErrCancelled, err, "analysis cancelled during comparison")
	}

	a.emitStep(6, "compare vendor", vendorElapsed, map[string]int{"vendor_delta": len(p.vendor)})
	a.emitStep(7, "compare customer", customerElapsed, map[string]int{"customer_delta": len(p.custom)})
	return nil
}

func (a *Analyzer) stepClassify(ctx context.Context, p *pipeline) (map[string]int, error) {
	c := classify.New(p.lookups[types.RoleCustomized], p.lookups[types.RoleNewVendor], a.logger)
	p.changes = c.Classify(p.vendor, p.custom)
	return map[string]int{"changes": len(p.changes)}, nil
}

func (a *Analyzer) stepOrder(ctx context.Context, p *pipeline) (map[string]int, error) {
	graph := depgraph.Build(p.merged, a.logger)
	review.Order(p.changes, graph, a.logger)

	queued := 0
	for _, c := range p.changes {
		if c.OrderIndex != nil {
			queued++
		}
	}
	return map[string]int{"queued": queued, "excluded": len(p.changes) - queued}, nil
}

func (a *Analyzer) stepPersist(ctx context.Context, p *pipeline, req Request) (map[string]int, error) {
	payload := &store.AnalysisPayload{
		Packages: []store.PackagePayload{
			{Role: types.RoleBase, FileName: filepath.Base(req.BasePath),
				Objects: p.lookups[types.RoleBase]},
			{Role: types.RoleCustomized, FileName: filepath.Base(req.CustomizedPath),
				Objects: p.lookups[types.RoleCustomized]},
			{Role: types.RoleNewVendor, FileName: filepath.Base(req.NewVendorPath),
				Objects: p.lookups[types.RoleNewVendor]},
		},
		VendorDelta:   p.vendor,
		CustomerDelta: p.custom,
		Changes:       p.changes,
	}
	if err := a.store.SaveAnalysis(ctx, p.session.ID, payload); err != nil {
		return nil, err
	}
	return map[string]int{"changes": len(p.changes)}, nil
}
