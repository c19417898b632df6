package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"SpectrumRanker/internal/comparator"
	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/metrics"
	"SpectrumRanker/internal/ports"
	"SpectrumRanker/internal/spectrum"
)

var (
	// ErrScopeNotFound is returned when the requested container does not exist.
	ErrScopeNotFound = errors.New("scope not found")
	// ErrCriterionNotFound is returned when the requested criterion does not exist.
	ErrCriterionNotFound = errors.New("criterion not found")
	// ErrUnsupportedModel is returned when no comparator serves the requested model.
	ErrUnsupportedModel = comparator.ErrUnsupportedModel
	// ErrInvalidStrategy is returned for an unknown ranking strategy.
	ErrInvalidStrategy = errors.New("invalid ranking strategy")
	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")

	errEmptyScope = errors.New("no items in scope")
)

// RunID identifies one ranking run.
type RunID string

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// RankRequest asks for the unranked items of a scope to be placed into the
// list of (criterion, model, scope).
type RankRequest struct {
	ContainerID     domain.ContainerID
	CriterionID     domain.CriterionID
	Model           string
	Actionable      *bool
	IncludeDone     bool
	IncludeArchived bool
	Evaluative      bool
	ForceRecompute  bool
	// Strategy overrides the configured strategy when set.
	Strategy spectrum.Strategy
}

// RunReport summarizes a run.
type RunReport struct {
	ID         RunID
	Request    RankRequest
	Status     RunStatus
	Strategy   spectrum.Strategy
	ListID     domain.ListID
	Inserted   int
	Skipped    int
	Failed     int
	Probes     int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// String renders the report as a short message for notifications.
func (r RunReport) String() string {
	s := fmt.Sprintf("ranking run %s %s: list %d, model %s, strategy %s, %d inserted, %d skipped, %d failed, %d comparisons",
		r.ID, r.Status, r.ListID, r.Request.Model, r.Strategy, r.Inserted, r.Skipped, r.Failed, r.Probes)
	if r.Error != "" {
		s += ", error: " + r.Error
	}
	return s
}

// RankerConfig tunes ranking runs.
type RankerConfig struct {
	Strategy          spectrum.Strategy
	MaxSpliceAttempts int
	PublishReports    bool
	// RunHistory caps the finished runs kept for Get and Runs; oldest go first.
	RunHistory        int
}

const defaultRunHistory = 100

// RankerDeps wires the driven adapters into the ranker.
type RankerDeps struct {
	Items      ports.ItemRepository
	Criteria   ports.CriterionRepository
	Containers ports.ContainerRepository
	Store      ports.SpectrumStore
	Registry   *comparator.Registry
	Gateway    *comparator.Gateway
	Notifier   ports.Notifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Config     RankerConfig
	// Rand shuffles the unranked items; nil seeds from the clock.
	Rand *rand.Rand
}

// Ranker starts and tracks ranking runs.
type Ranker struct {
	items      ports.ItemRepository
	criteria   ports.CriterionRepository
	containers ports.ContainerRepository
	store      ports.SpectrumStore
	registry   *comparator.Registry
	gateway    *comparator.Gateway
	notifier   ports.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        RankerConfig

	rndMu sync.Mutex
	rnd   *rand.Rand

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	runs     map[RunID]*run
	finishes uint64
}

type run struct {
	report   RunReport
	// finished orders completed runs; zero while running.
	finished uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

// plan is a validated request.
type plan struct {
	req       RankRequest
	scope     domain.Scope
	criterion domain.Criterion
	cmp       comparator.Comparator
	strategy  spectrum.Strategy
}

// NewRanker constructs the ranking use case.
func NewRanker(deps RankerDeps) *Ranker {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rnd := deps.Rand
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}
	cfg := deps.Config
	if cfg.MaxSpliceAttempts < 1 {
		cfg.MaxSpliceAttempts = 1
	}
	if cfg.Strategy == "" {
		cfg.Strategy = spectrum.StrategyInsert
	}
	if cfg.RunHistory < 1 {
		cfg.RunHistory = defaultRunHistory
	}

	base, shutdown := context.WithCancel(context.Background())
	return &Ranker{
		items:      deps.Items,
		criteria:   deps.Criteria,
		containers: deps.Containers,
		store:      deps.Store,
		registry:   deps.Registry,
		gateway:    deps.Gateway,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     logger.With("component", "ranker"),
		cfg:        cfg,
		rnd:        rnd,
		base:       base,
		shutdown:   shutdown,
		runs:       map[RunID]*run{},
	}
}

// Start validates req synchronously and ranks in the background. The run
// outlives ctx; stop it with Cancel or Shutdown.
func (r *Ranker) Start(ctx context.Context, req RankRequest) (RunID, error) {
	p, err := r.prepare(ctx, req)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(r.base)
	rn := r.track(req, cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.finish(rn, r.execute(runCtx, rn, p))
	}()

	return rn.report.ID, nil
}

// Run ranks in the caller's goroutine and returns the final report.
func (r *Ranker) Run(ctx context.Context, req RankRequest) (RunReport, error) {
	p, err := r.prepare(ctx, req)
	if err != nil {
		return RunReport{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rn := r.track(req, cancel)

	report := r.execute(runCtx, rn, p)
	r.finish(rn, report)
	return report, nil
}

// Cancel stops a run between insertions.
func (r *Ranker) Cancel(id RunID) error {
	r.mu.Lock()
	rn, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	rn.cancel()
	return nil
}

// Get returns the current report of a run.
func (r *Ranker) Get(id RunID) (RunReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.runs[id]
	if !ok {
		return RunReport{}, false
	}
	return rn.report, true
}

// Wait blocks until the run finishes or ctx is done.
func (r *Ranker) Wait(ctx context.Context, id RunID) (RunReport, error) {
	r.mu.Lock()
	rn, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return RunReport{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	select {
	case <-rn.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return rn.report, nil
	case <-ctx.Done():
		return RunReport{}, ctx.Err()
	}
}

// Runs lists all known runs, oldest first.
func (r *Ranker) Runs() []RunReport {
	r.mu.Lock()
	out := make([]RunReport, 0, len(r.runs))
	for _, rn := range r.runs {
		out = append(out, rn.report)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Shutdown cancels background runs and waits for them or ctx.
func (r *Ranker) Shutdown(ctx context.Context) error {
	r.shutdown()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Ranker) prepare(ctx context.Context, req RankRequest) (plan, error) {
	if req.ContainerID != 0 {
		if _, err := r.containers.GetContainer(ctx, req.ContainerID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return plan{}, fmt.Errorf("%w: container %d", ErrScopeNotFound, req.ContainerID)
			}
			return plan{}, fmt.Errorf("load container: %w", err)
		}
	}

	crit, err := r.criteria.GetCriterion(ctx, req.CriterionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return plan{}, fmt.Errorf("%w: %d", ErrCriterionNotFound, req.CriterionID)
		}
		return plan{}, fmt.Errorf("load criterion: %w", err)
	}

	cmp, err := r.registry.Resolve(req.Model)
	if err != nil {
		return plan{}, err
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = r.cfg.Strategy
	}
	if strategy, err = spectrum.ParseStrategy(string(strategy)); err != nil {
		return plan{}, fmt.Errorf("%w: %v", ErrInvalidStrategy, err)
	}

	return plan{
		req: req,
		scope: domain.Scope{
			ContainerID:     req.ContainerID,
			Actionable:      req.Actionable,
			IncludeDone:     req.IncludeDone,
			IncludeArchived: req.IncludeArchived,
		},
		criterion: crit,
		cmp:       cmp,
		strategy:  strategy,
	}, nil
}

func (r *Ranker) track(req RankRequest, cancel context.CancelFunc) *run {
	rn := &run{
		report: RunReport{
			ID:        RunID(uuid.NewString()),
			Request:   req,
			Status:    RunRunning,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.mu.Lock()
	r.runs[rn.report.ID] = rn
	r.mu.Unlock()
	return rn
}

func (r *Ranker) finish(rn *run, report RunReport) {
	report.FinishedAt = time.Now().UTC()

	r.mu.Lock()
	rn.report = report
	r.finishes++
	rn.finished = r.finishes
	r.pruneLocked()
	r.mu.Unlock()
	close(rn.done)

	r.metrics.ObserveRun(string(report.Status))
	r.logger.Info("ranking run finished",
		"run_id", report.ID,
		"status", report.Status,
		"list_id", report.ListID,
		"strategy", report.Strategy,
		"inserted", report.Inserted,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"probes", report.Probes,
		"elapsed", report.FinishedAt.Sub(report.StartedAt))

	if r.cfg.PublishReports && r.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.notifier.Publish(ctx, report.String()); err != nil {
			r.logger.Warn("publish run report", "run_id", report.ID, "error", err)
		}
	}
}

// progress publishes the running counts of rn.
func (r *Ranker) progress(rn *run, report RunReport) {
	r.mu.Lock()
	rn.report = report
	r.mu.Unlock()
}

// pruneLocked drops the oldest finished runs beyond the history cap.
func (r *Ranker) pruneLocked() {
	var finished []*run
	for _, rn := range r.runs {
		if rn.finished > 0 {
			finished = append(finished, rn)
		}
	}
	excess := len(finished) - r.cfg.RunHistory
	if excess <= 0 {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].finished < finished[j].finished })
	for _, rn := range finished[:excess] {
		delete(r.runs, rn.report.ID)
	}
}

func (r *Ranker) execute(ctx context.Context, rn *run, p plan) RunReport {
	r.mu.Lock()
	report := rn.report
	r.mu.Unlock()
	logger := r.logger.With("run_id", report.ID, "model", p.cmp.Model())
	fail := func(err error) RunReport {
		if ctx.Err() != nil {
			report.Status = RunCancelled
			return report
		}
		report.Status = RunFailed
		report.Error = err.Error()
		logger.Error("ranking run failed", "error", err)
		return report
	}

	list, created, err := r.ensureList(ctx, p)
	if errors.Is(err, errEmptyScope) {
		report.Status = RunCompleted
		return report
	}
	if err != nil {
		return fail(err)
	}
	report.ListID = list.ID
	if created {
		report.Inserted++
	}
	r.progress(rn, report)

	pending, err := r.store.UnrankedItems(ctx, list.ID)
	if err != nil {
		return fail(err)
	}
	r.shuffle(pending)

	report.Strategy = p.strategy
	if p.strategy != spectrum.StrategyInsert && len(pending) > 0 {
		chain, err := r.store.Chain(ctx, list.ID)
		if err != nil {
			return fail(err)
		}
		report.Strategy = p.strategy.Resolve(len(pending), chain.Len())
		if report.Strategy == spectrum.StrategyMerge {
			probes, err := r.merge(ctx, list, chain, pending, p)
			report.Probes += probes
			switch {
			case err == nil:
				report.Inserted += len(pending)
				report.Status = RunCompleted
				for range pending {
					r.metrics.ObserveInsertion("inserted", 0)
				}
				return report
			case errors.Is(err, spectrum.ErrBrokenChain):
				return fail(err)
			case ctx.Err() != nil:
				return fail(err)
			}
			logger.Warn("merge failed, inserting one by one", "error", err)
			report.Strategy = spectrum.StrategyInsert
		}
	}

	for _, item := range pending {
		if ctx.Err() != nil {
			report.Status = RunCancelled
			return report
		}

		outcome, probes, err := r.insert(ctx, list.ID, item, p)
		report.Probes += probes
		r.metrics.ObserveInsertion(outcome, probes)
		switch outcome {
		case "inserted":
			report.Inserted++
		case "skipped":
			report.Skipped++
			logger.Debug("item skipped", "item_id", item.ID, "reason", err)
		case "failed":
			if ctx.Err() != nil {
				report.Status = RunCancelled
				return report
			}
			report.Failed++
			logger.Warn("item left unranked", "item_id", item.ID, "error", err)
		default:
			return fail(err)
		}
		r.progress(rn, report)
	}

	report.Status = RunCompleted
	return report
}

// ensureList finds the list for the plan or creates it around a random in-scope item.
func (r *Ranker) ensureList(ctx context.Context, p plan) (domain.RankedList, bool, error) {
	key := domain.ListKey{
		CriterionVersion: p.criterion.VersionID,
		Model:            p.cmp.Model(),
		Scope:            p.scope,
		Evaluative:       p.req.Evaluative,
	}

	list, ok, err := r.store.FindList(ctx, key)
	if err != nil || ok {
		return list, false, err
	}

	candidates, err := r.items.ItemsInScope(ctx, p.scope)
	if err != nil {
		return domain.RankedList{}, false, fmt.Errorf("items in scope: %w", err)
	}
	if len(candidates) == 0 {
		return domain.RankedList{}, false, errEmptyScope
	}

	first := candidates[r.intN(len(candidates))]
	list, err = r.store.CreateList(ctx, key, first)
	if err == nil {
		return list, true, nil
	}
	// A concurrent run may have created the list first.
	if existing, ok, findErr := r.store.FindList(ctx, key); findErr == nil && ok {
		return existing, false, nil
	}
	return domain.RankedList{}, false, fmt.Errorf("create list: %w", err)
}

// insert places one item, re-reading the chain when a concurrent writer
// invalidated the chosen gap. The outcome is inserted, skipped, failed or
// aborted.
func (r *Ranker) insert(ctx context.Context, list domain.ListID, item domain.Item, p plan) (string, int, error) {
	probes := 0
	for attempt := 1; attempt <= r.cfg.MaxSpliceAttempts; attempt++ {
		chain, err := r.store.Chain(ctx, list)
		if err != nil {
			return "aborted", probes, err
		}
		if chain.Contains(item.ID) {
			return "skipped", probes, spectrum.ErrAlreadyRanked
		}

		pos, n, err := spectrum.Locate(ctx, chain, func(ctx context.Context, node domain.ChainNode) (bool, error) {
			return r.ahead(ctx, p, item, node.Item)
		})
		probes += n
		if err != nil {
			return "failed", probes, err
		}

		_, err = r.store.Splice(ctx, list, item, pos)
		switch {
		case err == nil:
			return "inserted", probes, nil
		case errors.Is(err, spectrum.ErrStalePosition):
			r.logger.Debug("position went stale, re-reading list", "item_id", item.ID, "attempt", attempt)
			continue
		case errors.Is(err, spectrum.ErrItemChanged), errors.Is(err, spectrum.ErrAlreadyRanked):
			return "skipped", probes, err
		default:
			return "aborted", probes, err
		}
	}
	return "failed", probes, fmt.Errorf("item %d: gave up after %d stale positions", item.ID, r.cfg.MaxSpliceAttempts)
}

// merge sorts the batch, merges it into the current order and rewrites the list.
func (r *Ranker) merge(ctx context.Context, list domain.RankedList, chain *spectrum.Chain, batch []domain.Item, p plan) (int, error) {
	probes := 0
	ahead := func(ctx context.Context, a, b domain.Item) (bool, error) {
		probes++
		return r.ahead(ctx, p, a, b)
	}

	sorted, err := spectrum.MergeSort(ctx, batch, ahead)
	if err != nil {
		return probes, err
	}
	nodes := chain.Nodes()
	base := make([]domain.Item, len(nodes))
	for i, n := range nodes {
		base[i] = n.Item
	}
	merged, err := spectrum.Merge(ctx, base, sorted, ahead)
	if err != nil {
		return probes, err
	}
	return probes, r.store.Rebuild(ctx, list.ID, chain, merged)
}

// ahead asks whether candidate satisfies the criterion better than incumbent.
func (r *Ranker) ahead(ctx context.Context, p plan, candidate, incumbent domain.Item) (bool, error) {
	v, err := r.gateway.Compare(ctx, p.cmp, comparator.Question{
		Subject: p.criterion.Operand(),
		Left:    candidate.Operand(),
		Right:   incumbent.Operand(),
	}, p.req.ForceRecompute)
	if err != nil {
		return false, err
	}
	return v.LeftWins, nil
}

func (r *Ranker) shuffle(items []domain.Item) {
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	r.rnd.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}

func (r *Ranker) intN(n int) int {
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.rnd.IntN(n)
}
