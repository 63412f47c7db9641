// Package hybrid drives the augmentation loop: replay the fuzzer's
// corpus to establish coverage, symbolically explore the uncovered
// branch directions, feed the solved inputs back into the corpus, and
// repeat until no new coverage is reachable.
package hybrid

import (
	gocontext "context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dsnet/golib/unitconv"
	"github.com/trailofbits/optik/corpus"
	"github.com/trailofbits/optik/coverage"
	"github.com/trailofbits/optik/evm"
	"github.com/trailofbits/optik/explorer"
	"github.com/trailofbits/optik/runner"
	"github.com/trailofbits/optik/state"
)

// State is the phase of an augmentation session.
type State int

const (
	Idle      State = iota // created, not started
	Replaying              // replaying corpus sequences for coverage
	Exploring              // solving uncovered branch directions
	Merging                // feeding solved inputs back into the corpus
	Converged              // terminal, no uncovered direction is reachable
	Aborted                // terminal, stopped by budget, stop request or fault
	NumStates              // not an actual state
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Replaying:
		return "replaying"
	case Exploring:
		return "exploring"
	case Merging:
		return "merging"
	case Converged:
		return "converged"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// EngineFactory creates one engine per worker. The seed makes any
// engine-internal randomness reproducible; engines are not shared
// between workers.
type EngineFactory func(seed uint64) (evm.Engine, error)

// Config adjusts an augmentation session.
type Config struct {
	// MaxIterations bounds the number of loop iterations; zero means no
	// bound.
	MaxIterations int

	// Budget bounds the total wall clock time of the session; zero means
	// no bound.
	Budget time.Duration

	// ContinueOnRevert replays sequences past reverting transactions.
	ContinueOnRevert bool

	// MaxBranchesPerIteration bounds the number of frontier targets
	// attempted per iteration; zero means all of them.
	MaxBranchesPerIteration int

	// Jobs is the number of parallel workers; values below one are
	// treated as one.
	Jobs int

	// SolverTimeout cuts off each individual constraint solving query.
	SolverTimeout time.Duration

	// Seed makes worker-local randomness reproducible.
	Seed uint64

	// Progress, if set, receives periodic progress reports.
	Progress io.Writer
}

// Session is one augmentation run over a corpus. A session is bound to a
// genesis world state holding the deployed target contracts; every
// replay and exploration starts from a clone of it.
type Session struct {
	config  Config
	factory EngineFactory
	genesis *state.World
	store   *corpus.Store
	model   *coverage.Model
	maps    *explorer.BranchMapCache

	state      atomic.Int32
	stop       atomic.Bool
	iterations int
	solved     int

	mu      sync.Mutex
	skipped []error
}

// NewSession creates a session exploring the given corpus against the
// given genesis world state.
func NewSession(factory EngineFactory, genesis *state.World, store *corpus.Store, config Config) (*Session, error) {
	if factory == nil {
		return nil, fmt.Errorf("missing engine factory")
	}
	if config.Jobs < 1 {
		config.Jobs = 1
	}
	if config.SolverTimeout <= 0 {
		config.SolverTimeout = time.Second
	}
	maps, err := explorer.NewBranchMapCache(1024)
	if err != nil {
		return nil, err
	}
	return &Session{
		config:  config,
		factory: factory,
		genesis: genesis,
		store:   store,
		model:   coverage.NewModel(),
		maps:    maps,
	}, nil
}

// State returns the current phase of the session.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Coverage returns the session's coverage model. It only grows; entries
// discovered by reverted executions are retained.
func (s *Session) Coverage() *coverage.Model {
	return s.model
}

// Corpus returns the corpus store the session reads seeds from and
// writes solved inputs to.
func (s *Session) Corpus() *corpus.Store {
	return s.store
}

// Iterations returns the number of completed loop iterations.
func (s *Session) Iterations() int {
	return s.iterations
}

// Solved returns the number of synthesized sequences accepted into the
// corpus.
func (s *Session) Solved() int {
	return s.solved
}

// Skipped reports the corpus inputs the session had to pass over because
// replaying or exploring them faulted the engine. A faulting input is
// skipped, not fatal; the session continues with the rest of the corpus.
func (s *Session) Skipped() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.skipped...)
}

func (s *Session) recordSkipped(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped = append(s.skipped, err)
}

// Stop requests a cooperative abort. Workers finish their current
// sequence; the session terminates in the Aborted state with the corpus
// and coverage gathered so far intact.
func (s *Session) Stop() {
	s.stop.Store(true)
}

// Run executes the augmentation loop until convergence, exhaustion of
// the budget or a stop request. The returned state is Converged or
// Aborted; an error aborts the session and reports the fault.
func (s *Session) Run(ctx gocontext.Context) (State, error) {
	if s.config.Budget > 0 {
		var cancel gocontext.CancelFunc
		ctx, cancel = gocontext.WithTimeout(ctx, s.config.Budget)
		defer cancel()
	}

	for {
		if s.aborted(ctx) {
			return s.finish(Aborted), nil
		}
		if s.config.MaxIterations > 0 && s.iterations >= s.config.MaxIterations {
			return s.finish(Aborted), nil
		}

		s.state.Store(int32(Replaying))
		if err := s.replayAll(ctx, s.store.Sequences()); err != nil {
			s.finish(Aborted)
			return Aborted, err
		}
		if s.aborted(ctx) {
			return s.finish(Aborted), nil
		}

		s.state.Store(int32(Exploring))
		targets := explorer.Frontier(s.model)
		if max := s.config.MaxBranchesPerIteration; max > 0 && len(targets) > max {
			targets = targets[:max]
		}
		if len(targets) == 0 {
			s.iterations++
			return s.finish(Converged), nil
		}
		candidates, err := s.explore(ctx, targets)
		if err != nil {
			s.finish(Aborted)
			return Aborted, err
		}
		if s.aborted(ctx) {
			return s.finish(Aborted), nil
		}

		s.state.Store(int32(Merging))
		before := s.model.Clone()
		if _, err := s.merge(ctx, candidates); err != nil {
			s.finish(Aborted)
			return Aborted, err
		}
		s.iterations++
		if coverage.Diff(before, s.model).Empty() {
			// an iteration without new coverage means every remaining
			// frontier direction is unreachable
			return s.finish(Converged), nil
		}
	}
}

func (s *Session) workerSeed(worker int) uint64 {
	return s.config.Seed + uint64(worker)
}

func (s *Session) aborted(ctx gocontext.Context) bool {
	return s.stop.Load() || ctx.Err() != nil
}

func (s *Session) finish(result State) State {
	s.state.Store(int32(result))
	return result
}

type replayJob struct {
	index    int
	sequence corpus.Sequence
}

// replayAll replays the given sequences across the session's workers and
// merges the coverage they observe into the session model.
func (s *Session) replayAll(ctx gocontext.Context, sequences []corpus.Sequence) error {
	jobs := make(chan replayJob, len(sequences))
	for i, sequence := range sequences {
		jobs <- replayJob{i, sequence}
	}
	close(jobs)

	var done atomic.Int64
	stopProgress := s.reportProgress(&done, int64(len(sequences)))
	defer stopProgress()

	errs := make([]error, s.config.Jobs)
	var wg sync.WaitGroup
	for i := 0; i < s.config.Jobs; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			errs[worker] = s.replayWorker(ctx, s.workerSeed(worker), jobs, &done)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// reportProgress periodically prints the replay throughput until the
// returned function is called. Without a progress sink it does nothing.
func (s *Session) reportProgress(done *atomic.Int64, total int64) func() {
	if s.config.Progress == nil {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		start := time.Now()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				replayed := done.Load()
				rate := float64(replayed) / time.Since(start).Seconds()
				fmt.Fprintf(s.config.Progress,
					"[%s] replayed %d of %d sequences, %sSeq/s\n",
					s.State(), replayed, total,
					unitconv.FormatPrefix(rate, unitconv.SI, 1))
			}
		}
	}()
	return func() { close(stop) }
}

func (s *Session) replayWorker(ctx gocontext.Context, seed uint64, jobs <-chan replayJob, done *atomic.Int64) error {
	engine, err := s.factory(seed)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	local := coverage.NewModel()
	for job := range jobs {
		if s.aborted(ctx) {
			break
		}
		world := s.genesis.Clone()
		r := runner.NewContractRunner(engine, world, runner.Config{
			ContinueOnRevert: s.config.ContinueOnRevert,
		})
		r.AddListener(local)
		if _, err := r.RunSequence(job.sequence); err != nil {
			// An engine fault poisons only the sequence that triggered
			// it; the remaining corpus is still worth replaying.
			var fault *evm.EngineFault
			if errors.As(err, &fault) {
				s.recordSkipped(fmt.Errorf("sequence %d: %w", job.index, err))
				done.Add(1)
				continue
			}
			return err
		}
		done.Add(1)
	}
	s.model.Merge(local)
	return nil
}

// explore attempts to synthesize one sequence per frontier target,
// distributing targets across the session's workers.
func (s *Session) explore(ctx gocontext.Context, targets []explorer.Target) ([]corpus.Sequence, error) {
	jobs := make(chan explorer.Target, len(targets))
	for _, target := range targets {
		jobs <- target
	}
	close(jobs)

	results := make(chan corpus.Sequence, len(targets))
	errs := make([]error, s.config.Jobs)
	var wg sync.WaitGroup
	for i := 0; i < s.config.Jobs; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			errs[worker] = s.exploreWorker(ctx, s.workerSeed(worker), jobs, results)
		}(i)
	}
	wg.Wait()
	close(results)

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	var candidates []corpus.Sequence
	for sequence := range results {
		candidates = append(candidates, sequence)
	}
	return candidates, nil
}

func (s *Session) exploreWorker(ctx gocontext.Context, seed uint64, jobs <-chan explorer.Target, results chan<- corpus.Sequence) error {
	engine, err := s.factory(seed)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	exp := explorer.NewExplorer(engine, s.maps, s.config.SolverTimeout)
	for target := range jobs {
		if s.aborted(ctx) {
			break
		}
		for _, seed := range s.store.Sequences() {
			sequence, found, err := exp.Synthesize(ctx, s.genesis, seed, target)
			if err != nil {
				var fault *evm.EngineFault
				if errors.As(err, &fault) {
					s.recordSkipped(fmt.Errorf("target %v: %w", target, err))
					continue
				}
				return err
			}
			if found {
				results <- sequence
				break
			}
		}
	}
	return nil
}

// merge feeds synthesized sequences into the corpus and replays them to
// account for their coverage. It returns the number of sequences that
// were actually new.
func (s *Session) merge(ctx gocontext.Context, candidates []corpus.Sequence) (int, error) {
	added := 0
	fresh := make([]corpus.Sequence, 0, len(candidates))
	for _, candidate := range candidates {
		ok, err := s.store.Add(candidate)
		if err != nil {
			return added, err
		}
		if ok {
			added++
			fresh = append(fresh, candidate)
		}
	}
	s.solved += added
	if err := s.replayAll(ctx, fresh); err != nil {
		return added, err
	}
	return added, nil
}
