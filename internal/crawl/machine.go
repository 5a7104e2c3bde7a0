package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/article"
	"github.com/Blackmvmba88/q2bs/internal/checkpoint"
	"github.com/Blackmvmba88/q2bs/internal/clock/system"
	"github.com/Blackmvmba88/q2bs/internal/fetcher"
	idgen "github.com/Blackmvmba88/q2bs/internal/id/uuid"
	"github.com/Blackmvmba88/q2bs/internal/metrics"
	"github.com/Blackmvmba88/q2bs/internal/progress"
)

const (
	defaultCheckpointEvery = 100
	finalSaveTimeout       = 30 * time.Second
)

// Config controls one crawl run.
type Config struct {
	// SampleStride visits every Nth page; 1 is a full crawl.
	SampleStride int `mapstructure:"sample"`
	// MaxPage fixes the page bound and skips the probe when positive.
	MaxPage int `mapstructure:"max_page"`
	// Resume continues from the latest checkpoint.
	Resume bool `mapstructure:"resume"`
	// CheckpointEvery is the number of pages between checkpoints.
	CheckpointEvery int `mapstructure:"checkpoint_every"`
	// ArticlesPerPage is the fallback density for the resume estimate.
	ArticlesPerPage float64 `mapstructure:"articles_per_page"`
}

func (c Config) withDefaults() Config {
	if c.SampleStride == 0 {
		c.SampleStride = 1
	}
	if c.CheckpointEvery == 0 {
		c.CheckpointEvery = defaultCheckpointEvery
	}
	if c.ArticlesPerPage == 0 {
		c.ArticlesPerPage = DefaultArticlesPerPage
	}
	return c
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	switch {
	case c.SampleStride < 1:
		return fmt.Errorf("sample stride %d must be a positive integer", c.SampleStride)
	case c.MaxPage < 0:
		return fmt.Errorf("max page %d must not be negative", c.MaxPage)
	case c.CheckpointEvery < 1:
		return fmt.Errorf("checkpoint interval %d must be at least 1", c.CheckpointEvery)
	case c.ArticlesPerPage <= 0:
		return fmt.Errorf("articles per page %v must be positive", c.ArticlesPerPage)
	}
	return nil
}

// Dependencies are the collaborators a Machine drives.
type Dependencies struct {
	Fetcher     PageFetcher
	Extractor   Extractor
	Probe       BoundProbe
	Checkpoints CheckpointStore
	Validator   *article.Validator
	// PageURL maps a page number to its listing URL.
	PageURL func(page int) string
	Clock   Clock
	IDs     IDGenerator
	Events  progress.Emitter
	Logger  *zap.Logger
}

// Machine runs a single crawl. It is not reusable: Run may be called once.
type Machine struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger

	mu    sync.RWMutex
	state State
	store *article.Store
}

// runState is everything that changes while a run is in progress.
type runState struct {
	runKey          [16]byte
	progress        checkpoint.Progress
	store           *article.Store
	sinceCheckpoint int
	report          Report
}

// New validates cfg and deps and returns an idle Machine.
func New(cfg Config, deps Dependencies) (*Machine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("crawl config: %w", err)
	}
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("crawl: fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("crawl: extractor is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("crawl: checkpoint store is required")
	case deps.PageURL == nil:
		return nil, errors.New("crawl: page url builder is required")
	case deps.Probe == nil && cfg.MaxPage == 0:
		return nil, errors.New("crawl: bound probe is required without a fixed max page")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Validator == nil {
		deps.Validator = article.NewValidator(article.ValidatorConfig{}, deps.Clock)
	}
	if deps.IDs == nil {
		deps.IDs = idgen.NewUUIDGenerator()
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		state:  StateIdle,
		store:  article.NewStore(),
	}, nil
}

// State returns the current state. Safe to call from other goroutines.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Store returns the article store the run fills. It must not be mutated
// while Run is in progress.
func (m *Machine) Store() *article.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store
}

// Run executes the crawl until the page plan is exhausted, a systemic
// failure occurs or ctx is canceled. The report is returned in every case;
// the error is non-nil unless the run completed.
func (m *Machine) Run(ctx context.Context) (Report, error) {
	if state := m.State(); state != StateIdle {
		return Report{State: state}, fmt.Errorf("crawl: machine already used (state %s)", state)
	}
	st, err := m.begin()
	if err != nil {
		return st.report, err
	}
	m.emit(st, progress.Event{Stage: progress.StageRunStart})
	m.logger.Info("crawl started",
		zap.String("run_id", st.report.RunID),
		zap.Bool("resume", m.cfg.Resume),
		zap.Int("sample_stride", m.cfg.SampleStride),
	)
	return m.finish(st, m.run(ctx, st))
}

func (m *Machine) begin() (*runState, error) {
	st := &runState{
		store: m.Store(),
		report: Report{
			SampleStride: m.cfg.SampleStride,
			Rejections:   make(map[string]int),
			FailedPages:  []int{},
			StartedAt:    m.deps.Clock.Now(),
		},
	}
	runID, err := m.deps.IDs.NewID()
	if err != nil {
		return st, fmt.Errorf("crawl: generate run id: %w", err)
	}
	parsed, err := uuid.Parse(runID)
	if err != nil {
		return st, fmt.Errorf("crawl: run id %q: %w", runID, err)
	}
	st.runKey = progress.UUIDToBytes(parsed)
	st.report.RunID = runID
	st.progress = checkpoint.Progress{RunID: runID, SampleStride: m.cfg.SampleStride}
	return st, nil
}

func (m *Machine) run(ctx context.Context, st *runState) error {
	if err := m.transition(st, StateDeterminingBound); err != nil {
		return err
	}
	bound, err := m.determineBound(ctx)
	if err != nil {
		return err
	}
	st.report.Bound = bound
	st.progress.MaxPage = bound

	start := 1
	if m.cfg.Resume {
		if err := m.transition(st, StateResuming); err != nil {
			return err
		}
		if start, err = m.resume(ctx, st, bound); err != nil {
			return err
		}
	}

	plan := PagePlan(bound, m.cfg.SampleStride, start)
	st.report.StartPage = start
	st.report.PagesPlanned = len(plan)
	m.logger.Info("page plan ready",
		zap.Int("bound", bound),
		zap.Int("start_page", start),
		zap.Int("pages", len(plan)),
	)

	if err := m.transition(st, StateFetching); err != nil {
		return err
	}
	for _, page := range plan {
		if err := ctx.Err(); err != nil {
			return m.interrupt(ctx, st, err)
		}
		if err := m.crawlPage(ctx, st, page); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return m.interrupt(ctx, st, ctxErr)
			}
			return m.abort(ctx, st, err)
		}
		st.sinceCheckpoint++
		if st.sinceCheckpoint >= m.cfg.CheckpointEvery {
			if err := m.checkpoint(ctx, st, StateFetching); err != nil {
				return err
			}
		}
	}
	return m.checkpoint(ctx, st, StateCompleted)
}

func (m *Machine) determineBound(ctx context.Context) (int, error) {
	if m.cfg.MaxPage > 0 {
		m.logger.Info("using fixed page bound", zap.Int("max_page", m.cfg.MaxPage))
		return m.cfg.MaxPage, nil
	}
	bound, err := m.deps.Probe.MaxPage(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBoundDetermination, err)
	}
	if bound < 1 {
		return 0, fmt.Errorf("%w: probe returned %d", ErrBoundDetermination, bound)
	}
	return bound, nil
}

// resume seeds the run from the latest checkpoint and returns the start
// page. A missing or unreadable checkpoint fails the run.
func (m *Machine) resume(ctx context.Context, st *runState, bound int) (int, error) {
	snap, err := m.deps.Checkpoints.LoadLatest(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}
	store := article.NewStoreFrom(snap.Articles)
	m.mu.Lock()
	m.store = store
	m.mu.Unlock()
	st.store = store

	prev := snap.Progress
	st.progress.LastPageCompleted = prev.LastPageCompleted
	st.progress.PagesFetchedCount = prev.PagesFetchedCount
	st.progress.PagesFailed = prev.PagesFailed
	if prev.LastPageCompleted > st.progress.MaxPage {
		st.progress.MaxPage = prev.LastPageCompleted
	}
	m.refreshIDRange(st)

	density := snap.ArticlesPerPage()
	if density <= 0 {
		density = m.cfg.ArticlesPerPage
	}
	start := ResumePage(bound, density, st.progress.MinArticleIDSeen)
	st.report.Resumed = true
	st.report.ArticlesLoaded = store.Len()
	m.logger.Info("resuming from checkpoint",
		zap.Int64("sequence", prev.Sequence),
		zap.String("previous_run_id", prev.RunID),
		zap.Int("articles", store.Len()),
		zap.Int64("min_article_id", st.progress.MinArticleIDSeen),
		zap.Float64("articles_per_page", density),
		zap.Int("resume_page", start),
	)
	return start, nil
}

// crawlPage fetches, extracts and stores one page. Page-level failures are
// recorded and swallowed; only systemic fetch errors are returned.
func (m *Machine) crawlPage(ctx context.Context, st *runState, page int) error {
	result, err := m.deps.Fetcher.Fetch(ctx, fetcher.Request{PageNumber: page, URL: m.deps.PageURL(page)})
	st.report.Retries += result.Retries()
	if err != nil {
		return fmt.Errorf("fetch page %d: %w", page, err)
	}

	outcome := result.Outcome
	pageErr := result.Err
	var added, duplicates, rejected int
	if outcome == fetcher.Success {
		records, exErr := m.deps.Extractor.Extract(ctx, page, result.Response.Body)
		if exErr != nil {
			outcome = fetcher.PermanentFailure
			pageErr = fmt.Errorf("extract: %w", exErr)
		} else {
			added, duplicates, rejected = m.ingest(st, records)
		}
	}

	if outcome == fetcher.Success {
		st.progress.PagesFetchedCount++
		st.report.PagesFetched++
	} else {
		st.progress.PagesFailed++
		st.report.PagesFailed++
		st.report.FailedPages = append(st.report.FailedPages, page)
		m.logger.Warn("page failed, continuing",
			zap.Int("page", page),
			zap.Int("attempts", len(result.Attempts)),
			zap.Error(pageErr),
		)
	}
	if page > st.progress.LastPageCompleted {
		st.progress.LastPageCompleted = page
	}
	m.refreshIDRange(st)

	metrics.ObservePage(string(outcome), st.progress.LastPageCompleted)
	evt := progress.Event{
		Stage:      progress.StagePageDone,
		Page:       page,
		Outcome:    string(outcome),
		Added:      added,
		Duplicates: duplicates,
		Rejected:   rejected,
		Attempts:   len(result.Attempts),
		Dur:        result.Response.Duration,
	}
	if pageErr != nil {
		evt.Note = pageErr.Error()
	}
	m.emit(st, evt)
	return nil
}

// ingest validates records and inserts the valid ones. Ids already in the
// store are skipped silently.
func (m *Machine) ingest(st *runState, records []article.RawRecord) (added, duplicates, rejected int) {
	var reasons map[string]int
	for _, rec := range records {
		res := m.deps.Validator.Validate(rec)
		if !res.Valid() {
			rejected++
			reason := string(res.Rejection.Reason)
			st.report.Rejections[reason]++
			if reasons == nil {
				reasons = make(map[string]int)
			}
			reasons[reason]++
			m.logger.Debug("record rejected",
				zap.Int("page", rec.PageNumber),
				zap.String("reason", reason),
				zap.String("detail", res.Rejection.Detail),
			)
			continue
		}
		if st.store.Insert(res.Article) {
			added++
		} else {
			duplicates++
		}
	}
	st.report.ArticlesAdded += added
	st.report.DuplicatesSkipped += duplicates
	st.report.RecordsRejected += rejected
	metrics.ObserveRecords(added, duplicates, reasons)
	return added, duplicates, rejected
}

func (m *Machine) refreshIDRange(st *runState) {
	if minID, maxID, ok := st.store.IDRange(); ok {
		st.progress.MinArticleIDSeen = minID
		st.progress.MaxArticleIDSeen = maxID
	}
}

// checkpoint persists progress and moves on to next. Saves run on a context
// detached from cancellation so a stop request never truncates one.
func (m *Machine) checkpoint(ctx context.Context, st *runState, next State) error {
	if err := m.transition(st, StateCheckpointing); err != nil {
		return err
	}
	if err := m.save(ctx, st); err != nil {
		return err
	}
	return m.transition(st, next)
}

func (m *Machine) save(ctx context.Context, st *runState) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
	defer cancel()
	saved, err := m.deps.Checkpoints.Save(saveCtx, checkpoint.Snapshot{
		Progress: st.progress,
		Articles: st.store.Articles(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointFailed, err)
	}
	st.progress = saved
	st.sinceCheckpoint = 0
	st.report.Checkpoints++
	m.emit(st, progress.Event{Stage: progress.StageCheckpoint, Page: saved.LastPageCompleted})
	return nil
}

// interrupt handles cancellation: one last checkpoint, then stop.
func (m *Machine) interrupt(ctx context.Context, st *runState, cause error) error {
	m.logger.Warn("crawl interrupted, saving final checkpoint",
		zap.Int("last_page_completed", st.progress.LastPageCompleted),
		zap.Error(cause),
	)
	return m.finalSave(ctx, st, fmt.Errorf("crawl interrupted: %w", cause))
}

// abort handles systemic failures the same way as interruption.
func (m *Machine) abort(ctx context.Context, st *runState, cause error) error {
	m.logger.Error("systemic failure, saving final checkpoint",
		zap.Int("last_page_completed", st.progress.LastPageCompleted),
		zap.Error(cause),
	)
	return m.finalSave(ctx, st, cause)
}

func (m *Machine) finalSave(ctx context.Context, st *runState, cause error) error {
	if err := m.transition(st, StateCheckpointing); err != nil {
		return errors.Join(cause, err)
	}
	if err := m.save(ctx, st); err != nil {
		m.logger.Error("final checkpoint failed", zap.Error(err))
		return errors.Join(cause, err)
	}
	return cause
}

func (m *Machine) finish(st *runState, runErr error) (Report, error) {
	if runErr != nil {
		if !m.State().Terminal() {
			m.mu.Lock()
			from := m.state
			m.state = StateFailed
			m.mu.Unlock()
			m.logger.Info("crawl state transition", zap.String("from", string(from)), zap.String("to", string(StateFailed)))
			m.emit(st, progress.Event{Stage: progress.StageState, State: string(StateFailed)})
		}
		st.report.Error = runErr.Error()
	}
	st.report.State = m.State()
	st.report.FinishedAt = m.deps.Clock.Now()
	st.report.TotalArticles = st.store.Len()
	st.report.LastPageCompleted = st.progress.LastPageCompleted

	fields := []zap.Field{
		zap.String("run_id", st.report.RunID),
		zap.String("state", string(st.report.State)),
		zap.Int("pages_fetched", st.report.PagesFetched),
		zap.Int("pages_failed", st.report.PagesFailed),
		zap.Int("articles_added", st.report.ArticlesAdded),
		zap.Int("duplicates_skipped", st.report.DuplicatesSkipped),
		zap.Int("records_rejected", st.report.RecordsRejected),
		zap.Int("checkpoints", st.report.Checkpoints),
	}
	if runErr != nil {
		m.emit(st, progress.Event{Stage: progress.StageRunError, Dur: st.report.Duration(), Note: runErr.Error()})
		m.logger.Error("crawl failed", append(fields, zap.Error(runErr))...)
		return st.report, runErr
	}
	m.emit(st, progress.Event{Stage: progress.StageRunDone, Dur: st.report.Duration()})
	m.logger.Info("crawl completed", fields...)
	return st.report, nil
}

func (m *Machine) transition(st *runState, to State) error {
	m.mu.Lock()
	from := m.state
	if err := checkTransition(from, to); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = to
	m.mu.Unlock()

	m.logger.Info("crawl state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	m.emit(st, progress.Event{Stage: progress.StageState, State: string(to)})
	return nil
}

func (m *Machine) emit(st *runState, evt progress.Event) {
	evt.RunID = st.runKey
	evt.TS = m.deps.Clock.Now()
	evt.Bound = st.report.Bound
	m.deps.Events.Emit(evt)
}
