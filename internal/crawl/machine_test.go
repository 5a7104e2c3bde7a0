package crawl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackmvmba88/q2bs/internal/article"
	"github.com/Blackmvmba88/q2bs/internal/checkpoint"
	"github.com/Blackmvmba88/q2bs/internal/fetcher"
	"github.com/Blackmvmba88/q2bs/internal/progress"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "0190f5a8-3c2e-7a4b-9c1d-2e3f4a5b6c7d", nil }

// site is a newest-first listing: page p holds ids top-(p-1)*per down to
// top-p*per+1.
type site struct {
	top int64
	per int
}

func (s site) ids(page int) []int64 {
	ids := make([]int64, 0, s.per)
	first := s.top - int64((page-1)*s.per)
	for k := 0; k < s.per; k++ {
		ids = append(ids, first-int64(k))
	}
	return ids
}

type fakeFetcher struct {
	mu        sync.Mutex
	calls     []int
	permanent map[int]bool
	fatal     map[int]error
	onFetch   func(page int)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.PageNumber)
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(req.PageNumber)
	}

	result := fetcher.Result{PageNumber: req.PageNumber}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if err, ok := f.fatal[req.PageNumber]; ok {
		result.Outcome = fetcher.PermanentFailure
		result.Err = err
		return result, err
	}
	attempt := fetcher.Attempt{PageNumber: req.PageNumber, AttemptIndex: 0}
	if f.permanent[req.PageNumber] {
		attempt.Outcome = fetcher.PermanentFailure
		attempt.StatusCode = 404
		result.Outcome = fetcher.PermanentFailure
		result.Attempts = []fetcher.Attempt{attempt}
		result.Err = fetcher.ErrPermanent
		return result, nil
	}
	attempt.Outcome = fetcher.Success
	attempt.StatusCode = 200
	result.Outcome = fetcher.Success
	result.Attempts = []fetcher.Attempt{attempt}
	result.Response = fetcher.Response{URL: req.URL, StatusCode: 200, Body: []byte(strconv.Itoa(req.PageNumber))}
	return result, nil
}

func (f *fakeFetcher) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

type siteExtractor struct {
	site  site
	extra map[int][]article.RawRecord
}

func (e siteExtractor) Extract(_ context.Context, page int, body []byte) ([]article.RawRecord, error) {
	if string(body) != strconv.Itoa(page) {
		return nil, fmt.Errorf("body %q does not belong to page %d", body, page)
	}
	var records []article.RawRecord
	for _, id := range e.site.ids(page) {
		records = append(records, article.RawRecord{
			IDCandidate: strconv.FormatInt(id, 10),
			Title:       "Article " + strconv.FormatInt(id, 10),
			URL:         "https://www.q2bstudio.com/nuestro-blog/" + strconv.FormatInt(id, 10),
			Date:        "2025-01-20",
			PageNumber:  page,
		})
	}
	return append(records, e.extra[page]...), nil
}

type fakeProbe struct {
	bound int
	err   error
	calls int
}

func (p *fakeProbe) MaxPage(context.Context) (int, error) {
	p.calls++
	return p.bound, p.err
}

type memCheckpoints struct {
	mu      sync.Mutex
	saved   []checkpoint.Snapshot
	failOn  int
	ctxErrs []error
}

func (m *memCheckpoints) Save(ctx context.Context, snap checkpoint.Snapshot) (checkpoint.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	n := len(m.saved) + 1
	if m.failOn == n {
		return checkpoint.Progress{}, errors.New("disk full")
	}
	snap.Progress.Sequence = int64(n)
	snap.Articles = append([]article.Article(nil), snap.Articles...)
	m.saved = append(m.saved, snap)
	return snap.Progress, nil
}

func (m *memCheckpoints) LoadLatest(context.Context) (checkpoint.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return checkpoint.Snapshot{}, checkpoint.ErrNoCheckpoint
	}
	return m.saved[len(m.saved)-1], nil
}

func (m *memCheckpoints) lastPages() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pages := make([]int, 0, len(m.saved))
	for _, s := range m.saved {
		pages = append(pages, s.Progress.LastPageCompleted)
	}
	return pages
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

type harness struct {
	fetcher     *fakeFetcher
	extractor   siteExtractor
	probe       *fakeProbe
	checkpoints *memCheckpoints
	events      *recordingEmitter
}

func newHarness(bound int) *harness {
	return &harness{
		fetcher:     &fakeFetcher{},
		extractor:   siteExtractor{site: site{top: int64(bound * 9), per: 9}},
		probe:       &fakeProbe{bound: bound},
		checkpoints: &memCheckpoints{},
		events:      &recordingEmitter{},
	}
}

func (h *harness) machine(t *testing.T, cfg Config) *Machine {
	t.Helper()
	m, err := New(cfg, Dependencies{
		Fetcher:     h.fetcher,
		Extractor:   h.extractor,
		Probe:       h.probe,
		Checkpoints: h.checkpoints,
		PageURL: func(page int) string {
			return "https://www.q2bstudio.com/nuestro-blog/page/" + strconv.Itoa(page)
		},
		Clock:  fixedClock{t: time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)},
		IDs:    staticIDs{},
		Events: h.events,
	})
	require.NoError(t, err)
	return m
}

func TestRunSampledPlan(t *testing.T) {
	t.Parallel()

	h := newHarness(95)
	m := h.machine(t, Config{SampleStride: 10})

	report, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 11, 21, 31, 41, 51, 61, 71, 81, 91}, h.fetcher.Calls())
	assert.Equal(t, StateCompleted, m.State())
	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, 95, report.Bound)
	assert.Equal(t, 10, report.PagesPlanned)
	assert.Equal(t, 10, report.PagesFetched)
	assert.Equal(t, 90, report.ArticlesAdded)
	assert.Equal(t, 90, m.Store().Len())
	assert.Equal(t, 91, report.LastPageCompleted)
	assert.Equal(t, 1, report.Checkpoints)
	assert.Equal(t, 1, h.probe.calls)

	saved, err := h.checkpoints.LoadLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, saved.Progress.SampleStride)
	assert.Equal(t, 95, saved.Progress.MaxPage)
	assert.Equal(t, 10, saved.Progress.PagesFetchedCount)
	assert.Len(t, saved.Articles, 90)
}

func TestRunFixedMaxPageSkipsProbe(t *testing.T) {
	t.Parallel()

	h := newHarness(50)
	h.probe.err = errors.New("probe must not run")
	m := h.machine(t, Config{MaxPage: 3})

	report, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, h.fetcher.Calls())
	assert.Equal(t, 3, report.Bound)
	assert.Zero(t, h.probe.calls)
}

func TestRunProbeFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(5)
	h.probe.err = errors.New("pagination not found")
	m := h.machine(t, Config{})

	report, err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrBoundDetermination)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, StateFailed, report.State)
	assert.NotEmpty(t, report.Error)
	assert.Empty(t, h.fetcher.Calls())
	assert.Empty(t, h.checkpoints.lastPages())
}

func TestRunPermanentFailureContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(5)
	h.fetcher.permanent = map[int]bool{3: true}
	m := h.machine(t, Config{})

	report, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, h.fetcher.Calls())
	assert.Equal(t, 4, report.PagesFetched)
	assert.Equal(t, 1, report.PagesFailed)
	assert.Equal(t, []int{3}, report.FailedPages)
	assert.Equal(t, 36, report.TotalArticles)

	saved, err := h.checkpoints.LoadLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, saved.Progress.LastPageCompleted)
	assert.Equal(t, 4, saved.Progress.PagesFetchedCount)
	assert.Equal(t, 1, saved.Progress.PagesFailed)
}

func TestRunCheckpointCadence(t *testing.T) {
	t.Parallel()

	h := newHarness(10)
	m := h.machine(t, Config{CheckpointEvery: 3})

	report, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 6, 9, 10}, h.checkpoints.lastPages())
	assert.Equal(t, 4, report.Checkpoints)
}

func TestRunCheckpointFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(10)
	h.checkpoints.failOn = 1
	m := h.machine(t, Config{CheckpointEvery: 2})

	report, err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrCheckpointFailed)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, []int{1, 2}, h.fetcher.Calls())
	assert.Zero(t, report.Checkpoints)
}

func TestRunCancelSavesFinalCheckpoint(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(10)
	h.fetcher.onFetch = func(page int) {
		if page == 3 {
			cancel()
		}
	}
	m := h.machine(t, Config{})

	report, err := m.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, []int{1, 2, 3}, h.fetcher.Calls())
	assert.Equal(t, []int{2}, h.checkpoints.lastPages())
	assert.Equal(t, []error{nil}, h.checkpoints.ctxErrs)
	assert.Equal(t, 1, report.Checkpoints)
	assert.Equal(t, 18, report.TotalArticles)
}

func TestRunFatalFetchError(t *testing.T) {
	t.Parallel()

	h := newHarness(10)
	h.fetcher.fatal = map[int]error{2: fmt.Errorf("lookup www.q2bstudio.com: %w", fetcher.ErrHostUnreachable)}
	m := h.machine(t, Config{})

	_, err := m.Run(context.Background())
	require.ErrorIs(t, err, fetcher.ErrHostUnreachable)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, []int{1, 2}, h.fetcher.Calls())
	assert.Equal(t, []int{1}, h.checkpoints.lastPages())
}

func TestRunResumeWithoutCheckpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(10)
	m := h.machine(t, Config{Resume: true})

	_, err := m.Run(context.Background())
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
	assert.Equal(t, StateFailed, m.State())
	assert.Empty(t, h.fetcher.Calls())
}

func TestResumeIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(10)
	h.fetcher.onFetch = func(page int) {
		if page == 5 {
			cancel()
		}
	}
	first := h.machine(t, Config{})
	_, err := first.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []int{4}, h.checkpoints.lastPages())

	h.fetcher = &fakeFetcher{}
	second := h.machine(t, Config{Resume: true})
	report, err := second.Run(context.Background())
	require.NoError(t, err)

	// min id 55 at density 9 over bound 10 estimates page 3.
	assert.True(t, report.Resumed)
	assert.Equal(t, 3, report.StartPage)
	assert.Equal(t, []int{3, 4, 5, 6, 7, 8, 9, 10}, h.fetcher.Calls())
	assert.Equal(t, 36, report.ArticlesLoaded)
	assert.Equal(t, 18, report.DuplicatesSkipped)
	assert.Equal(t, 54, report.ArticlesAdded)
	assert.Equal(t, 90, report.TotalArticles)

	seen := make(map[int64]struct{})
	for _, a := range second.Store().Articles() {
		_, dup := seen[a.ID]
		require.False(t, dup, "duplicate id %d", a.ID)
		seen[a.ID] = struct{}{}
	}
	assert.Len(t, seen, 90)

	saved, err := h.checkpoints.LoadLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, saved.Progress.LastPageCompleted)
	assert.Equal(t, int64(1), saved.Progress.MinArticleIDSeen)
	assert.Equal(t, int64(90), saved.Progress.MaxArticleIDSeen)
}

func TestRunCountsRejectionsAndDuplicates(t *testing.T) {
	t.Parallel()

	h := newHarness(2)
	h.extractor.extra = map[int][]article.RawRecord{
		1: {
			{IDCandidate: "abc", Title: "Broken", URL: "https://www.q2bstudio.com/x", Date: "2025-01-20", PageNumber: 1},
			{IDCandidate: "18", Title: "Article 18", URL: "https://www.q2bstudio.com/nuestro-blog/18", Date: "2025-01-20", PageNumber: 1},
			{IDCandidate: "500", Title: "No date", URL: "https://www.q2bstudio.com/nuestro-blog/500", Date: "N/A", PageNumber: 1},
		},
	}
	m := h.machine(t, Config{})

	report, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 18, report.TotalArticles)
	assert.Equal(t, 1, report.DuplicatesSkipped)
	assert.Equal(t, 2, report.RecordsRejected)
	assert.Equal(t, map[string]int{"invalid_id": 1, "invalid_date": 1}, report.Rejections)
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(2)
	m := h.machine(t, Config{})
	_, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StageState, // determining_bound
		progress.StageState, // fetching
		progress.StagePageDone,
		progress.StagePageDone,
		progress.StageState, // checkpointing
		progress.StageCheckpoint,
		progress.StageState, // completed
		progress.StageRunDone,
	}, h.events.stages())
	for _, evt := range h.events.events {
		require.NoError(t, evt.Validate())
	}
	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, 2, last.Bound)
}

func TestRunOnlyOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(1)
	m := h.machine(t, Config{})
	_, err := m.Run(context.Background())
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []int{1}, h.fetcher.Calls())
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(1)
	deps := Dependencies{Fetcher: h.fetcher, Extractor: h.extractor, Checkpoints: h.checkpoints, PageURL: strconv.Itoa}

	_, err := New(Config{SampleStride: -1, MaxPage: 1}, deps)
	require.Error(t, err)
	_, err = New(Config{}, deps)
	require.Error(t, err, "probe required without max page")
	_, err = New(Config{MaxPage: 4}, deps)
	require.NoError(t, err)
}
