package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/article"
	"github.com/Blackmvmba88/q2bs/internal/hash/sha256"
	"github.com/Blackmvmba88/q2bs/internal/metrics"
)

const (
	filePrefix  = "checkpoint-"
	fileSuffix  = ".json"
	tempPattern = ".checkpoint-*.tmp"
	// MirrorName is the CSV copy of the corpus kept next to the checkpoints.
	MirrorName  = "articles.csv"
	defaultKeep = 3
)

// Config controls where checkpoints live and how many are retained.
type Config struct {
	Dir  string `mapstructure:"dir"`
	Keep int    `mapstructure:"keep"`
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for SavedAt.
func WithClock(clock Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithHasher overrides the integrity digest.
func WithHasher(h Hasher) Option {
	return func(s *Store) { s.hasher = h }
}

// WithValidator overrides the validator applied to loaded articles.
func WithValidator(v *article.Validator) Option {
	return func(s *Store) { s.validator = v }
}

// Store reads and writes checkpoints in a single directory.
type Store struct {
	dir       string
	keep      int
	logger    *zap.Logger
	clock     Clock
	hasher    Hasher
	validator *article.Validator
	rename    func(oldpath, newpath string) error
}

// NewStore creates the checkpoint directory if needed and returns a Store.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	keep := cfg.Keep
	if keep < 1 {
		keep = defaultKeep
	}
	s := &Store{
		dir:       cfg.Dir,
		keep:      keep,
		logger:    zap.NewNop(),
		clock:     utcClock{},
		hasher:    sha256.New(),
		validator: article.NewValidator(article.ValidatorConfig{}, nil),
		rename:    os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes snap as the newest checkpoint and refreshes the CSV mirror.
// The assigned sequence and save time are returned in the stored progress.
func (s *Store) Save(ctx context.Context, snap Snapshot) (Progress, error) {
	progress, err := s.save(ctx, snap)
	metrics.ObserveCheckpoint(err)
	return progress, err
}

func (s *Store) save(ctx context.Context, snap Snapshot) (Progress, error) {
	if err := ctx.Err(); err != nil {
		return Progress{}, fmt.Errorf("save checkpoint: %w", err)
	}
	seqs, err := s.sequences()
	if err != nil {
		return Progress{}, err
	}
	next := int64(1)
	if len(seqs) > 0 {
		next = seqs[len(seqs)-1] + 1
	}
	snap.Progress.Sequence = next
	snap.Progress.SavedAt = s.clock.Now()
	if err := snap.Progress.Validate(); err != nil {
		return Progress{}, fmt.Errorf("invalid progress: %w", err)
	}

	data, err := encode(snap, s.hasher)
	if err != nil {
		return Progress{}, err
	}
	name := fileName(next)
	if err := s.writeAtomic(name, data); err != nil {
		return Progress{}, fmt.Errorf("write checkpoint %s: %w", name, err)
	}

	if err := s.writeMirror(snap.Articles); err != nil {
		// The checkpoint is already committed.
		s.logger.Warn("failed to refresh csv mirror", zap.String("file", MirrorName), zap.Error(err))
	}

	s.logger.Info("checkpoint saved",
		zap.String("file", name),
		zap.Int("last_page_completed", snap.Progress.LastPageCompleted),
		zap.Int("pages_fetched", snap.Progress.PagesFetchedCount),
		zap.Int("articles", len(snap.Articles)),
	)
	s.prune(append(seqs, next))
	return snap.Progress, nil
}

func (s *Store) writeMirror(articles []article.Article) error {
	var mirror bytes.Buffer
	if err := article.WriteCSV(&mirror, articles); err != nil {
		return fmt.Errorf("encode csv mirror: %w", err)
	}
	if err := s.writeAtomic(MirrorName, mirror.Bytes()); err != nil {
		return fmt.Errorf("write csv mirror: %w", err)
	}
	return nil
}

// LoadLatest returns the newest checkpoint that validates, falling back to
// older ones when the newest is corrupt.
func (s *Store) LoadLatest(ctx context.Context) (Snapshot, error) {
	seqs, err := s.sequences()
	if err != nil {
		return Snapshot{}, err
	}
	if len(seqs) == 0 {
		return Snapshot{}, fmt.Errorf("%w in %s", ErrNoCheckpoint, s.dir)
	}
	var lastErr error
	for i := len(seqs) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, fmt.Errorf("load checkpoint: %w", err)
		}
		name := fileName(seqs[i])
		snap, err := s.load(name)
		if err == nil {
			if snap.Progress.Sequence != seqs[i] {
				err = fmt.Errorf("%w: sequence %d stored in %s", ErrCorrupt, snap.Progress.Sequence, name)
			} else {
				return snap, nil
			}
		}
		s.logger.Warn("skipping unusable checkpoint", zap.String("file", name), zap.Error(err))
		lastErr = err
	}
	if errors.Is(lastErr, ErrCorrupt) {
		return Snapshot{}, fmt.Errorf("all %d checkpoints unusable: %w", len(seqs), lastErr)
	}
	return Snapshot{}, fmt.Errorf("%w: all %d checkpoints unusable: %w", ErrCorrupt, len(seqs), lastErr)
}

func (s *Store) load(name string) (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name)) // #nosec G304 -- name comes from our own listing.
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", name, err)
	}
	return decode(data, s.hasher, s.validator)
}

// sequences lists checkpoint sequence numbers in ascending order. Temporary
// files and unrelated entries are ignored.
func (s *Store) sequences() ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var seqs []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, ok := parseFileName(entry.Name())
		if ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (s *Store) prune(seqs []int64) {
	if len(seqs) <= s.keep {
		return
	}
	for _, seq := range seqs[:len(seqs)-s.keep] {
		path := filepath.Join(s.dir, fileName(seq))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to prune checkpoint", zap.String("file", path), zap.Error(err))
		}
	}
}

// writeAtomic writes data to a temp file in the checkpoint directory, syncs
// it, renames it over name and syncs the directory.
func (s *Store) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := s.rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true
	return syncDir(s.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 -- directory is operator configured.
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}

func fileName(seq int64) string {
	return fmt.Sprintf("%s%08d%s", filePrefix, seq, fileSuffix)
}

func parseFileName(name string) (int64, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	seq, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}
