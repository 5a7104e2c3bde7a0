package checkpoint

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/Blackmvmba88/q2bs/internal/article"
)

const formatVersion = 1

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope is the on-disk checkpoint document.
type envelope struct {
	Version  int               `json:"version"`
	Progress Progress          `json:"progress"`
	Digest   string            `json:"digest"`
	Articles []article.Article `json:"articles"`
}

// digestArticles hashes the canonical encoding of articles, so reformatting
// the file does not invalidate it but any change of content does.
func digestArticles(articles []article.Article, hasher Hasher) (string, error) {
	if articles == nil {
		articles = []article.Article{}
	}
	payload, err := json.Marshal(articles)
	if err != nil {
		return "", fmt.Errorf("marshal articles: %w", err)
	}
	digest, err := hasher.Hash(payload)
	if err != nil {
		return "", fmt.Errorf("digest articles: %w", err)
	}
	return digest, nil
}

func encode(snap Snapshot, hasher Hasher) ([]byte, error) {
	articles := snap.Articles
	if articles == nil {
		articles = []article.Article{}
	}
	digest, err := digestArticles(articles, hasher)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(envelope{
		Version:  formatVersion,
		Progress: snap.Progress,
		Digest:   digest,
		Articles: articles,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return data, nil
}

// decode parses and verifies a checkpoint document. Content failures wrap
// ErrCorrupt.
func decode(data []byte, hasher Hasher, validator *article.Validator) (Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Snapshot{}, fmt.Errorf("%w: parse: %w", ErrCorrupt, err)
	}
	if env.Version != formatVersion {
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, env.Version)
	}
	if err := env.Progress.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	digest, err := digestArticles(env.Articles, hasher)
	if err != nil {
		return Snapshot{}, err
	}
	if digest != env.Digest {
		return Snapshot{}, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	seen := make(map[int64]struct{}, len(env.Articles))
	for i, a := range env.Articles {
		if err := validator.Check(a); err != nil {
			return Snapshot{}, fmt.Errorf("%w: article %d: %w", ErrCorrupt, i, err)
		}
		if _, dup := seen[a.ID]; dup {
			return Snapshot{}, fmt.Errorf("%w: duplicate article id %d", ErrCorrupt, a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return Snapshot{Progress: env.Progress, Articles: env.Articles}, nil
}
