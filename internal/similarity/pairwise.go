package similarity

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Pair is a near-duplicate candidate. ArticleIDA is always below ArticleIDB.
type Pair struct {
	ArticleIDA int64   `json:"article_id_a"`
	ArticleIDB int64   `json:"article_id_b"`
	Score      float64 `json:"score"`
	TitleA     string  `json:"title_a"`
	TitleB     string  `json:"title_b"`
}

type scoredItem struct {
	id       int64
	title    string
	key      string
	shingles ShingleSet
}

// Score is the pairwise similarity of two normalized titles: 1.0 when the
// keys are identical, the Jaccard index of their shingle sets otherwise.
func Score(keyA, keyB string, a, b ShingleSet) float64 {
	if keyA == keyB {
		return 1
	}
	return Jaccard(a, b)
}

// scorePairs compares every unordered pair of items and keeps those scoring
// at least threshold. Rows are spread across at most workers goroutines; the
// result is sorted by descending score, ties by (ArticleIDA, ArticleIDB),
// whatever the scheduling.
func scorePairs(ctx context.Context, items []scoredItem, threshold float64, workers int) ([]Pair, error) {
	if workers < 1 {
		workers = 1
	}
	n := len(items)
	if n < 2 {
		return []Pair{}, nil
	}

	shards := workers * 4
	if shards > n {
		shards = n
	}
	results := make([][]Pair, shards)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for shard := 0; shard < shards; shard++ {
		g.Go(func() error {
			var local []Pair
			// Interleaved rows balance the triangular workload.
			for i := shard; i < n; i += shards {
				if err := gctx.Err(); err != nil {
					return fmt.Errorf("pairwise shard %d: %w", shard, err)
				}
				a := items[i]
				for j := i + 1; j < n; j++ {
					b := items[j]
					score := Score(a.key, b.key, a.shingles, b.shingles)
					if score < threshold {
						continue
					}
					local = append(local, newPair(a, b, score))
				}
			}
			results[shard] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	pairs := make([]Pair, 0, total)
	for _, r := range results {
		pairs = append(pairs, r...)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Score != pairs[j].Score {
			return pairs[i].Score > pairs[j].Score
		}
		if pairs[i].ArticleIDA != pairs[j].ArticleIDA {
			return pairs[i].ArticleIDA < pairs[j].ArticleIDA
		}
		return pairs[i].ArticleIDB < pairs[j].ArticleIDB
	})
	return pairs, nil
}

func newPair(a, b scoredItem, score float64) Pair {
	if a.id > b.id {
		a, b = b, a
	}
	return Pair{
		ArticleIDA: a.id,
		ArticleIDB: b.id,
		Score:      score,
		TitleA:     a.title,
		TitleB:     b.title,
	}
}
