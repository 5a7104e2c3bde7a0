package similarity

import (
	"sort"

	"golang.org/x/text/cases"

	"github.com/Blackmvmba88/q2bs/internal/article"
)

// Cluster groups the articles that share a normalized key. Members keep the
// order in which the articles were inserted into the store.
type Cluster struct {
	Key       string  `json:"key"`
	MemberIDs []int64 `json:"member_ids"`
	Size      int     `json:"size"`
}

// ClusterExact groups articles by normalized title. Every article lands in
// exactly one cluster, including articles whose key is empty. Clusters are
// ordered by size descending, then by first member id ascending.
func ClusterExact(articles []article.Article) []Cluster {
	fold := cases.Fold()
	keys := make([]string, len(articles))
	for i, a := range articles {
		keys[i] = normalizeWith(fold, a.Title)
	}
	return clusterKeys(articles, keys)
}

func clusterKeys(articles []article.Article, keys []string) []Cluster {
	index := make(map[string]int, len(articles))
	clusters := make([]Cluster, 0)
	for i, a := range articles {
		key := keys[i]
		pos, ok := index[key]
		if !ok {
			pos = len(clusters)
			index[key] = pos
			clusters = append(clusters, Cluster{Key: key})
		}
		clusters[pos].MemberIDs = append(clusters[pos].MemberIDs, a.ID)
		clusters[pos].Size++
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].Size != clusters[j].Size {
			return clusters[i].Size > clusters[j].Size
		}
		return clusters[i].MemberIDs[0] < clusters[j].MemberIDs[0]
	})
	return clusters
}
