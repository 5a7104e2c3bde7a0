package article

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Stats summarises publication volume across the corpus.
type Stats struct {
	TotalArticles  int            `json:"total_articles"`
	Earliest       string         `json:"earliest,omitempty"`
	Latest         string         `json:"latest,omitempty"`
	Days           int            `json:"days"`
	ArticlesPerDay map[string]int `json:"articles_per_day"`
	AveragePerDay  float64        `json:"average_per_day"`
	MaxPerDay      int            `json:"max_per_day"`
	MinPerDay      int            `json:"min_per_day"`
}

// ComputeStats builds daily publication statistics.
func ComputeStats(articles []Article) Stats {
	stats := Stats{
		TotalArticles:  len(articles),
		ArticlesPerDay: make(map[string]int),
	}
	for _, a := range articles {
		stats.ArticlesPerDay[a.PublishedDay()]++
	}
	stats.Days = len(stats.ArticlesPerDay)
	if stats.Days == 0 {
		return stats
	}

	days := stats.sortedDays()
	stats.Earliest, stats.Latest = days[0], days[len(days)-1]
	stats.MinPerDay = stats.ArticlesPerDay[days[0]]
	for _, day := range days {
		n := stats.ArticlesPerDay[day]
		if n > stats.MaxPerDay {
			stats.MaxPerDay = n
		}
		if n < stats.MinPerDay {
			stats.MinPerDay = n
		}
	}
	stats.AveragePerDay = float64(len(articles)) / float64(stats.Days)
	return stats
}

// WriteDailyCSV writes one "Date,Article Count" row per day, oldest first.
func (s Stats) WriteDailyCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Date", "Article Count"}); err != nil {
		return fmt.Errorf("write daily header: %w", err)
	}
	for _, day := range s.sortedDays() {
		if err := cw.Write([]string{day, strconv.Itoa(s.ArticlesPerDay[day])}); err != nil {
			return fmt.Errorf("write daily row %s: %w", day, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush daily csv: %w", err)
	}
	return nil
}

func (s Stats) sortedDays() []string {
	days := make([]string, 0, len(s.ArticlesPerDay))
	for day := range s.ArticlesPerDay {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}
