// Package stats records per-exchange metrics (provider, model, time to
// first token, total duration, outcome) in ~/.xx-chat/stats.json.
package stats

import (
	"cmp"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/config"
	"github.com/arin/xx-chat/internal/session"
)

const (
	fileName   = "stats.json"
	maxRecords = 1000
	// OutcomeOK marks a completed exchange; failures use the chat.Kind.
	OutcomeOK = "ok"
)

// Record is a single exchange.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	TTFTMs     int64     `json:"ttft_ms"`
	DurationMs int64     `json:"duration_ms"`
	Deltas     int       `json:"deltas"`
	Outcome    string    `json:"outcome"`
	Surface    string    `json:"surface,omitempty"` // "chat" or "serve"
}

// Summary is the aggregated stats dashboard.
type Summary struct {
	TotalExchanges    int            `json:"total_exchanges"`
	SuccessRate       float64        `json:"success_rate"`
	AvgTTFTMs         int64          `json:"avg_ttft_ms"`
	AvgDurationMs     int64          `json:"avg_duration_ms"`
	ProviderBreakdown map[string]int `json:"provider_breakdown"`
	OutcomeBreakdown  map[string]int `json:"outcome_breakdown"`
	TopModels         []ModelCount   `json:"top_models"`
	TodayCount        int            `json:"today_count"`
	ThisWeekCount     int            `json:"this_week_count"`
}

// ModelCount pairs a model with its usage count.
type ModelCount struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

var fileMu sync.Mutex

func statsPath() string {
	return filepath.Join(config.Dir(), fileName)
}

// FromMetrics builds a record for an exchange that ended with err (nil on
// success).
func FromMetrics(m session.Metrics, err error, surface string) Record {
	outcome := OutcomeOK
	if err != nil {
		outcome = string(chat.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	return Record{
		Provider:   string(m.Provider),
		Model:      m.Model,
		TTFTMs:     m.TTFT.Milliseconds(),
		DurationMs: m.Duration.Milliseconds(),
		Deltas:     m.Deltas,
		Outcome:    outcome,
		Surface:    surface,
	}
}

// Save appends a new record to the stats file.
func Save(r Record) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	r.Timestamp = time.Now()

	records, _ := loadAll()
	records = append(records, r)
	if len(records) > maxRecords {
		records = records[len(records)-maxRecords:]
	}

	if err := os.MkdirAll(config.Dir(), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(statsPath(), data, 0o600)
}

// Recorder returns a session observer that saves every finished or failed
// exchange. Cancelled submissions are not recorded.
func Recorder(surface string) session.Observer {
	return func(ev session.Event) {
		if ev.Metrics == nil {
			return
		}
		switch ev.Type {
		case session.EventCompleted:
			_ = Save(FromMetrics(*ev.Metrics, nil, surface))
		case session.EventFailed:
			if chat.KindOf(ev.Err) == chat.KindCanceled {
				return
			}
			_ = Save(FromMetrics(*ev.Metrics, ev.Err, surface))
		}
	}
}

// LoadAll returns all stored records.
func LoadAll() ([]Record, error) {
	fileMu.Lock()
	defer fileMu.Unlock()
	return loadAll()
}

func loadAll() ([]Record, error) {
	data, err := os.ReadFile(statsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Summarize computes aggregated stats from all records.
func Summarize() (*Summary, error) {
	records, err := LoadAll()
	if err != nil {
		return nil, err
	}

	s := &Summary{
		TotalExchanges:    len(records),
		ProviderBreakdown: map[string]int{},
		OutcomeBreakdown:  map[string]int{},
	}
	if len(records) == 0 {
		return s, nil
	}

	var totalDuration, totalTTFT int64
	var okCount int
	modelFreq := map[string]int{}
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekAgo := now.AddDate(0, 0, -7)

	for _, r := range records {
		totalDuration += r.DurationMs
		if r.Outcome == OutcomeOK {
			okCount++
			totalTTFT += r.TTFTMs
		}
		if r.Provider != "" {
			s.ProviderBreakdown[r.Provider]++
		}
		s.OutcomeBreakdown[r.Outcome]++
		if r.Model != "" {
			modelFreq[r.Model]++
		}
		if r.Timestamp.After(today) {
			s.TodayCount++
		}
		if r.Timestamp.After(weekAgo) {
			s.ThisWeekCount++
		}
	}

	s.SuccessRate = float64(okCount) / float64(len(records)) * 100
	s.AvgDurationMs = totalDuration / int64(len(records))
	// TTFT only means something for exchanges that produced text.
	if okCount > 0 {
		s.AvgTTFTMs = totalTTFT / int64(okCount)
	}
	s.TopModels = topN(modelFreq, 5)
	return s, nil
}

func topN(freq map[string]int, n int) []ModelCount {
	all := make([]ModelCount, 0, len(freq))
	for m, count := range freq {
		all = append(all, ModelCount{Model: m, Count: count})
	}
	slices.SortFunc(all, func(a, b ModelCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Model, b.Model)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}
