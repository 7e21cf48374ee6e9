package repo

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/Draggon233/gift-song/internal/domain"
)

// DateLayout keys the per-day statistics.
const DateLayout = "2006-01-02"

// Store persists the processed registry, the sent-message log and run
// statistics. The runner is the only writer.
type Store interface {
	Load(ctx context.Context) (State, error)
	Commit(ctx context.Context, c Commit) (Statistics, error)
}

type DailyStats struct {
	Runs      int
	Processed int
	Messages  int
}

type Statistics struct {
	TotalRuns      int
	TotalProcessed int
	TotalMessages  int
	LastRun        time.Time // zero → ещё не запускались
	Daily          map[string]DailyStats
}

// Day returns the stats for t's calendar date.
func (s Statistics) Day(t time.Time) (DailyStats, bool) {
	d, ok := s.Daily[t.Format(DateLayout)]
	return d, ok
}

type State struct {
	Processed map[int64]struct{}
	Sent      []domain.SentMessageRecord
	Stats     Statistics
}

func (s State) IsProcessed(id int64) bool {
	_, ok := s.Processed[id]
	return ok
}

// Commit is the outcome of one run.
type Commit struct {
	RunAt     time.Time
	Processed []int64
	Sent      []domain.SentMessageRecord
}

func (c Commit) day() string { return c.RunAt.Format(DateLayout) }

// ---- on-disk documents ----

// Timestamp reads RFC 3339 and the naive isoformat() layout older
// deployments wrote, and always writes RFC 3339.
type Timestamp struct{ time.Time }

const isoNaive = "2006-01-02T15:04:05"

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.ParseInLocation(isoNaive, s, time.Local)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

type sentMessageDoc struct {
	PartnerID        int64     `json:"partner_id"`
	PartnerName      string    `json:"partner_name"`
	BirthdayUserID   int64     `json:"birthday_user_id"`
	BirthdayUserName string    `json:"birthday_user_name"`
	SentAt           Timestamp `json:"sent_at"`
	Message          string    `json:"message"`
}

type registryDayDoc struct {
	ProcessedUsers int `json:"processed_users"`
	MessagesSent   int `json:"messages_sent"`
	Runs           int `json:"runs"`
}

// RegistryDoc is the birthday_data.json layout.
type RegistryDoc struct {
	ProcessedUsers []int64                   `json:"processed_users"`
	SentMessages   []sentMessageDoc          `json:"sent_messages"`
	Stats          map[string]registryDayDoc `json:"stats"`
}

type statsDayDoc struct {
	Runs      int `json:"runs"`
	Processed int `json:"processed"`
	Messages  int `json:"messages"`
}

// StatsDoc is the scheduler_stats.json layout.
type StatsDoc struct {
	TotalRuns      int                    `json:"total_runs"`
	TotalProcessed int                    `json:"total_processed"`
	TotalMessages  int                    `json:"total_messages"`
	LastRun        *Timestamp             `json:"last_run"`
	DailyStats     map[string]statsDayDoc `json:"daily_stats"`
}

func newRegistryDoc() *RegistryDoc {
	return &RegistryDoc{
		ProcessedUsers: []int64{},
		SentMessages:   []sentMessageDoc{},
		Stats:          map[string]registryDayDoc{},
	}
}

func newStatsDoc() *StatsDoc {
	return &StatsDoc{DailyStats: map[string]statsDayDoc{}}
}

// apply appends new ids (skipping known ones), new sent records and the
// run's counts for its day.
func (d *RegistryDoc) apply(c Commit) {
	if d.Stats == nil {
		d.Stats = map[string]registryDayDoc{}
	}
	seen := make(map[int64]struct{}, len(d.ProcessedUsers))
	for _, id := range d.ProcessedUsers {
		seen[id] = struct{}{}
	}
	for _, id := range c.Processed {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		d.ProcessedUsers = append(d.ProcessedUsers, id)
	}
	for _, r := range c.Sent {
		d.SentMessages = append(d.SentMessages, sentMessageDoc{
			PartnerID:        r.PartnerID,
			PartnerName:      r.PartnerName,
			BirthdayUserID:   r.BirthdayUserID,
			BirthdayUserName: r.BirthdayUserName,
			SentAt:           Timestamp{r.SentAt},
			Message:          r.MessageText,
		})
	}
	day := d.Stats[c.day()]
	day.ProcessedUsers += len(c.Processed)
	day.MessagesSent += len(c.Sent)
	day.Runs++
	d.Stats[c.day()] = day
}

func (d *StatsDoc) apply(c Commit) {
	if d.DailyStats == nil {
		d.DailyStats = map[string]statsDayDoc{}
	}
	d.TotalRuns++
	d.TotalProcessed += len(c.Processed)
	d.TotalMessages += len(c.Sent)
	d.LastRun = &Timestamp{c.RunAt}

	day := d.DailyStats[c.day()]
	day.Runs++
	day.Processed += len(c.Processed)
	day.Messages += len(c.Sent)
	d.DailyStats[c.day()] = day
}

func (d *StatsDoc) statistics() Statistics {
	s := Statistics{
		TotalRuns:      d.TotalRuns,
		TotalProcessed: d.TotalProcessed,
		TotalMessages:  d.TotalMessages,
		Daily:          make(map[string]DailyStats, len(d.DailyStats)),
	}
	if d.LastRun != nil {
		s.LastRun = d.LastRun.Time
	}
	for k, v := range d.DailyStats {
		s.Daily[k] = DailyStats{Runs: v.Runs, Processed: v.Processed, Messages: v.Messages}
	}
	return s
}

func (d *RegistryDoc) state() State {
	st := State{Processed: make(map[int64]struct{}, len(d.ProcessedUsers))}
	for _, id := range d.ProcessedUsers {
		st.Processed[id] = struct{}{}
	}
	for _, m := range d.SentMessages {
		st.Sent = append(st.Sent, domain.SentMessageRecord{
			PartnerID:        m.PartnerID,
			PartnerName:      m.PartnerName,
			BirthdayUserID:   m.BirthdayUserID,
			BirthdayUserName: m.BirthdayUserName,
			SentAt:           m.SentAt.Time,
			MessageText:      m.Message,
		})
	}
	return st
}

// SortedDays returns the keys of s.Daily, newest first.
func (s Statistics) SortedDays() []string {
	days := make([]string, 0, len(s.Daily))
	for k := range s.Daily {
		days = append(days, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	return days
}
