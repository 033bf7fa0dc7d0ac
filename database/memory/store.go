// Package memory is an in-process backend with the same observable behaviour
// as the gorm repositories. It backs STORAGE_BACKEND=memory and the tests.
package memory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"vesta-pipeline/database"
	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/handlers"
)

const dateKeyLayout = "2006-01-02"

func dateKey(t time.Time) string {
	return t.UTC().Format(dateKeyLayout)
}

type unitDateKey struct {
	unitID int64
	date   string
}

type segmentKey struct {
	date, segmentType, segmentValue string
}

type monthSegmentKey struct {
	month    string
	zipCode  string
	bedrooms int
}

// Store keeps every table in maps guarded by one mutex
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

type state struct {
	seq int64

	events        map[int64]models.WebhookEvent
	units         map[int64]models.Unit
	prospects     map[int64]models.Prospect
	leasingEvents map[int64]models.LeasingEvent
	leases        map[int64]models.Lease

	snapshots    map[unitDateKey]models.DailyUnitSnapshot
	dailyStats   map[string]models.DailyMarketStats
	dailyLeasing map[unitDateKey]models.DailyLeasingSummary
	weekly       map[unitDateKey]models.WeeklyLeasingSummary
	monthly      map[string]models.MonthlyMarketReport
	segments     map[segmentKey]models.DailySegmentStats
	priceDrops   map[unitDateKey]models.PriceDrop
	syncLogs     map[int64]models.APISyncLog

	cycles          map[int64]models.ListingCycle
	monthlySegments map[monthSegmentKey]models.MonthlySegmentStats
}

// New creates an empty store
func New() *Store {
	return &Store{
		now: func() time.Time { return time.Now().UTC() },
		st: &state{
			events:        make(map[int64]models.WebhookEvent),
			units:         make(map[int64]models.Unit),
			prospects:     make(map[int64]models.Prospect),
			leasingEvents: make(map[int64]models.LeasingEvent),
			leases:        make(map[int64]models.Lease),
			snapshots:     make(map[unitDateKey]models.DailyUnitSnapshot),
			dailyStats:    make(map[string]models.DailyMarketStats),
			dailyLeasing:  make(map[unitDateKey]models.DailyLeasingSummary),
			weekly:        make(map[unitDateKey]models.WeeklyLeasingSummary),
			monthly:       make(map[string]models.MonthlyMarketReport),
			segments:      make(map[segmentKey]models.DailySegmentStats),
			priceDrops:    make(map[unitDateKey]models.PriceDrop),
			syncLogs:      make(map[int64]models.APISyncLog),

			cycles:          make(map[int64]models.ListingCycle),
			monthlySegments: make(map[monthSegmentKey]models.MonthlySegmentStats),
		},
	}
}

// SetClock replaces the time source used for received_at, claims and audit columns
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (st *state) nextID() int64 {
	st.seq++
	return st.seq
}

// entityBackup holds what a handler may touch inside Commit
type entityBackup struct {
	seq           int64
	units         map[int64]models.Unit
	prospects     map[int64]models.Prospect
	leasingEvents map[int64]models.LeasingEvent
}

func (st *state) backupEntities() entityBackup {
	return entityBackup{
		seq:           st.seq,
		units:         maps.Clone(st.units),
		prospects:     maps.Clone(st.prospects),
		leasingEvents: maps.Clone(st.leasingEvents),
	}
}

func (st *state) restoreEntities(b entityBackup) {
	st.seq = b.seq
	st.units = b.units
	st.prospects = b.prospects
	st.leasingEvents = b.leasingEvents
}

// Ping always succeeds
func (s *Store) Ping() error {
	return nil
}

// Persist appends a webhook event and returns its id
func (s *Store) Persist(ctx context.Context, ev *models.WebhookEvent) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, database.WrapDBError("Persist", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = s.st.nextID()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now()
	}
	ev.Processed = false
	ev.ProcessedAt = nil
	ev.ProcessingError = ""
	ev.Attempts = 0
	ev.ClaimToken = nil
	ev.ClaimedAt = nil
	s.st.events[ev.ID] = *ev
	return ev.ID, nil
}

func claimable(ev models.WebhookEvent, staleBefore time.Time) bool {
	return ev.ClaimToken == nil || (ev.ClaimedAt != nil && ev.ClaimedAt.Before(staleBefore))
}

func sortEvents(events []models.WebhookEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].ReceivedAt.Equal(events[j].ReceivedAt) {
			return events[i].ReceivedAt.Before(events[j].ReceivedAt)
		}
		return events[i].ID < events[j].ID
	})
}

// Pending returns never-attempted, unclaimed events, oldest first
func (s *Store) Pending(ctx context.Context, limit int, olderThan, staleBefore time.Time) ([]models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.WebhookEvent
	for _, ev := range s.st.events {
		if ev.Processed || ev.ProcessingError != "" || !claimable(ev, staleBefore) {
			continue
		}
		if !olderThan.IsZero() && ev.ReceivedAt.After(olderThan) {
			continue
		}
		out = append(out, ev)
	}
	sortEvents(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Failed returns unprocessed events carrying an error, oldest first.
// Empty source or table match everything.
func (s *Store) Failed(ctx context.Context, source, table string, limit int) ([]models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.WebhookEvent
	for _, ev := range s.st.events {
		if ev.Processed || ev.ProcessingError == "" {
			continue
		}
		if source != "" && ev.Source != source {
			continue
		}
		if table != "" && ev.Table != table {
			continue
		}
		out = append(out, ev)
	}
	sortEvents(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns one event
func (s *Store) Get(ctx context.Context, id int64) (*models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.st.events[id]
	if !ok {
		return nil, database.NewNotFoundErrorWithID("webhook event", id)
	}
	return &ev, nil
}

// Events returns every event ordered by id
func (s *Store) Events() []models.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.WebhookEvent, 0, len(s.st.events))
	for _, ev := range s.st.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Claim takes an event for processing if nobody holds a live claim on it
func (s *Store) Claim(ctx context.Context, id int64, token string, staleBefore time.Time, includeProcessed bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.st.events[id]
	if !ok {
		return false, database.NewNotFoundErrorWithID("webhook event", id)
	}
	if !claimable(ev, staleBefore) || (!includeProcessed && ev.Processed) {
		return false, nil
	}
	now := s.now()
	ev.ClaimToken = &token
	ev.ClaimedAt = &now
	s.st.events[id] = ev
	return true, nil
}

func (s *Store) claimed(id int64, token string) (models.WebhookEvent, error) {
	ev, ok := s.st.events[id]
	if !ok {
		return ev, database.NewNotFoundErrorWithID("webhook event", id)
	}
	if ev.ClaimToken == nil || *ev.ClaimToken != token {
		return ev, database.ErrClaimLost
	}
	return ev, nil
}

// Commit applies fn and marks the event processed atomically. Entity changes
// made by fn are rolled back when it fails.
func (s *Store) Commit(ctx context.Context, id int64, token string, fn func(handlers.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.claimed(id, token)
	if err != nil {
		return err
	}

	backup := s.st.backupEntities()
	if err := fn(&view{st: s.st, now: s.now}); err != nil {
		s.st.restoreEntities(backup)
		return err
	}

	now := s.now()
	ev.Processed = true
	ev.ProcessedAt = &now
	ev.ProcessingError = ""
	ev.ClaimToken = nil
	ev.ClaimedAt = nil
	s.st.events[id] = ev
	return nil
}

// Skip marks an event processed without applying anything
func (s *Store) Skip(ctx context.Context, id int64, token, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.claimed(id, token)
	if err != nil {
		return err
	}
	now := s.now()
	ev.Processed = true
	ev.ProcessedAt = &now
	ev.ProcessingError = note
	ev.ClaimToken = nil
	ev.ClaimedAt = nil
	s.st.events[id] = ev
	return nil
}

// Fail records a handler error and releases the claim
func (s *Store) Fail(ctx context.Context, id int64, token, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.claimed(id, token)
	if err != nil {
		return err
	}
	if strings.TrimSpace(message) == "" {
		message = "handler failed"
	}
	ev.Processed = false
	ev.ProcessingError = message
	ev.Attempts++
	ev.ClaimToken = nil
	ev.ClaimedAt = nil
	s.st.events[id] = ev
	return nil
}
