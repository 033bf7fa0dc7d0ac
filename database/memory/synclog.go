package memory

import (
	"context"
	"sort"

	models "vesta-pipeline/database/models_pkg"
)

// CreateLog inserts a sync log row
func (s *Store) CreateLog(ctx context.Context, l *models.APISyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.ID = s.st.nextID()
	s.st.syncLogs[l.ID] = *l
	return nil
}

// SaveLog updates a sync log row
func (s *Store) SaveLog(ctx context.Context, l *models.APISyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.syncLogs[l.ID] = *l
	return nil
}

// SyncLogs returns every sync log ordered by id
func (s *Store) SyncLogs() []models.APISyncLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.APISyncLog, 0, len(s.st.syncLogs))
	for _, l := range s.st.syncLogs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Recent returns the newest sync logs first, optionally for one source
func (s *Store) Recent(ctx context.Context, source string, limit int) ([]models.APISyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.APISyncLog
	for _, l := range s.st.syncLogs {
		if source == "" || l.Source == source {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
