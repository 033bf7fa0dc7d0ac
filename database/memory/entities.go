package memory

import (
	"context"
	"sort"
	"time"

	"vesta-pipeline/database"
	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/handlers"
)

// view implements handlers.Store on unlocked state. Callers hold Store.mu.
type view struct {
	st  *state
	now func() time.Time
}

var _ handlers.Store = (*view)(nil)

func (v *view) FindUnit(ctx context.Context, source, externalID string) (*models.Unit, error) {
	if _, ok := models.UnitColumn(source); !ok {
		return nil, database.NewValidationErrorWithValue("source", "source does not identify units", source)
	}
	for _, u := range v.st.units {
		if u.ExternalID(source) == externalID {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

func (v *view) EnsureUnit(ctx context.Context, source, externalID string) (*models.Unit, error) {
	u, err := v.FindUnit(ctx, source, externalID)
	if err != nil || u != nil {
		return u, err
	}
	u = &models.Unit{Placeholder: true}
	u.SetExternalID(source, externalID)
	if err := v.SaveUnit(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (v *view) SaveUnit(ctx context.Context, u *models.Unit) error {
	now := v.now()
	if u.ID == 0 {
		u.ID = v.st.nextID()
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	v.st.units[u.ID] = *u
	return nil
}

func (v *view) FindProspect(ctx context.Context, rentengineID string) (*models.Prospect, error) {
	for _, p := range v.st.prospects {
		if p.RentEngineID == rentengineID {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (v *view) EnsureProspect(ctx context.Context, rentengineID string) (*models.Prospect, error) {
	p, err := v.FindProspect(ctx, rentengineID)
	if err != nil || p != nil {
		return p, err
	}
	p = &models.Prospect{RentEngineID: rentengineID, Placeholder: true}
	if err := v.SaveProspect(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (v *view) SaveProspect(ctx context.Context, p *models.Prospect) error {
	now := v.now()
	if p.ID == 0 {
		p.ID = v.st.nextID()
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	v.st.prospects[p.ID] = *p
	return nil
}

func (v *view) FindLeasingEvent(ctx context.Context, rentengineID string) (*models.LeasingEvent, error) {
	for _, e := range v.st.leasingEvents {
		if e.RentEngineID == rentengineID {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (v *view) SaveLeasingEvent(ctx context.Context, e *models.LeasingEvent) error {
	now := v.now()
	if e.ID == 0 {
		e.ID = v.st.nextID()
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	v.st.leasingEvents[e.ID] = *e
	return nil
}

// Store also satisfies handlers.Store outside a Commit, one locked call at a time.

func (s *Store) locked() (*view, func()) {
	s.mu.Lock()
	return &view{st: s.st, now: s.now}, s.mu.Unlock
}

// FindUnit implements handlers.Store
func (s *Store) FindUnit(ctx context.Context, source, externalID string) (*models.Unit, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.FindUnit(ctx, source, externalID)
}

// EnsureUnit implements handlers.Store
func (s *Store) EnsureUnit(ctx context.Context, source, externalID string) (*models.Unit, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.EnsureUnit(ctx, source, externalID)
}

// SaveUnit implements handlers.Store
func (s *Store) SaveUnit(ctx context.Context, u *models.Unit) error {
	v, unlock := s.locked()
	defer unlock()
	return v.SaveUnit(ctx, u)
}

// FindProspect implements handlers.Store
func (s *Store) FindProspect(ctx context.Context, rentengineID string) (*models.Prospect, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.FindProspect(ctx, rentengineID)
}

// EnsureProspect implements handlers.Store
func (s *Store) EnsureProspect(ctx context.Context, rentengineID string) (*models.Prospect, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.EnsureProspect(ctx, rentengineID)
}

// SaveProspect implements handlers.Store
func (s *Store) SaveProspect(ctx context.Context, p *models.Prospect) error {
	v, unlock := s.locked()
	defer unlock()
	return v.SaveProspect(ctx, p)
}

// FindLeasingEvent implements handlers.Store
func (s *Store) FindLeasingEvent(ctx context.Context, rentengineID string) (*models.LeasingEvent, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.FindLeasingEvent(ctx, rentengineID)
}

// SaveLeasingEvent implements handlers.Store
func (s *Store) SaveLeasingEvent(ctx context.Context, e *models.LeasingEvent) error {
	v, unlock := s.locked()
	defer unlock()
	return v.SaveLeasingEvent(ctx, e)
}

// Units returns every unit ordered by id
func (s *Store) Units() []models.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Unit, 0, len(s.st.units))
	for _, u := range s.st.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Prospects returns every prospect ordered by id
func (s *Store) Prospects() []models.Prospect {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Prospect, 0, len(s.st.prospects))
	for _, p := range s.st.prospects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LeasingEvents returns every leasing event ordered by id
func (s *Store) LeasingEvents() []models.LeasingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.LeasingEvent, 0, len(s.st.leasingEvents))
	for _, e := range s.st.leasingEvents {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddLease seeds read-only lease reference data
func (s *Store) AddLease(l models.Lease) models.Lease {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == 0 {
		l.ID = s.st.nextID()
	}
	s.st.leases[l.ID] = l
	return l
}
