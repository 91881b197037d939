package timesheet

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hourline/internal/domain"
)

// DefaultTasks is the task vocabulary used when none is configured.
var DefaultTasks = []string{"Development", "Design", "Review", "Meeting", "Planning", "Testing"}

var (
	maxHours  = decimal.NewFromInt(24)
	clockTime = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

// EntryPatch carries the fields upsertEntry merges. Nil fields are left alone.
type EntryPatch struct {
	Hours     *decimal.Decimal
	Task      *string
	Notes     *string
	StartTime *string
	EndTime   *string
}

// Filter narrows ListEntries. Zero values match everything.
type Filter struct {
	ContributorID string
	Range         domain.DateRange
	Status        domain.Status
	Task          string
}

func (f Filter) match(e domain.TimeEntry) bool {
	if f.ContributorID != "" && e.ContributorID != f.ContributorID {
		return false
	}
	if !f.Range.IsZero() && !f.Range.Contains(e.Date) {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Task != "" && e.Task != f.Task {
		return false
	}
	return true
}

// Store is the authoritative in-memory collection of time entries, keyed by
// (contributor, date), together with the contributors they belong to.
type Store struct {
	mu           sync.RWMutex
	entries      map[domain.Key]domain.TimeEntry
	byID         map[string]domain.Key
	contributors map[string]domain.Contributor
	tasks        map[string]bool
	taskOrder    []string
	now          func() time.Time
	newID        func() string
}

type Option func(*Store)

// WithTasks replaces the task vocabulary.
func WithTasks(tasks []string) Option {
	return func(s *Store) {
		if len(tasks) == 0 {
			return
		}
		s.tasks = map[string]bool{}
		s.taskOrder = nil
		for _, t := range tasks {
			t = strings.TrimSpace(t)
			if t == "" || s.tasks[t] {
				continue
			}
			s.tasks[t] = true
			s.taskOrder = append(s.taskOrder, t)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:      map[domain.Key]domain.TimeEntry{},
		byID:         map[string]domain.Key{},
		contributors: map[string]domain.Contributor{},
		now:          time.Now,
		newID:        uuid.NewString,
	}
	WithTasks(DefaultTasks)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tasks returns the task vocabulary in configured order.
func (s *Store) Tasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.taskOrder...)
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// AddContributor registers a contributor. An empty ID is generated.
func (s *Store) AddContributor(c domain.Contributor) (domain.Contributor, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return domain.Contributor{}, domain.ValidationError{Field: "name", Reason: "name is required"}
	}
	if c.HourlyRate.IsNegative() {
		return domain.Contributor{}, domain.ValidationError{Field: "hourly_rate", Reason: "rate must not be negative"}
	}
	for _, rc := range c.Rates {
		if rc.Rate.IsNegative() {
			return domain.Contributor{}, domain.ValidationError{Field: "rates", Reason: "rate must not be negative"}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = s.newID()
	}
	if _, ok := s.contributors[c.ID]; ok {
		return domain.Contributor{}, domain.ValidationError{Field: "id", Reason: fmt.Sprintf("contributor %s already registered", c.ID)}
	}
	if c.CreatedAt == "" {
		c.CreatedAt = s.stamp()
	}
	c.Rates = append([]domain.RateChange(nil), c.Rates...)
	domain.SortRates(c.Rates)
	s.contributors[c.ID] = c
	return cloneContributor(c), nil
}

// SetRate records a rate change effective from the given day. A change on the
// same day replaces the earlier one.
func (s *Store) SetRate(contributorID string, from domain.Date, rate decimal.Decimal) (domain.Contributor, error) {
	if rate.IsNegative() {
		return domain.Contributor{}, domain.ValidationError{Field: "rate", Reason: "rate must not be negative"}
	}
	if from.IsZero() {
		return domain.Contributor{}, domain.ValidationError{Field: "effective_from", Reason: "date is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributors[contributorID]
	if !ok {
		return domain.Contributor{}, domain.NotFoundError{Kind: "contributor", ID: contributorID}
	}
	rates := make([]domain.RateChange, 0, len(c.Rates)+1)
	for _, rc := range c.Rates {
		if rc.EffectiveFrom != from {
			rates = append(rates, rc)
		}
	}
	rates = append(rates, domain.RateChange{EffectiveFrom: from, Rate: rate})
	domain.SortRates(rates)
	c.Rates = rates
	s.contributors[contributorID] = c
	return cloneContributor(c), nil
}

func (s *Store) Contributor(id string) (domain.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contributors[id]
	if !ok {
		return domain.Contributor{}, domain.NotFoundError{Kind: "contributor", ID: id}
	}
	return cloneContributor(c), nil
}

// Contributors lists contributors ordered by name, then ID.
func (s *Store) Contributors() []domain.Contributor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Contributor, 0, len(s.contributors))
	for _, c := range s.contributors {
		out = append(out, cloneContributor(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpsertEntry merges patch into the entry for (contributorID, date), creating
// a draft when absent. The resulting entry is validated as a whole before
// anything is stored. Existing entries can only be edited while in draft.
func (s *Store) UpsertEntry(contributorID string, date domain.Date, patch EntryPatch) (domain.TimeEntry, bool, error) {
	if date.IsZero() {
		return domain.TimeEntry{}, false, domain.ValidationError{Field: "date", Reason: "date is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contributors[contributorID]; !ok {
		return domain.TimeEntry{}, false, domain.NotFoundError{Kind: "contributor", ID: contributorID}
	}
	key := domain.Key{ContributorID: contributorID, Date: date}
	cur, exists := s.entries[key]
	if exists && cur.Status != domain.StatusDraft {
		return domain.TimeEntry{}, false, domain.StateError{Op: "edit", Key: key, Current: cur.Status, Expected: []domain.Status{domain.StatusDraft}}
	}
	next := cur
	if !exists {
		next = domain.TimeEntry{
			ContributorID: contributorID,
			Date:          date,
			Hours:         decimal.Zero,
			Status:        domain.StatusDraft,
		}
	}
	applyPatch(&next, patch)
	if err := s.validateEntry(next); err != nil {
		return domain.TimeEntry{}, false, err
	}
	now := s.stamp()
	if !exists {
		next.ID = s.newID()
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	next.Version++
	s.put(next)
	return next, !exists, nil
}

func applyPatch(e *domain.TimeEntry, p EntryPatch) {
	if p.Hours != nil {
		e.Hours = *p.Hours
	}
	if p.Task != nil {
		e.Task = strings.TrimSpace(*p.Task)
	}
	if p.Notes != nil {
		e.Notes = *p.Notes
	}
	if p.StartTime != nil {
		e.StartTime = strings.TrimSpace(*p.StartTime)
	}
	if p.EndTime != nil {
		e.EndTime = strings.TrimSpace(*p.EndTime)
	}
}

func (s *Store) validateEntry(e domain.TimeEntry) error {
	if e.Hours.IsNegative() || e.Hours.GreaterThan(maxHours) {
		return domain.ValidationError{Field: "hours", Reason: fmt.Sprintf("%s is outside [0, 24]", e.Hours)}
	}
	if e.Task == "" {
		return domain.ValidationError{Field: "task", Reason: "task is required"}
	}
	if !s.tasks[e.Task] {
		return domain.ValidationError{Field: "task", Reason: fmt.Sprintf("unknown task %q", e.Task)}
	}
	for field, v := range map[string]string{"start_time": e.StartTime, "end_time": e.EndTime} {
		if v != "" && !clockTime.MatchString(v) {
			return domain.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not HH:MM", v)}
		}
	}
	return nil
}

func (s *Store) put(e domain.TimeEntry) {
	s.entries[e.Key()] = e
	s.byID[e.ID] = e.Key()
}

// Entry returns the entry for (contributorID, date), if any.
func (s *Store) Entry(contributorID string, date domain.Date) (domain.TimeEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[domain.Key{ContributorID: contributorID, Date: date}]
	return e, ok
}

func (s *Store) EntryByID(id string) (domain.TimeEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[id]
	if !ok {
		return domain.TimeEntry{}, false
	}
	e, ok := s.entries[key]
	return e, ok
}

// ListEntries returns matching entries in chronological order, then by contributor.
func (s *Store) ListEntries(f Filter) []domain.TimeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TimeEntry
	for _, e := range s.entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// CopyEntry duplicates hours, task, notes and times of a day onto another day. The
// copy is always a draft. An existing draft on the target day is overwritten;
// any other target status is a state error.
func (s *Store) CopyEntry(from, to domain.Date, contributorID string) (domain.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srcKey := domain.Key{ContributorID: contributorID, Date: from}
	src, ok := s.entries[srcKey]
	if !ok {
		return domain.TimeEntry{}, domain.NotFoundError{Kind: "entry", ID: srcKey.String()}
	}
	if from == to {
		return domain.TimeEntry{}, domain.ValidationError{Field: "date", Reason: "source and target day are the same"}
	}
	dstKey := domain.Key{ContributorID: contributorID, Date: to}
	now := s.stamp()
	dst, exists := s.entries[dstKey]
	if exists && dst.Status != domain.StatusDraft {
		return domain.TimeEntry{}, domain.StateError{Op: "overwrite", Key: dstKey, Current: dst.Status, Expected: []domain.Status{domain.StatusDraft}}
	}
	if !exists {
		dst = domain.TimeEntry{
			ID:            s.newID(),
			ContributorID: contributorID,
			Date:          to,
			CreatedAt:     now,
		}
	}
	dst.Hours = src.Hours
	dst.Task = src.Task
	dst.Notes = src.Notes
	dst.StartTime = src.StartTime
	dst.EndTime = src.EndTime
	dst.Status = domain.StatusDraft
	dst.UpdatedAt = now
	dst.Version++
	s.put(dst)
	return dst, nil
}

// DeleteEntry removes a draft. Entries that entered the workflow keep their history.
func (s *Store) DeleteEntry(contributorID string, date domain.Date) (domain.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.Key{ContributorID: contributorID, Date: date}
	e, ok := s.entries[key]
	if !ok {
		return domain.TimeEntry{}, domain.NotFoundError{Kind: "entry", ID: key.String()}
	}
	if e.Status != domain.StatusDraft {
		return domain.TimeEntry{}, domain.StateError{Op: "delete", Key: key, Current: e.Status, Expected: []domain.Status{domain.StatusDraft}}
	}
	delete(s.entries, key)
	delete(s.byID, e.ID)
	return e, nil
}

// Snapshot is an immutable copy of the store used for pure derivations.
type Snapshot struct {
	Entries      []domain.TimeEntry
	Contributors map[string]domain.Contributor
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Entries:      make([]domain.TimeEntry, 0, len(s.entries)),
		Contributors: make(map[string]domain.Contributor, len(s.contributors)),
	}
	for _, e := range s.entries {
		snap.Entries = append(snap.Entries, e)
	}
	sortEntries(snap.Entries)
	for id, c := range s.contributors {
		snap.Contributors[id] = cloneContributor(c)
	}
	return snap
}

// Restore replaces the whole store content with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[domain.Key]domain.TimeEntry, len(snap.Entries))
	s.byID = make(map[string]domain.Key, len(snap.Entries))
	s.contributors = make(map[string]domain.Contributor, len(snap.Contributors))
	for _, e := range snap.Entries {
		s.put(e)
	}
	for id, c := range snap.Contributors {
		s.contributors[id] = cloneContributor(c)
	}
}

// RateFor returns the rate applying to e, zero for unknown contributors.
func (snap Snapshot) RateFor(e domain.TimeEntry) decimal.Decimal {
	c, ok := snap.Contributors[e.ContributorID]
	if !ok {
		return decimal.Zero
	}
	return c.RateOn(e.Date)
}

func sortEntries(entries []domain.TimeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Date != entries[j].Date {
			return entries[i].Date < entries[j].Date
		}
		return entries[i].ContributorID < entries[j].ContributorID
	})
}

func cloneContributor(c domain.Contributor) domain.Contributor {
	c.Rates = append([]domain.RateChange(nil), c.Rates...)
	return c
}
