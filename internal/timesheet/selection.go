package timesheet

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"hourline/internal/domain"
)

type SelectionMode string

const (
	// SelectContributors selects every entry of the chosen contributors within a range.
	SelectContributors SelectionMode = "contributors"
	// SelectEntries selects individual entries by ID.
	SelectEntries SelectionMode = "entries"
)

func ParseSelectionMode(s string) (SelectionMode, error) {
	switch SelectionMode(s) {
	case SelectContributors, SelectEntries:
		return SelectionMode(s), nil
	case "":
		return SelectContributors, nil
	}
	return "", domain.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown selection mode %q", s)}
}

// Batcher commits bulk transitions. Store implements it, and so can any layer
// that persists what the store does.
type Batcher interface {
	Source
	ApproveBatch(keys []domain.Key, reviewerID, note string) (domain.BatchResult, error)
	RejectBatch(keys []domain.Key, reviewerID, reason string) (domain.BatchResult, error)
}

// Selection is the working set a reviewer builds before a bulk action.
// It belongs to one session and is not safe for concurrent use.
type Selection struct {
	mode SelectionMode
	rng  domain.DateRange
	ids  map[string]bool
}

// NewSelection starts an empty selection. A zero range in contributor mode
// covers all dates.
func NewSelection(mode SelectionMode, r domain.DateRange) *Selection {
	if mode == "" {
		mode = SelectContributors
	}
	return &Selection{mode: mode, rng: r, ids: map[string]bool{}}
}

func (s *Selection) Mode() SelectionMode     { return s.mode }
func (s *Selection) Range() domain.DateRange { return s.rng }

func (s *Selection) Select(id string)   { s.ids[id] = true }
func (s *Selection) Deselect(id string) { delete(s.ids, id) }

// Toggle flips membership of id and reports whether it is now selected.
func (s *Selection) Toggle(id string) bool {
	if s.ids[id] {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = true
	return true
}

func (s *Selection) Clear()             { s.ids = map[string]bool{} }
func (s *Selection) Has(id string) bool { return s.ids[id] }
func (s *Selection) Len() int           { return len(s.ids) }

func (s *Selection) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Entries returns the counting entries the selection implies. In entry mode an
// ID that no longer exists is a NotFoundError.
func (s *Selection) Entries(snap Snapshot) ([]domain.TimeEntry, error) {
	var out []domain.TimeEntry
	switch s.mode {
	case SelectEntries:
		found := map[string]bool{}
		for _, e := range snap.Entries {
			if s.ids[e.ID] {
				found[e.ID] = true
				if e.Counts() {
					out = append(out, e)
				}
			}
		}
		for _, id := range s.IDs() {
			if !found[id] {
				return nil, domain.NotFoundError{Kind: "entry", ID: id}
			}
		}
	default:
		for _, e := range snap.Entries {
			if !s.ids[e.ContributorID] || !e.Counts() {
				continue
			}
			if !s.rng.IsZero() && !s.rng.Contains(e.Date) {
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// Preview totals the implied entries without changing anything. The amount is
// left nil unless showRates is set.
func (s *Selection) Preview(snap Snapshot, showRates bool) (domain.BatchSelection, error) {
	entries, err := s.Entries(snap)
	if err != nil {
		return domain.BatchSelection{}, err
	}
	sel := domain.BatchSelection{TotalHours: decimal.Zero, EntryCount: len(entries)}
	amount := decimal.Zero
	people := map[string]bool{}
	for _, e := range entries {
		sel.TotalHours = sel.TotalHours.Add(e.Hours)
		amount = amount.Add(e.Hours.Mul(snap.RateFor(e)))
		if e.Status == domain.StatusSubmitted {
			sel.SubmittedCount++
		}
		people[e.ContributorID] = true
	}
	sel.ContributorCount = len(people)
	if showRates {
		sel.TotalAmount = &amount
	}
	return sel, nil
}

func (s *Selection) keys(snap Snapshot) ([]domain.Key, error) {
	entries, err := s.Entries(snap)
	if err != nil {
		return nil, err
	}
	keys := make([]domain.Key, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key())
	}
	return keys, nil
}

// ApproveSelected approves the submitted entries of the selection and clears it.
func (s *Selection) ApproveSelected(b Batcher, reviewerID, note string) (domain.BatchResult, error) {
	keys, err := s.keys(b.Snapshot())
	if err != nil {
		return domain.BatchResult{}, err
	}
	res, err := b.ApproveBatch(keys, reviewerID, note)
	if err != nil {
		return domain.BatchResult{}, err
	}
	s.Clear()
	return res, nil
}

// RejectSelected rejects the submitted entries of the selection and clears it.
// The reason is checked before the selection is resolved.
func (s *Selection) RejectSelected(b Batcher, reviewerID, reason string) (domain.BatchResult, error) {
	if _, err := normalizeReason(reason); err != nil {
		return domain.BatchResult{}, err
	}
	keys, err := s.keys(b.Snapshot())
	if err != nil {
		return domain.BatchResult{}, err
	}
	res, err := b.RejectBatch(keys, reviewerID, reason)
	if err != nil {
		return domain.BatchResult{}, err
	}
	s.Clear()
	return res, nil
}
