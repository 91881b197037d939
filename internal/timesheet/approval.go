package timesheet

import (
	"strings"

	"hourline/internal/domain"
)

// TransitionOption adds preconditions to a single-entry transition.
type TransitionOption func(*transitionOpts)

type transitionOpts struct {
	version int64
}

// IfVersion fails the transition with a StateError unless the entry is still
// at version v. Zero disables the check.
func IfVersion(v int64) TransitionOption {
	return func(o *transitionOpts) { o.version = v }
}

// ensureTransition encodes the entry lifecycle:
// draft -> submitted -> approved | rejected, and rejected -> draft.
func ensureTransition(op string, e domain.TimeEntry, to domain.Status) error {
	var from domain.Status
	switch to {
	case domain.StatusSubmitted:
		from = domain.StatusDraft
	case domain.StatusApproved, domain.StatusRejected:
		from = domain.StatusSubmitted
	case domain.StatusDraft:
		from = domain.StatusRejected
	}
	if e.Status == from && from != "" {
		return nil
	}
	return domain.StateError{Op: op, Key: e.Key(), Current: e.Status, Expected: []domain.Status{from}}
}

func normalizeReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", domain.ValidationError{Field: "reason", Reason: "a rejection needs a reason"}
	}
	return reason, nil
}

// transition applies fn to the entry at key under the write lock. fn mutates a
// copy; the store only changes when fn succeeds.
func (s *Store) transition(op string, key domain.Key, opts []TransitionOption, fn func(*domain.TimeEntry, string) error) (domain.TimeEntry, error) {
	var o transitionOpts
	for _, opt := range opts {
		opt(&o)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return domain.TimeEntry{}, domain.NotFoundError{Kind: "entry", ID: key.String()}
	}
	if o.version != 0 && o.version != e.Version {
		return domain.TimeEntry{}, domain.StateError{Op: op, Key: key, Current: e.Status, CurrentVersion: e.Version, ExpectedVersion: o.version}
	}
	now := s.stamp()
	if err := fn(&e, now); err != nil {
		return domain.TimeEntry{}, err
	}
	e.UpdatedAt = now
	e.Version++
	s.put(e)
	return e, nil
}

// Submit moves a draft to submitted. Zero-hour entries have nothing to submit.
func (s *Store) Submit(key domain.Key, opts ...TransitionOption) (domain.TimeEntry, error) {
	return s.transition("submit", key, opts, func(e *domain.TimeEntry, now string) error {
		if err := ensureTransition("submit", *e, domain.StatusSubmitted); err != nil {
			return err
		}
		if !e.Counts() {
			return domain.ValidationError{Field: "hours", Reason: "nothing to submit"}
		}
		e.Status = domain.StatusSubmitted
		e.SubmittedAt = now
		return nil
	})
}

// Approve moves a submitted entry to approved and returns the billing line the
// caller may invoice. The reviewer identity is stored verbatim.
func (s *Store) Approve(key domain.Key, reviewerID, note string, opts ...TransitionOption) (domain.TimeEntry, domain.BillingLine, error) {
	var line domain.BillingLine
	e, err := s.transition("approve", key, opts, func(e *domain.TimeEntry, now string) error {
		if err := ensureTransition("approve", *e, domain.StatusApproved); err != nil {
			return err
		}
		approveEntry(e, reviewerID, note, now)
		line = s.billingLine(*e)
		return nil
	})
	return e, line, err
}

// Reject moves a submitted entry to rejected. The reason is validated before
// the status is looked at.
func (s *Store) Reject(key domain.Key, reviewerID, reason string, opts ...TransitionOption) (domain.TimeEntry, domain.ReturnNotice, error) {
	reason, err := normalizeReason(reason)
	if err != nil {
		return domain.TimeEntry{}, domain.ReturnNotice{}, err
	}
	e, err := s.transition("reject", key, opts, func(e *domain.TimeEntry, now string) error {
		if err := ensureTransition("reject", *e, domain.StatusRejected); err != nil {
			return err
		}
		rejectEntry(e, reviewerID, reason, now)
		return nil
	})
	if err != nil {
		return domain.TimeEntry{}, domain.ReturnNotice{}, err
	}
	return e, returnNotice(e), nil
}

// Reopen returns a rejected entry to draft for correction, clearing the reason.
func (s *Store) Reopen(key domain.Key, opts ...TransitionOption) (domain.TimeEntry, error) {
	return s.transition("reopen", key, opts, func(e *domain.TimeEntry, now string) error {
		if err := ensureTransition("reopen", *e, domain.StatusDraft); err != nil {
			return err
		}
		e.Status = domain.StatusDraft
		e.Reason = ""
		e.ReviewerID = ""
		e.ReviewNote = ""
		e.ReviewedAt = ""
		e.SubmittedAt = ""
		return nil
	})
}

func approveEntry(e *domain.TimeEntry, reviewerID, note, now string) {
	e.Status = domain.StatusApproved
	e.ReviewerID = reviewerID
	e.ReviewNote = note
	e.ReviewedAt = now
}

func rejectEntry(e *domain.TimeEntry, reviewerID, reason, now string) {
	e.Status = domain.StatusRejected
	e.Reason = reason
	e.ReviewerID = reviewerID
	e.ReviewedAt = now
}

// billingLine must be called with the lock held.
func (s *Store) billingLine(e domain.TimeEntry) domain.BillingLine {
	rate := s.contributors[e.ContributorID].RateOn(e.Date)
	return domain.BillingLine{
		EntryID:       e.ID,
		ContributorID: e.ContributorID,
		Date:          e.Date,
		Hours:         e.Hours,
		Rate:          rate,
		Amount:        e.Hours.Mul(rate),
	}
}

func returnNotice(e domain.TimeEntry) domain.ReturnNotice {
	return domain.ReturnNotice{
		EntryID:       e.ID,
		ContributorID: e.ContributorID,
		Date:          e.Date,
		Reason:        e.Reason,
	}
}

// ApproveBatch approves every submitted entry among keys and skips the rest.
func (s *Store) ApproveBatch(keys []domain.Key, reviewerID, note string) (domain.BatchResult, error) {
	return s.batch(keys, domain.StatusApproved, func(e *domain.TimeEntry, now string, res *domain.BatchResult) {
		approveEntry(e, reviewerID, note, now)
		res.Billing = append(res.Billing, s.billingLine(*e))
	})
}

// RejectBatch rejects every submitted entry among keys with one shared reason.
// The reason is validated once, before any entry is touched.
func (s *Store) RejectBatch(keys []domain.Key, reviewerID, reason string) (domain.BatchResult, error) {
	reason, err := normalizeReason(reason)
	if err != nil {
		return domain.BatchResult{}, err
	}
	return s.batch(keys, domain.StatusRejected, func(e *domain.TimeEntry, now string, res *domain.BatchResult) {
		rejectEntry(e, reviewerID, reason, now)
		res.Returns = append(res.Returns, returnNotice(*e))
	})
}

// batch resolves every key first so an unknown key fails the whole batch
// untouched. Once resolved, only submitted entries are transitioned, which
// cannot fail, so no partial batch is ever stored.
func (s *Store) batch(keys []domain.Key, to domain.Status, apply func(*domain.TimeEntry, string, *domain.BatchResult)) (domain.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[domain.Key]bool, len(keys))
	resolved := make([]domain.TimeEntry, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		e, ok := s.entries[k]
		if !ok {
			return domain.BatchResult{}, domain.NotFoundError{Kind: "entry", ID: k.String()}
		}
		resolved = append(resolved, e)
	}
	sortEntries(resolved)
	now := s.stamp()
	var res domain.BatchResult
	for _, e := range resolved {
		if ensureTransition(string(to), e, to) != nil {
			res.Skipped++
			res.SkippedKeys = append(res.SkippedKeys, e.Key())
			continue
		}
		apply(&e, now, &res)
		e.UpdatedAt = now
		e.Version++
		s.put(e)
		res.Transitioned++
		res.Entries = append(res.Entries, e)
	}
	return res, nil
}
