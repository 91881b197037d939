package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hourline/internal/config"
	"hourline/internal/domain"
	"hourline/internal/engine/auth"
	"hourline/internal/events"
	"hourline/internal/repo"
	"hourline/internal/timesheet"
)

// Engine wraps the in-memory timesheet core with SQLite persistence. Every
// mutation runs the core operation, then writes the result and one audit event
// in a single transaction; if anything fails the core is restored, so callers
// never observe a change that was not stored.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Auth     auth.Service
	Config   *config.Config
	Store    *timesheet.Store
	Now      func() time.Time
	Observer UseCaseObserver

	mu *sync.RWMutex
}

type Option func(*Engine)

// WithClock fixes the time source for the engine, its store and its events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.Now = now }
}

func WithObserver(o UseCaseObserver) Option {
	return func(e *Engine) { e.Observer = o }
}

func New(db *sql.DB, cfg *config.Config, opts ...Option) Engine {
	if cfg == nil {
		cfg = config.Default("default")
	}
	e := Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Config:   cfg,
		Now:      time.Now,
		Observer: NoopUseCaseObserver{},
		mu:       &sync.RWMutex{},
	}
	for _, opt := range opts {
		opt(&e)
	}
	e.Events = events.Writer{DB: db, Now: e.Now}
	e.Auth = auth.Service{DB: db, Config: cfg}
	e.Store = timesheet.NewStore(
		timesheet.WithTasks(cfg.Timesheet.Tasks),
		timesheet.WithClock(e.Now),
	)
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Load replaces the in-memory state with what the database holds.
func (e Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	contributors, err := e.Repo.ListContributors(ctx)
	if err != nil {
		return fmt.Errorf("load contributors: %w", err)
	}
	entries, err := e.Repo.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	snap := timesheet.Snapshot{Entries: entries, Contributors: make(map[string]domain.Contributor, len(contributors))}
	for _, c := range contributors {
		snap.Contributors[c.ID] = c
	}
	e.Store.Restore(snap)
	return nil
}

func (e Engine) observe(ctx context.Context, name string, start time.Time, fields map[string]any, err error) {
	if e.Observer == nil {
		return
	}
	e.Observer.ObserveUseCase(ctx, UseCaseEvent{
		Name:     name,
		Duration: time.Since(start),
		Success:  err == nil,
		Err:      err,
		Fields:   fields,
	})
}

// mutate serializes writers and makes fn all-or-nothing across store and database.
func (e Engine) mutate(ctx context.Context, name string, fields map[string]any, fn func(tx *sql.Tx) error) (err error) {
	start := time.Now()
	defer func() { e.observe(ctx, name, start, fields, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.Store.Snapshot()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	defer tx.Rollback()
	if err = fn(tx); err != nil {
		e.Store.Restore(snap)
		return err
	}
	if err = tx.Commit(); err != nil {
		e.Store.Restore(snap)
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

func (e Engine) read() func() {
	e.mu.RLock()
	return e.mu.RUnlock
}

// Contributors

func (e Engine) AddContributor(ctx context.Context, actorID string, c domain.Contributor) (domain.Contributor, error) {
	var created domain.Contributor
	err := e.mutate(ctx, "add_contributor", map[string]any{"name": c.Name}, func(tx *sql.Tx) error {
		var err error
		created, err = e.Store.AddContributor(c)
		if err != nil {
			return err
		}
		if err := e.Repo.InsertContributor(ctx, tx, created); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ContributorCreated, "contributor", created.ID, actorID, events.EventPayload{
			"name": created.Name, "role": created.Role,
		})
	})
	return created, err
}

func (e Engine) SetRate(ctx context.Context, actorID, contributorID string, from domain.Date, rate decimal.Decimal) (domain.Contributor, error) {
	var updated domain.Contributor
	err := e.mutate(ctx, "set_rate", map[string]any{"contributor_id": contributorID, "effective_from": from}, func(tx *sql.Tx) error {
		var err error
		updated, err = e.Store.SetRate(contributorID, from, rate)
		if err != nil {
			return err
		}
		if err := e.Repo.UpsertRate(ctx, tx, contributorID, domain.RateChange{EffectiveFrom: from, Rate: rate}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ContributorRateChanged, "contributor", contributorID, actorID, events.EventPayload{
			"effective_from": from, "rate": rate.String(),
		})
	})
	return updated, err
}

func (e Engine) Contributor(id string) (domain.Contributor, error) {
	defer e.read()()
	return e.Store.Contributor(id)
}

func (e Engine) Contributors() []domain.Contributor {
	defer e.read()()
	return e.Store.Contributors()
}

// Entries

func entryPayload(en domain.TimeEntry) events.EventPayload {
	return events.EventPayload{
		"contributor_id": en.ContributorID,
		"date":           en.Date,
		"hours":          en.Hours.String(),
		"task":           en.Task,
		"status":         en.Status,
		"version":        en.Version,
	}
}

func (e Engine) UpsertEntry(ctx context.Context, actorID, contributorID string, date domain.Date, patch timesheet.EntryPatch) (domain.TimeEntry, bool, error) {
	var (
		entry   domain.TimeEntry
		created bool
	)
	err := e.mutate(ctx, "upsert_entry", map[string]any{"contributor_id": contributorID, "date": date}, func(tx *sql.Tx) error {
		var err error
		entry, created, err = e.Store.UpsertEntry(contributorID, date, patch)
		if err != nil {
			return err
		}
		if err := e.Repo.SaveEntry(ctx, tx, entry); err != nil {
			return err
		}
		payload := entryPayload(entry)
		payload["created"] = created
		return e.Events.Append(ctx, tx, events.EntryUpserted, "entry", entry.ID, actorID, payload)
	})
	return entry, created, err
}

// Entry returns the entry for (contributorID, date) or a NotFoundError.
func (e Engine) Entry(contributorID string, date domain.Date) (domain.TimeEntry, error) {
	defer e.read()()
	en, ok := e.Store.Entry(contributorID, date)
	if !ok {
		return domain.TimeEntry{}, domain.NotFoundError{Kind: "entry", ID: domain.Key{ContributorID: contributorID, Date: date}.String()}
	}
	return en, nil
}

func (e Engine) EntryByID(id string) (domain.TimeEntry, error) {
	defer e.read()()
	en, ok := e.Store.EntryByID(id)
	if !ok {
		return domain.TimeEntry{}, domain.NotFoundError{Kind: "entry", ID: id}
	}
	return en, nil
}

func (e Engine) ListEntries(f timesheet.Filter) []domain.TimeEntry {
	defer e.read()()
	return e.Store.ListEntries(f)
}

func (e Engine) CopyEntry(ctx context.Context, actorID, contributorID string, from, to domain.Date) (domain.TimeEntry, error) {
	var entry domain.TimeEntry
	err := e.mutate(ctx, "copy_entry", map[string]any{"contributor_id": contributorID, "from": from, "to": to}, func(tx *sql.Tx) error {
		var err error
		entry, err = e.Store.CopyEntry(from, to, contributorID)
		if err != nil {
			return err
		}
		if err := e.Repo.SaveEntry(ctx, tx, entry); err != nil {
			return err
		}
		payload := entryPayload(entry)
		payload["from"] = from
		return e.Events.Append(ctx, tx, events.EntryCopied, "entry", entry.ID, actorID, payload)
	})
	return entry, err
}

func (e Engine) DeleteEntry(ctx context.Context, actorID, contributorID string, date domain.Date) (domain.TimeEntry, error) {
	var entry domain.TimeEntry
	err := e.mutate(ctx, "delete_entry", map[string]any{"contributor_id": contributorID, "date": date}, func(tx *sql.Tx) error {
		var err error
		entry, err = e.Store.DeleteEntry(contributorID, date)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteEntry(ctx, tx, entry.ID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.EntryDeleted, "entry", entry.ID, actorID, entryPayload(entry))
	})
	return entry, err
}

// Transitions

func (e Engine) transition(ctx context.Context, name, evtType, actorID string, key domain.Key, apply func() (domain.TimeEntry, events.EventPayload, error)) (domain.TimeEntry, error) {
	var entry domain.TimeEntry
	err := e.mutate(ctx, name, map[string]any{"key": key.String(), "actor_id": actorID}, func(tx *sql.Tx) error {
		var (
			extra events.EventPayload
			err   error
		)
		entry, extra, err = apply()
		if err != nil {
			return err
		}
		if err := e.Repo.SaveEntry(ctx, tx, entry); err != nil {
			return err
		}
		payload := entryPayload(entry)
		for k, v := range extra {
			payload[k] = v
		}
		return e.Events.Append(ctx, tx, evtType, "entry", entry.ID, actorID, payload)
	})
	return entry, err
}

func (e Engine) Submit(ctx context.Context, actorID string, key domain.Key, opts ...timesheet.TransitionOption) (domain.TimeEntry, error) {
	return e.transition(ctx, "submit", events.EntrySubmitted, actorID, key, func() (domain.TimeEntry, events.EventPayload, error) {
		en, err := e.Store.Submit(key, opts...)
		return en, nil, err
	})
}

// Approve records reviewerID verbatim and returns the billing line for the caller to invoice.
func (e Engine) Approve(ctx context.Context, reviewerID string, key domain.Key, note string, opts ...timesheet.TransitionOption) (domain.TimeEntry, domain.BillingLine, error) {
	var line domain.BillingLine
	en, err := e.transition(ctx, "approve", events.EntryApproved, reviewerID, key, func() (domain.TimeEntry, events.EventPayload, error) {
		var (
			en  domain.TimeEntry
			err error
		)
		en, line, err = e.Store.Approve(key, reviewerID, note, opts...)
		return en, events.EventPayload{"reviewer_id": reviewerID, "note": note, "billing": line}, err
	})
	if err != nil {
		return domain.TimeEntry{}, domain.BillingLine{}, err
	}
	return en, line, nil
}

// Reject returns the notice for the caller to pass to the contributor.
func (e Engine) Reject(ctx context.Context, reviewerID string, key domain.Key, reason string, opts ...timesheet.TransitionOption) (domain.TimeEntry, domain.ReturnNotice, error) {
	var notice domain.ReturnNotice
	en, err := e.transition(ctx, "reject", events.EntryRejected, reviewerID, key, func() (domain.TimeEntry, events.EventPayload, error) {
		var (
			en  domain.TimeEntry
			err error
		)
		en, notice, err = e.Store.Reject(key, reviewerID, reason, opts...)
		return en, events.EventPayload{"reviewer_id": reviewerID, "notice": notice}, err
	})
	if err != nil {
		return domain.TimeEntry{}, domain.ReturnNotice{}, err
	}
	return en, notice, nil
}

func (e Engine) Reopen(ctx context.Context, actorID string, key domain.Key, opts ...timesheet.TransitionOption) (domain.TimeEntry, error) {
	return e.transition(ctx, "reopen", events.EntryReopened, actorID, key, func() (domain.TimeEntry, events.EventPayload, error) {
		en, err := e.Store.Reopen(key, opts...)
		return en, nil, err
	})
}

func (e Engine) batch(ctx context.Context, name, evtType, reviewerID string, keys []domain.Key, run func() (domain.BatchResult, error), extra func(domain.BatchResult) events.EventPayload) (domain.BatchResult, error) {
	var res domain.BatchResult
	err := e.mutate(ctx, name, map[string]any{"keys": len(keys), "actor_id": reviewerID}, func(tx *sql.Tx) error {
		var err error
		res, err = run()
		if err != nil {
			return err
		}
		for _, en := range res.Entries {
			if err := e.Repo.SaveEntry(ctx, tx, en); err != nil {
				return err
			}
		}
		payload := extra(res)
		payload["reviewer_id"] = reviewerID
		payload["transitioned"] = res.Transitioned
		payload["skipped"] = res.Skipped
		return e.Events.Append(ctx, tx, evtType, "batch", "", reviewerID, payload)
	})
	return res, err
}

// ApproveBatch approves every submitted entry among keys; others are skipped.
func (e Engine) ApproveBatch(ctx context.Context, reviewerID string, keys []domain.Key, note string) (domain.BatchResult, error) {
	return e.batch(ctx, "approve_batch", events.BatchApproved, reviewerID, keys,
		func() (domain.BatchResult, error) { return e.Store.ApproveBatch(keys, reviewerID, note) },
		func(res domain.BatchResult) events.EventPayload {
			return events.EventPayload{"note": note, "billing": res.Billing}
		})
}

// RejectBatch rejects every submitted entry among keys with one shared reason.
func (e Engine) RejectBatch(ctx context.Context, reviewerID string, keys []domain.Key, reason string) (domain.BatchResult, error) {
	return e.batch(ctx, "reject_batch", events.BatchRejected, reviewerID, keys,
		func() (domain.BatchResult, error) { return e.Store.RejectBatch(keys, reviewerID, reason) },
		func(res domain.BatchResult) events.EventPayload {
			return events.EventPayload{"reason": strings.TrimSpace(reason), "returns": res.Returns}
		})
}

// Selection

// batcher routes a Selection's commit through the engine so it is persisted.
type batcher struct {
	ctx context.Context
	e   Engine
}

func (b batcher) Snapshot() timesheet.Snapshot { return b.e.Snapshot() }

func (b batcher) ApproveBatch(keys []domain.Key, reviewerID, note string) (domain.BatchResult, error) {
	return b.e.ApproveBatch(b.ctx, reviewerID, keys, note)
}

func (b batcher) RejectBatch(keys []domain.Key, reviewerID, reason string) (domain.BatchResult, error) {
	return b.e.RejectBatch(b.ctx, reviewerID, keys, reason)
}

func (e Engine) PreviewSelection(sel *timesheet.Selection, showRates bool) (domain.BatchSelection, error) {
	return sel.Preview(e.Snapshot(), showRates)
}

func (e Engine) ApproveSelection(ctx context.Context, reviewerID string, sel *timesheet.Selection, note string) (domain.BatchResult, error) {
	return sel.ApproveSelected(batcher{ctx: ctx, e: e}, reviewerID, note)
}

func (e Engine) RejectSelection(ctx context.Context, reviewerID string, sel *timesheet.Selection, reason string) (domain.BatchResult, error) {
	return sel.RejectSelected(batcher{ctx: ctx, e: e}, reviewerID, reason)
}

// Aggregates

// Snapshot returns a consistent copy of committed state.
func (e Engine) Snapshot() timesheet.Snapshot {
	defer e.read()()
	return e.Store.Snapshot()
}

func (e Engine) AggregateDay(d domain.Date) domain.DayAggregate {
	return timesheet.AggregateDay(e.Snapshot(), d)
}

func (e Engine) AggregatePeriod(r domain.DateRange) (domain.PeriodSummary, error) {
	return timesheet.AggregatePeriod(e.Snapshot(), r)
}

// WeekOf returns the configured week containing d.
func (e Engine) WeekOf(d domain.Date) domain.DateRange {
	start, _ := e.Config.WeekStart()
	return timesheet.Week(d, start)
}

func (e Engine) AggregateWeek(d domain.Date) (domain.PeriodSummary, error) {
	return e.AggregatePeriod(e.WeekOf(d))
}

func (e Engine) AggregateMonth(d domain.Date) (domain.PeriodSummary, error) {
	return e.AggregatePeriod(timesheet.Month(d))
}

func (e Engine) UniqueContributors(r domain.DateRange) []string {
	return timesheet.UniqueContributors(e.Snapshot(), r)
}

// Variance

func (e Engine) threshold() decimal.Decimal {
	th, err := e.Config.VarianceThreshold()
	if err != nil {
		return timesheet.DefaultVarianceThreshold
	}
	return th
}

// Variance classifies caller-supplied totals with the configured threshold.
func (e Engine) Variance(current, baseline decimal.Decimal) domain.VarianceResult {
	return timesheet.ComputeVarianceWithThreshold(current, baseline, e.threshold())
}

// ContributorVariance compares a contributor's hours in r with the mean of the
// periods equal-length periods before it. periods <= 0 uses the configured count.
func (e Engine) ContributorVariance(contributorID string, r domain.DateRange, periods int) (domain.VarianceResult, error) {
	if err := r.Validate(); err != nil {
		return domain.VarianceResult{}, err
	}
	if periods <= 0 {
		periods = e.Config.BaselinePeriods()
	}
	snap := e.Snapshot()
	if _, ok := snap.Contributors[contributorID]; !ok {
		return domain.VarianceResult{}, domain.NotFoundError{Kind: "contributor", ID: contributorID}
	}
	current := timesheet.ContributorHours(snap, contributorID, r)
	baseline := timesheet.RollingBaseline(timesheet.PriorTotals(snap, contributorID, r, periods))
	return timesheet.ComputeVarianceWithThreshold(current, baseline, e.threshold()), nil
}

// Events and access

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, f)
}

// Capabilities resolves what actorID may see, merging roles and permissions
// already carried by the caller.
func (e Engine) Capabilities(ctx context.Context, actorID string, roles, perms []string) (auth.Capabilities, error) {
	return e.Auth.Resolve(ctx, actorID, roles, perms)
}

func (e Engine) GrantRole(ctx context.Context, actorID, targetActorID, roleID string) error {
	if strings.TrimSpace(targetActorID) == "" {
		return domain.ValidationError{Field: "actor_id", Reason: "actor is required"}
	}
	if err := e.Auth.RoleDefined(roleID); err != nil {
		return domain.ValidationError{Field: "role", Reason: err.Error()}
	}
	return e.mutate(ctx, "grant_role", map[string]any{"target": targetActorID, "role": roleID}, func(tx *sql.Tx) error {
		if err := e.Repo.AssignRole(ctx, tx, targetActorID, roleID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RoleGranted, "actor", targetActorID, actorID, events.EventPayload{"role": roleID})
	})
}

func (e Engine) RevokeRole(ctx context.Context, actorID, targetActorID, roleID string) error {
	return e.mutate(ctx, "revoke_role", map[string]any{"target": targetActorID, "role": roleID}, func(tx *sql.Tx) error {
		if err := e.Repo.RevokeRole(ctx, tx, targetActorID, roleID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RoleRevoked, "actor", targetActorID, actorID, events.EventPayload{"role": roleID})
	})
}

// CreateAPIKey issues a key for ownerID. The plaintext is returned once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, ownerID, name string) (domain.APIKey, string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.APIKey{}, "", domain.ValidationError{Field: "actor_id", Reason: "owner is required"}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	plain := "hl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   ownerID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	err := e.mutate(ctx, "create_api_key", map[string]any{"owner": ownerID}, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actorID, events.EventPayload{"owner": ownerID, "name": name})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

func (e Engine) APIKeys(ctx context.Context, ownerID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, ownerID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, actorID, keyID string) error {
	return e.mutate(ctx, "revoke_api_key", map[string]any{"key_id": keyID}, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKey(ctx, tx, keyID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.APIKeyRevoked, "api_key", keyID, actorID, nil)
	})
}

func (e Engine) RoleAssignments(ctx context.Context) ([]repo.RoleAssignment, error) {
	return e.Repo.ListRoleAssignments(ctx)
}

// IsDomainError reports whether err belongs to the core error taxonomy.
func IsDomainError(err error) bool {
	return errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrState) || errors.Is(err, domain.ErrNotFound)
}
