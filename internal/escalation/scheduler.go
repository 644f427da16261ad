package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"

	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/notify"
)

var (
	// ErrUnknownItem is returned for handles the scheduler does not track.
	ErrUnknownItem = fmt.Errorf("escalation item: %w", model.ErrNotFound)
	// ErrItemClosed is returned when acting on a completed, cancelled or
	// failed item.
	ErrItemClosed = errors.New("escalation item is closed")
	// ErrUnknownPolicy is returned by ScheduleFor for an unconfigured policy.
	ErrUnknownPolicy = errors.New("unknown escalation policy")
)

// Persister stores item snapshots. Implemented by store.Store and
// pgstore.Store.
//
// SaveEscalation must refuse to overwrite a stored item that is already
// closed, returning model.ErrConcurrentModification. The scheduler then
// adopts the stored copy through LoadEscalation.
type Persister interface {
	SaveEscalation(ctx context.Context, item model.EscalationItem) error
	LoadEscalation(ctx context.Context, id string) (model.EscalationItem, error)
}

type entry struct {
	item model.EscalationItem
	gen  uint64
}

// armed reports whether the entry has a live deadline.
func (e *entry) armed() bool {
	return e.item.Status.Open() && e.item.EscalateToRole != ""
}

// Scheduler owns escalation items.
//
// Thread-safety: all methods are safe for concurrent use.
type Scheduler struct {
	mu       sync.Mutex
	items    map[string]*entry
	byDoc    map[string][]string
	queue    deadlineHeap
	policies map[string]Policy

	clock    clockwork.Clock
	ids      model.IDGenerator
	events   notify.Publisher
	persist  Persister
	validate *validator.Validate

	wake chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithIDGenerator sets the handle generator.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(s *Scheduler) { s.ids = g }
}

// WithPublisher sets the event publisher.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Scheduler) { s.events = p }
}

// WithPersister writes every status change through p.
func WithPersister(p Persister) Option {
	return func(s *Scheduler) { s.persist = p }
}

// WithPolicies registers the named policies used by ScheduleFor.
func WithPolicies(policies ...Policy) Option {
	return func(s *Scheduler) {
		for _, p := range policies {
			s.policies[p.Name] = p
		}
	}
}

// NewScheduler creates a scheduler with no items.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		items:    make(map[string]*entry),
		byDoc:    make(map[string][]string),
		policies: make(map[string]Policy),
		clock:    clockwork.NewRealClock(),
		ids:      model.UUIDv7Generator{},
		events:   notify.Discard{},
		validate: validator.New(),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns a registered policy.
func (s *Scheduler) Policy(name string) (Policy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[name]
	return p, ok
}

// Schedule starts tracking item and returns its handle.
// ID, Status, CreatedAt and UpdatedAt are assigned here when empty.
func (s *Scheduler) Schedule(ctx context.Context, item model.EscalationItem) (string, error) {
	if err := s.validate.Struct(item); err != nil {
		return "", fmt.Errorf("schedule escalation: %w", err)
	}
	if item.Deadline.IsZero() {
		return "", errors.New("schedule escalation: deadline is required")
	}

	now := s.clock.Now().UTC()
	if item.ID == "" {
		item.ID = s.ids.Generate()
	}
	if item.Status == "" {
		item.Status = model.EscalationPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	item.Deadline = item.Deadline.UTC()

	s.mu.Lock()
	if _, exists := s.items[item.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("schedule escalation: duplicate handle %s", item.ID)
	}
	if err := s.save(ctx, item); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.track(item)
	s.mu.Unlock()

	slog.Info("escalation scheduled",
		"escalation_id", item.ID,
		"document_id", item.DocumentID,
		"action", item.ActionName,
		"assigned_role", item.AssignedRole,
		"deadline", item.Deadline,
	)
	deadline := item.Deadline
	s.events.Publish(notify.Event{
		Kind:          notify.KindEscalationScheduled,
		DocumentID:    item.DocumentID,
		RecipientRole: item.AssignedRole,
		EscalationID:  item.ID,
		Deadline:      &deadline,
		At:            now,
	})
	s.signal()
	return item.ID, nil
}

// ScheduleFor creates an item for documentID from a registered policy.
func (s *Scheduler) ScheduleFor(ctx context.Context, documentID, policy, phase string) (string, error) {
	p, ok := s.Policy(policy)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPolicy, policy)
	}
	return s.Schedule(ctx, p.Item(documentID, phase, s.clock.Now().UTC()))
}

// Restore loads previously persisted items, re-arming open ones.
// Items already tracked are skipped.
func (s *Scheduler) Restore(items []model.EscalationItem) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, item := range items {
		if _, exists := s.items[item.ID]; exists {
			continue
		}
		s.track(item)
		n++
	}
	if n > 0 {
		s.signal()
	}
	return n
}

// Acknowledge moves an item to in_progress.
// Acknowledging an in_progress item is a no-op. The deadline is unchanged.
func (s *Scheduler) Acknowledge(ctx context.Context, id string) error {
	return s.update(ctx, id, func(e *entry) (bool, error) {
		switch e.item.Status {
		case model.EscalationInProgress:
			return false, nil
		case model.EscalationPending, model.EscalationEscalated:
			e.item.Status = model.EscalationInProgress
			return true, nil
		}
		return false, fmt.Errorf("acknowledge %s (%s): %w", id, e.item.Status, ErrItemClosed)
	})
}

// Complete marks an item completed and disarms its deadline.
func (s *Scheduler) Complete(ctx context.Context, id string) error {
	return s.close(ctx, id, model.EscalationCompleted)
}

// Cancel withdraws an item without completing it.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.close(ctx, id, model.EscalationCancelled)
}

func (s *Scheduler) close(ctx context.Context, id string, status model.EscalationStatus) error {
	return s.update(ctx, id, func(e *entry) (bool, error) {
		if !e.item.Status.Open() {
			if e.item.Status == status {
				return false, nil
			}
			return false, fmt.Errorf("%s %s (%s): %w", status, id, e.item.Status, ErrItemClosed)
		}
		e.item.Status = status
		return true, nil
	})
}

// update applies fn to one item under the lock. When fn reports a change,
// the item is persisted and its generation bumped.
func (s *Scheduler) update(ctx context.Context, id string, fn func(*entry) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	before := e.item
	changed, err := fn(e)
	if err != nil || !changed {
		return err
	}
	e.item.UpdatedAt = s.clock.Now().UTC()
	if err := s.save(ctx, e.item); err != nil {
		e.item = before
		if !s.closedElsewhere(ctx, e, err) {
			return err
		}
		// Re-judge the request against the stored outcome.
		_, err = fn(e)
		return err
	}
	s.rearm(e)

	slog.Debug("escalation updated",
		"escalation_id", id,
		"document_id", e.item.DocumentID,
		"status", e.item.Status,
	)
	return nil
}

// Get returns a copy of a tracked item.
func (s *Scheduler) Get(id string) (model.EscalationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		return model.EscalationItem{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return cloneItem(e.item), nil
}

// Items returns every tracked item of a document, oldest first.
func (s *Scheduler) Items(documentID string) []model.EscalationItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemsLocked(documentID, false)
}

// OpenItems returns the document's items still awaiting action.
func (s *Scheduler) OpenItems(documentID string) []model.EscalationItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemsLocked(documentID, true)
}

// HasOpen reports whether the document has an open item.
func (s *Scheduler) HasOpen(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byDoc[documentID] {
		if s.items[id].item.Status.Open() {
			return true
		}
	}
	return false
}

func (s *Scheduler) itemsLocked(documentID string, openOnly bool) []model.EscalationItem {
	var out []model.EscalationItem
	for _, id := range s.byDoc[documentID] {
		e := s.items[id]
		if openOnly && !e.item.Status.Open() {
			continue
		}
		out = append(out, cloneItem(e.item))
	}
	return out
}

// ArchiveDocument stops tracking every item of a document that reached a
// terminal state. Items still open are marked failed first.
func (s *Scheduler) ArchiveDocument(ctx context.Context, documentID string) ([]model.EscalationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byDoc[documentID]
	archived := make([]model.EscalationItem, 0, len(ids))
	now := s.clock.Now().UTC()
	for _, id := range ids {
		e := s.items[id]
		if e.item.Status.Open() {
			before := e.item
			e.item.Status = model.EscalationFailed
			e.item.UpdatedAt = now
			if err := s.save(ctx, e.item); err != nil {
				e.item = before
				if !s.closedElsewhere(ctx, e, err) {
					return nil, err
				}
			} else {
				slog.Warn("escalation failed: document closed with item open",
					"escalation_id", id,
					"document_id", documentID,
				)
			}
		}
		e.gen++
		delete(s.items, id)
		archived = append(archived, cloneItem(e.item))
	}
	delete(s.byDoc, documentID)
	return archived, nil
}

// Len returns the number of tracked items.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// NextDeadline returns the earliest live deadline.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropStale()
	d, ok := s.queue.peek()
	return d.at, ok
}

// Sweep fires every item whose deadline is at or before now and returns
// copies of the fired items.
func (s *Scheduler) Sweep(ctx context.Context) ([]model.EscalationItem, error) {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	var (
		fired  []model.EscalationItem
		events []notify.Event
		errs   []error
	)
	for {
		s.dropStale()
		d, ok := s.queue.peek()
		if !ok || d.at.After(now) {
			break
		}
		s.queue.pop()
		e := s.items[d.id]

		before := e.item
		ev := s.fire(e, now)
		if err := s.save(ctx, e.item); err != nil {
			e.item = before
			if s.closedElsewhere(ctx, e, err) {
				continue
			}
			// Leave the item armed at its old deadline so the next sweep retries.
			s.queue.push(deadline{id: d.id, at: d.at, gen: e.gen})
			errs = append(errs, err)
			break
		}
		s.rearm(e)
		fired = append(fired, cloneItem(e.item))
		events = append(events, ev)
	}
	s.mu.Unlock()

	for i, ev := range events {
		slog.Warn("escalation fired",
			"escalation_id", fired[i].ID,
			"document_id", ev.DocumentID,
			"recipient_role", ev.RecipientRole,
			"level", ev.Level,
		)
		s.events.Publish(ev)
	}
	return fired, errors.Join(errs...)
}

// fire promotes an item one level. Caller holds the lock.
func (s *Scheduler) fire(e *entry, now time.Time) notify.Event {
	target := e.item.EscalateToRole
	e.item.Status = model.EscalationEscalated
	e.item.Level++
	e.item.AssignedRole = target
	e.item.UpdatedAt = now

	if len(e.item.Chain) > 0 {
		next := e.item.Chain[0]
		e.item.Deadline = now.Add(e.item.EscalateAfter)
		e.item.EscalateToRole = next.Role
		e.item.EscalateAfter = next.After
		e.item.Chain = e.item.Chain[1:]
		if len(e.item.Chain) == 0 {
			e.item.Chain = nil
		}
	} else {
		e.item.EscalateToRole = ""
		e.item.EscalateAfter = 0
	}

	return notify.Event{
		Kind:          notify.KindEscalationFired,
		DocumentID:    e.item.DocumentID,
		RecipientRole: target,
		EscalationID:  e.item.ID,
		Level:         e.item.Level,
		Reason:        e.item.ActionName,
		At:            now,
	}
}

// Run sweeps whenever the earliest deadline passes, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("escalation scheduler started", "items", s.Len())
	for {
		if _, err := s.Sweep(ctx); err != nil {
			slog.Warn("escalation sweep failed", "error", err)
		}

		var timer clockwork.Timer
		var fire <-chan time.Time
		if next, ok := s.NextDeadline(); ok {
			wait := next.Sub(s.clock.Now())
			if wait < 0 {
				wait = 0
			}
			timer = s.clock.NewTimer(wait)
			fire = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			slog.Info("escalation scheduler stopped")
			return ctx.Err()
		case <-s.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// track adds an item to the indexes and arms it. Caller holds the lock.
func (s *Scheduler) track(item model.EscalationItem) {
	e := &entry{item: cloneItem(item)}
	s.items[item.ID] = e
	s.byDoc[item.DocumentID] = append(s.byDoc[item.DocumentID], item.ID)
	s.rearm(e)
}

// rearm invalidates queued deadlines for e and queues the current one if
// the item is still armed. Caller holds the lock.
func (s *Scheduler) rearm(e *entry) {
	e.gen++
	if e.armed() {
		s.queue.push(deadline{id: e.item.ID, at: e.item.Deadline, gen: e.gen})
	}
}

// dropStale pops dead queue heads. Caller holds the lock.
func (s *Scheduler) dropStale() {
	for {
		d, ok := s.queue.peek()
		if !ok {
			return
		}
		e, tracked := s.items[d.id]
		if tracked && e.gen == d.gen && e.armed() {
			return
		}
		s.queue.pop()
	}
}

// closedElsewhere handles a save rejected because another process closed
// the item. It adopts the stored copy, disarming e, and reports true. Any
// other error is left to the caller. Caller holds the lock.
func (s *Scheduler) closedElsewhere(ctx context.Context, e *entry, err error) bool {
	if !errors.Is(err, model.ErrConcurrentModification) || s.persist == nil {
		return false
	}
	stored, lerr := s.persist.LoadEscalation(ctx, e.item.ID)
	if lerr != nil {
		slog.Warn("escalation reload failed", "escalation_id", e.item.ID, "error", lerr)
		return false
	}
	slog.Info("escalation closed elsewhere",
		"escalation_id", e.item.ID,
		"document_id", e.item.DocumentID,
		"status", stored.Status,
	)
	e.item = cloneItem(stored)
	s.rearm(e)
	return true
}

// Refresh reloads every tracked open item from the persister and adopts
// copies that another process changed since. It returns the number of
// items adopted.
func (s *Scheduler) Refresh(ctx context.Context) (int, error) {
	if s.persist == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	var errs []error
	for id, e := range s.items {
		if !e.item.Status.Open() {
			continue
		}
		stored, err := s.persist.LoadEscalation(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh escalation %s: %w", id, err))
			continue
		}
		if !stored.UpdatedAt.After(e.item.UpdatedAt) && stored.Status == e.item.Status {
			continue
		}
		e.item = cloneItem(stored)
		s.rearm(e)
		n++
	}
	if n > 0 {
		s.signal()
	}
	return n, errors.Join(errs...)
}

func (s *Scheduler) save(ctx context.Context, item model.EscalationItem) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.SaveEscalation(ctx, item); err != nil {
		return fmt.Errorf("persist escalation %s: %w", item.ID, err)
	}
	return nil
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func cloneItem(item model.EscalationItem) model.EscalationItem {
	if item.Chain != nil {
		item.Chain = append([]model.EscalationLevel(nil), item.Chain...)
	}
	return item
}

// SortByDeadline orders items by deadline, then handle.
func SortByDeadline(items []model.EscalationItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Deadline.Equal(items[j].Deadline) {
			return items[i].ID < items[j].ID
		}
		return items[i].Deadline.Before(items[j].Deadline)
	})
}
