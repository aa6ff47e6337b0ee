/*
Package reconcile applies or reverses a sale's external side effects.

PURPOSE:
  Given a sale's external-facing identity (student contact plus per-product
  provider configuration), make the three external systems match the desired
  internal state: course enrollments, subscription-list membership, and
  group-messaging membership.

POLICY: best-effort apply, fail loud on any remainder.
  Every per-item call runs concurrently with an independent bounded retry;
  no item's failure short-circuits a sibling. After all items settle, each
  outcome is logged; if ANY item terminally failed the whole run raises
  ReconciliationError - even though other items already succeeded. The
  caller may safely retry the whole run because every provider call is an
  idempotent upsert.

SUBSCRIPTION LIFECYCLE:
  Each product names four lists. A contact is on at most one of them:

    connect              -> active
    cancel subscription  -> cancelling   (lists only; courses/groups keep
                                          access until the grace period ends)
    finalize cancel      -> cancelled
    disconnect / refund  -> removed

SEE ALSO:
  - provider: the three client interfaces
  - workflow: the orchestrator invoking these functions
*/
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/giltayar/coursesales/provider"
)

// ListIDs names a product's four subscription lists.
type ListIDs struct {
	Active     string
	Cancelling string
	Cancelled  string
	Removed    string
}

func (l ListIDs) all() []string {
	return []string{l.Active, l.Cancelling, l.Cancelled, l.Removed}
}

// others returns every list except the one being subscribed to.
func (l ListIDs) others(target string) []string {
	var rest []string
	for _, id := range l.all() {
		if id != "" && id != target {
			rest = append(rest, id)
		}
	}
	return rest
}

// ProductIntegration is one product's provider configuration.
type ProductIntegration struct {
	CourseIDs []string
	Lists     ListIDs
	GroupIDs  []string
}

// Identity is everything the engine needs about one sale.
type Identity struct {
	Contact  provider.Contact
	Products []ProductIntegration
}

// participantID is how the group-messaging platform addresses the contact.
func (id Identity) participantID() string {
	if id.Contact.Phone != "" {
		return id.Contact.Phone
	}
	return id.Contact.Email
}

// =============================================================================
// ENGINE
// =============================================================================

const (
	DefaultAttempts = 3
	DefaultDelay    = 250 * time.Millisecond
)

// Engine holds the provider clients and the per-item retry policy.
type Engine struct {
	Courses provider.CoursePlatform
	Lists   provider.SubscriptionLists
	Groups  provider.GroupMessaging
	Log     *zap.Logger

	// Attempts and Delay bound the per-item retry: a fixed attempt count with
	// a fixed small delay between attempts.
	Attempts int
	Delay    time.Duration
}

func NewEngine(courses provider.CoursePlatform, lists provider.SubscriptionLists, groups provider.GroupMessaging, log *zap.Logger) *Engine {
	return &Engine{
		Courses:  courses,
		Lists:    lists,
		Groups:   groups,
		Log:      log,
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
	}
}

// Connect applies a sale's side effects: enroll in every course, subscribe
// to each product's active list, join every group.
func (e *Engine) Connect(ctx context.Context, id Identity) error {
	var items []item
	for _, p := range id.Products {
		items = append(items, e.courseItems(id.Contact, p, true)...)
		items = append(items, e.listItems(id.Contact, p.Lists, p.Lists.Active)...)
		items = append(items, e.groupItems(id, p, true)...)
	}
	return e.apply(ctx, "connect", items)
}

// Disconnect reverses a sale's side effects: unenroll from every course,
// move the contact to each product's removed list, leave every group.
func (e *Engine) Disconnect(ctx context.Context, id Identity) error {
	var items []item
	for _, p := range id.Products {
		items = append(items, e.courseItems(id.Contact, p, false)...)
		items = append(items, e.listItems(id.Contact, p.Lists, p.Lists.Removed)...)
		items = append(items, e.groupItems(id, p, false)...)
	}
	return e.apply(ctx, "disconnect", items)
}

// CancelSubscription starts ending a standing order: move the contact to
// each product's cancelling list. Course and group access stay until the
// cancellation is finalized.
func (e *Engine) CancelSubscription(ctx context.Context, id Identity) error {
	var items []item
	for _, p := range id.Products {
		items = append(items, e.listItems(id.Contact, p.Lists, p.Lists.Cancelling)...)
	}
	return e.apply(ctx, "cancel-subscription", items)
}

// FinalizeCancellation ends a standing order's subscription: unenroll from
// courses, move the contact to the cancelled list, leave groups.
func (e *Engine) FinalizeCancellation(ctx context.Context, id Identity) error {
	var items []item
	for _, p := range id.Products {
		items = append(items, e.courseItems(id.Contact, p, false)...)
		items = append(items, e.listItems(id.Contact, p.Lists, p.Lists.Cancelled)...)
		items = append(items, e.groupItems(id, p, false)...)
	}
	return e.apply(ctx, "finalize-cancellation", items)
}

// =============================================================================
// ITEM CONSTRUCTION - one item per course id / list move / group id
// =============================================================================

type item struct {
	provider string
	name     string
	run      func(ctx context.Context) error
}

func (e *Engine) courseItems(contact provider.Contact, p ProductIntegration, enroll bool) []item {
	items := make([]item, 0, len(p.CourseIDs))
	for _, courseID := range p.CourseIDs {
		courseID := courseID
		if enroll {
			items = append(items, item{
				provider: "courses",
				name:     fmt.Sprintf("enroll course %q", courseID),
				run: func(ctx context.Context) error {
					return e.Courses.Enroll(ctx, contact, courseID)
				},
			})
		} else {
			items = append(items, item{
				provider: "courses",
				name:     fmt.Sprintf("unenroll course %q", courseID),
				run: func(ctx context.Context) error {
					return e.Courses.Unenroll(ctx, contact.Email, courseID)
				},
			})
		}
	}
	return items
}

// listItems is one combined subscribe/unsubscribe call per product: upsert the
// contact, then subscribe it to the target list and unsubscribe from the rest.
// A product with no list for this transition produces no item at all - an
// empty id is not a valid list to subscribe to.
func (e *Engine) listItems(contact provider.Contact, lists ListIDs, target string) []item {
	if target == "" {
		return nil
	}
	return []item{{
		provider: "lists",
		name:     fmt.Sprintf("move to list %q", target),
		run: func(ctx context.Context) error {
			contactID, err := e.Lists.UpsertContact(ctx, contact)
			if err != nil {
				return err
			}
			return e.Lists.ChangeLinkedLists(ctx, contactID, provider.ListChange{
				SubscribeTo:     []string{target},
				UnsubscribeFrom: lists.others(target),
			})
		},
	}}
}

func (e *Engine) groupItems(id Identity, p ProductIntegration, join bool) []item {
	participant := id.participantID()
	items := make([]item, 0, len(p.GroupIDs))
	for _, groupID := range p.GroupIDs {
		groupID := groupID
		if join {
			items = append(items, item{
				provider: "groups",
				name:     fmt.Sprintf("join group %q", groupID),
				run: func(ctx context.Context) error {
					return e.Groups.AddParticipant(ctx, groupID, participant)
				},
			})
		} else {
			items = append(items, item{
				provider: "groups",
				name:     fmt.Sprintf("leave group %q", groupID),
				run: func(ctx context.Context) error {
					return e.Groups.RemoveParticipant(ctx, groupID, participant)
				},
			})
		}
	}
	return items
}

// =============================================================================
// SETTLE-ALL EXECUTION
// =============================================================================

// apply runs every item concurrently, waits for all of them, logs each
// outcome, and aggregates terminal failures into one ReconciliationError.
func (e *Engine) apply(ctx context.Context, op string, items []item) error {
	results := make([]error, len(items))

	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.withRetry(ctx, items[i].run)
		}(i)
	}
	wg.Wait()

	var failed []*ProviderCallError
	for i, it := range items {
		if results[i] != nil {
			e.Log.Warn("reconciliation item failed",
				zap.String("op", op),
				zap.String("provider", it.provider),
				zap.String("item", it.name),
				zap.Error(results[i]))
			failed = append(failed, &ProviderCallError{
				Provider: it.provider,
				Item:     it.name,
				Err:      results[i],
			})
			continue
		}
		e.Log.Debug("reconciliation item applied",
			zap.String("op", op),
			zap.String("provider", it.provider),
			zap.String("item", it.name))
	}

	if len(failed) > 0 {
		return &ReconciliationError{Op: op, Items: failed}
	}
	return nil
}

// withRetry retries fn up to e.Attempts times with a fixed delay between
// attempts. A transient single failure never aborts sibling items; only the
// final error is reported.
func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := e.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.Delay):
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}
