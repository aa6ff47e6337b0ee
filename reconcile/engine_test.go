package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/giltayar/coursesales/provider"
	"github.com/giltayar/coursesales/provider/memory"
	"github.com/giltayar/coursesales/reconcile"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	courses *memory.Courses
	lists   *memory.Lists
	groups  *memory.Groups
	engine  *reconcile.Engine
}

func newFixture() *fixture {
	f := &fixture{
		courses: memory.NewCourses(),
		lists:   memory.NewLists(),
		groups:  memory.NewGroups(),
	}
	f.engine = reconcile.NewEngine(f.courses, f.lists, f.groups, zap.NewNop())
	f.engine.Delay = 0 // no backoff sleeps in tests
	return f
}

func goCourseLists() reconcile.ListIDs {
	return reconcile.ListIDs{
		Active:     "go-active",
		Cancelling: "go-cancelling",
		Cancelled:  "go-cancelled",
		Removed:    "go-removed",
	}
}

func alice() reconcile.Identity {
	return reconcile.Identity{
		Contact: provider.Contact{Name: "Alice", Email: "alice@example.com", Phone: "+15550001"},
		Products: []reconcile.ProductIntegration{{
			CourseIDs: []string{"go-101", "go-201"},
			Lists:     goCourseLists(),
			GroupIDs:  []string{"go-students"},
		}},
	}
}

// =============================================================================
// CONNECT / DISCONNECT
// =============================================================================

func TestConnect_AppliesAllSideEffects(t *testing.T) {
	// GIVEN: A sale of one product with two courses, four lists, one group
	// WHEN: Connecting
	// THEN: Enrolled in both courses, on the active list only, in the group

	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.Connect(ctx, alice()))

	assert.Equal(t, []string{"alice@example.com"}, f.courses.Enrolled("go-101"))
	assert.Equal(t, []string{"alice@example.com"}, f.courses.Enrolled("go-201"))
	assert.True(t, f.lists.Subscribed("go-active", "alice@example.com"))
	assert.False(t, f.lists.Subscribed("go-cancelling", "alice@example.com"))
	assert.False(t, f.lists.Subscribed("go-removed", "alice@example.com"))
	assert.True(t, f.groups.InGroup("go-students", "+15550001"))
}

func TestConnect_IsIdempotent(t *testing.T) {
	// Connecting twice is exactly the same as connecting once - every provider
	// call is an upsert, so a retried connect never double-applies.

	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.Connect(ctx, alice()))
	require.NoError(t, f.engine.Connect(ctx, alice()))

	assert.Equal(t, []string{"alice@example.com"}, f.courses.Enrolled("go-101"))
	assert.True(t, f.lists.Subscribed("go-active", "alice@example.com"))
	assert.True(t, f.groups.InGroup("go-students", "+15550001"))
}

func TestDisconnect_ReversesConnect(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.Connect(ctx, alice()))
	require.NoError(t, f.engine.Disconnect(ctx, alice()))

	assert.Empty(t, f.courses.Enrolled("go-101"))
	assert.Empty(t, f.courses.Enrolled("go-201"))
	assert.False(t, f.lists.Subscribed("go-active", "alice@example.com"))
	assert.True(t, f.lists.Subscribed("go-removed", "alice@example.com"))
	assert.False(t, f.groups.InGroup("go-students", "+15550001"))
}

func TestConnect_EmailFallbackWhenNoPhone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id := alice()
	id.Contact.Phone = ""
	require.NoError(t, f.engine.Connect(ctx, id))

	assert.True(t, f.groups.InGroup("go-students", "alice@example.com"))
}

// =============================================================================
// SUBSCRIPTION LIFECYCLE
// =============================================================================

func TestCancelSubscription_MovesListOnly(t *testing.T) {
	// GIVEN: A connected subscription sale
	// WHEN: Cancelling
	// THEN: Only the list moves; course and group access stay until finalized

	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.Connect(ctx, alice()))
	require.NoError(t, f.engine.CancelSubscription(ctx, alice()))

	assert.True(t, f.lists.Subscribed("go-cancelling", "alice@example.com"))
	assert.False(t, f.lists.Subscribed("go-active", "alice@example.com"))
	assert.Equal(t, []string{"alice@example.com"}, f.courses.Enrolled("go-101"))
	assert.True(t, f.groups.InGroup("go-students", "+15550001"))
}

func TestFinalizeCancellation_RemovesAccess(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.Connect(ctx, alice()))
	require.NoError(t, f.engine.CancelSubscription(ctx, alice()))
	require.NoError(t, f.engine.FinalizeCancellation(ctx, alice()))

	assert.Empty(t, f.courses.Enrolled("go-101"))
	assert.True(t, f.lists.Subscribed("go-cancelled", "alice@example.com"))
	assert.False(t, f.lists.Subscribed("go-cancelling", "alice@example.com"))
	assert.False(t, f.groups.InGroup("go-students", "+15550001"))
}

// =============================================================================
// FAILURE POLICY - best-effort apply, fail loud on any remainder
// =============================================================================

func TestConnect_OneItemFails_OthersStillApply(t *testing.T) {
	// GIVEN: The course platform is down for one course, everything else is up
	// WHEN: Connecting
	// THEN: Lists, group, and the healthy course are applied; the run reports
	//       ReconciliationError naming only the failed item

	f := newFixture()
	ctx := context.Background()

	f.courses.EnrollHook = func(contact provider.Contact, courseID string) error {
		if courseID == "go-201" {
			return errors.New("503 from course platform")
		}
		return nil
	}

	err := f.engine.Connect(ctx, alice())
	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrReconciliationFailed)

	var recErr *reconcile.ReconciliationError
	require.ErrorAs(t, err, &recErr)
	require.Len(t, recErr.Items, 1)
	assert.Equal(t, "courses", recErr.Items[0].Provider)

	// Siblings were not short-circuited.
	assert.Equal(t, []string{"alice@example.com"}, f.courses.Enrolled("go-101"))
	assert.True(t, f.lists.Subscribed("go-active", "alice@example.com"))
	assert.True(t, f.groups.InGroup("go-students", "+15550001"))
}

func TestConnect_TransientFailureRecoveredByRetry(t *testing.T) {
	// An item that fails fewer times than the attempt budget succeeds and the
	// run reports no error at all.

	f := newFixture()
	ctx := context.Background()

	failures := 0
	f.groups.AddHook = func(groupID, participantID string) error {
		if failures < 2 {
			failures++
			return errors.New("rate limited")
		}
		return nil
	}

	require.NoError(t, f.engine.Connect(ctx, alice()))
	assert.Equal(t, 2, failures)
	assert.True(t, f.groups.InGroup("go-students", "+15550001"))
}

func TestConnect_RetriesExhaustedReportsLastError(t *testing.T) {
	f := newFixture()
	f.engine.Attempts = 2
	ctx := context.Background()

	calls := 0
	f.lists.UpsertHook = func(contact provider.Contact) error {
		calls++
		return errors.New("list platform down")
	}

	err := f.engine.Connect(ctx, alice())
	require.Error(t, err)
	assert.Equal(t, 2, calls, "the single list item is attempted exactly twice")

	var recErr *reconcile.ReconciliationError
	require.ErrorAs(t, err, &recErr)
	require.Len(t, recErr.Items, 1)
	assert.Equal(t, "lists", recErr.Items[0].Provider)
	assert.ErrorContains(t, recErr.Items[0].Err, "list platform down")
}

func TestConnect_MultipleFailuresAggregated(t *testing.T) {
	f := newFixture()
	f.engine.Attempts = 1
	ctx := context.Background()

	f.courses.EnrollHook = func(provider.Contact, string) error {
		return errors.New("courses down")
	}
	f.groups.AddHook = func(string, string) error {
		return errors.New("groups down")
	}

	err := f.engine.Connect(ctx, alice())
	var recErr *reconcile.ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Len(t, recErr.Items, 3, "two courses + one group")
}

func TestConnect_ProductWithoutLists_SkipsListProvider(t *testing.T) {
	// GIVEN: A product configured with a course and a group but no lists
	// WHEN: Connecting, then cancelling the subscription
	// THEN: The list provider is never called - there is no list to move the
	//       contact to - while course and group access still apply

	f := newFixture()
	ctx := context.Background()

	upserts := 0
	f.lists.UpsertHook = func(provider.Contact) error {
		upserts++
		return nil
	}
	var changes []provider.ListChange
	f.lists.ChangeHook = func(contactID string, change provider.ListChange) error {
		changes = append(changes, change)
		return nil
	}

	id := alice()
	id.Products = []reconcile.ProductIntegration{{
		CourseIDs: []string{"go-101"},
		GroupIDs:  []string{"go-students"},
	}}

	require.NoError(t, f.engine.Connect(ctx, id))
	require.NoError(t, f.engine.CancelSubscription(ctx, id))

	assert.Zero(t, upserts, "no contact upsert for a product without lists")
	assert.Empty(t, changes, "no list change for a product without lists")
	assert.Equal(t, []string{"alice@example.com"}, f.courses.Enrolled("go-101"))
	assert.True(t, f.groups.InGroup("go-students", "+15550001"))
}

func TestConnect_MultipleProducts_AllApplied(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id := alice()
	id.Products = append(id.Products, reconcile.ProductIntegration{
		CourseIDs: []string{"rust-101"},
		Lists: reconcile.ListIDs{
			Active:     "rust-active",
			Cancelling: "rust-cancelling",
			Cancelled:  "rust-cancelled",
			Removed:    "rust-removed",
		},
	})

	require.NoError(t, f.engine.Connect(ctx, id))

	assert.Equal(t, []string{"alice@example.com"}, f.courses.Enrolled("go-101"))
	assert.Equal(t, []string{"alice@example.com"}, f.courses.Enrolled("rust-101"))
	assert.True(t, f.lists.Subscribed("go-active", "alice@example.com"))
	assert.True(t, f.lists.Subscribed("rust-active", "alice@example.com"))
}
