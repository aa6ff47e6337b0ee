/*
Package provider defines the three external systems a sale's side effects
are synchronized with. Only the operations the reconciliation engine calls
are specified here; the clients' wire protocols live outside this module.

All operations are idempotent upserts against the remote system: enrolling
an already-enrolled contact, re-subscribing a subscribed contact, or adding
an existing group participant is a no-op. The reconciliation engine relies
on this to retry whole runs safely.
*/
package provider

import "context"

// Contact is the external-facing identity of a student.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// ListChange moves a contact between named subscription lists in one call.
type ListChange struct {
	SubscribeTo     []string
	UnsubscribeFrom []string
}

// CoursePlatform enrolls contacts into courses.
type CoursePlatform interface {
	Enroll(ctx context.Context, contact Contact, courseID string) error
	Unenroll(ctx context.Context, email string, courseID string) error
	IsEnrolled(ctx context.Context, email string, courseID string) (bool, error)
}

// SubscriptionLists manages email-list membership.
type SubscriptionLists interface {
	// UpsertContact creates or updates the contact and returns its id.
	UpsertContact(ctx context.Context, contact Contact) (string, error)
	ChangeLinkedLists(ctx context.Context, contactID string, change ListChange) error
	ContactsOfList(ctx context.Context, listID string) ([]Contact, error)
}

// GroupMessaging manages group membership. Participants are addressed by
// phone number.
type GroupMessaging interface {
	AddParticipant(ctx context.Context, groupID, participantID string) error
	RemoveParticipant(ctx context.Context, groupID, participantID string) error
}
