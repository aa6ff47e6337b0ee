/*
Package memory provides in-memory provider implementations.

Used by tests and by local development where no external credentials exist.
Every operation is an idempotent upsert, mirroring the contract the real
clients give. The *Hook fields let tests inject failures per call.
*/
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/giltayar/coursesales/provider"
)

// =============================================================================
// COURSE PLATFORM
// =============================================================================

type Courses struct {
	mu sync.RWMutex
	// courseID -> email -> contact
	enrollments map[string]map[string]provider.Contact

	EnrollHook   func(contact provider.Contact, courseID string) error
	UnenrollHook func(email, courseID string) error
}

func NewCourses() *Courses {
	return &Courses{enrollments: make(map[string]map[string]provider.Contact)}
}

func (c *Courses) Enroll(_ context.Context, contact provider.Contact, courseID string) error {
	if c.EnrollHook != nil {
		if err := c.EnrollHook(contact, courseID); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enrollments[courseID] == nil {
		c.enrollments[courseID] = make(map[string]provider.Contact)
	}
	c.enrollments[courseID][contact.Email] = contact
	return nil
}

func (c *Courses) Unenroll(_ context.Context, email, courseID string) error {
	if c.UnenrollHook != nil {
		if err := c.UnenrollHook(email, courseID); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.enrollments[courseID], email)
	return nil
}

func (c *Courses) IsEnrolled(_ context.Context, email, courseID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.enrollments[courseID][email]
	return ok, nil
}

// Enrolled returns the emails enrolled in a course, sorted. Test helper.
func (c *Courses) Enrolled(courseID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var emails []string
	for email := range c.enrollments[courseID] {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}

// =============================================================================
// SUBSCRIPTION LISTS
// =============================================================================

type Lists struct {
	mu sync.RWMutex
	// email -> contact (contact id is the email)
	contacts map[string]provider.Contact
	// listID -> contactID -> present
	members map[string]map[string]bool

	UpsertHook func(contact provider.Contact) error
	ChangeHook func(contactID string, change provider.ListChange) error
}

func NewLists() *Lists {
	return &Lists{
		contacts: make(map[string]provider.Contact),
		members:  make(map[string]map[string]bool),
	}
}

func (l *Lists) UpsertContact(_ context.Context, contact provider.Contact) (string, error) {
	if l.UpsertHook != nil {
		if err := l.UpsertHook(contact); err != nil {
			return "", err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.contacts[contact.Email] = contact
	return contact.Email, nil
}

func (l *Lists) ChangeLinkedLists(_ context.Context, contactID string, change provider.ListChange) error {
	if l.ChangeHook != nil {
		if err := l.ChangeHook(contactID, change); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, listID := range change.SubscribeTo {
		if l.members[listID] == nil {
			l.members[listID] = make(map[string]bool)
		}
		l.members[listID][contactID] = true
	}
	for _, listID := range change.UnsubscribeFrom {
		delete(l.members[listID], contactID)
	}
	return nil
}

func (l *Lists) ContactsOfList(_ context.Context, listID string) ([]provider.Contact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	for id := range l.members[listID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	contacts := make([]provider.Contact, 0, len(ids))
	for _, id := range ids {
		contacts = append(contacts, l.contacts[id])
	}
	return contacts, nil
}

// Subscribed reports list membership. Test helper.
func (l *Lists) Subscribed(listID, contactID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.members[listID][contactID]
}

// =============================================================================
// GROUP MESSAGING
// =============================================================================

type Groups struct {
	mu sync.RWMutex
	// groupID -> participantID -> present
	members map[string]map[string]bool

	AddHook    func(groupID, participantID string) error
	RemoveHook func(groupID, participantID string) error
}

func NewGroups() *Groups {
	return &Groups{members: make(map[string]map[string]bool)}
}

func (g *Groups) AddParticipant(_ context.Context, groupID, participantID string) error {
	if g.AddHook != nil {
		if err := g.AddHook(groupID, participantID); err != nil {
			return err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.members[groupID] == nil {
		g.members[groupID] = make(map[string]bool)
	}
	g.members[groupID][participantID] = true
	return nil
}

func (g *Groups) RemoveParticipant(_ context.Context, groupID, participantID string) error {
	if g.RemoveHook != nil {
		if err := g.RemoveHook(groupID, participantID); err != nil {
			return err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members[groupID], participantID)
	return nil
}

// InGroup reports group membership. Test helper.
func (g *Groups) InGroup(groupID, participantID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.members[groupID][participantID]
}
