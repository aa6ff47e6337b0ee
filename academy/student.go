package academy

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/giltayar/coursesales/versioned"
)

// Student is a resolved student version.
type Student struct {
	Number    versioned.EntityNumber
	Core      StudentCore
	HistoryID versioned.HistoryID
	Operation versioned.Operation
}

// Students manages student entities.
type Students struct {
	entities *versioned.Entities
}

func NewStudents(entities *versioned.Entities) *Students {
	return &Students{entities: entities}
}

func (s *Students) Create(ctx context.Context, core StudentCore) (versioned.EntityNumber, error) {
	data, err := marshalFacet(FacetCore, core)
	if err != nil {
		return 0, err
	}
	num, _, err := s.entities.Create(ctx, TypeStudent, "", map[versioned.Facet]json.RawMessage{
		FacetCore: data,
	})
	return num, err
}

func (s *Students) Update(ctx context.Context, num versioned.EntityNumber, core StudentCore) (versioned.HistoryID, error) {
	data, err := marshalFacet(FacetCore, core)
	if err != nil {
		return "", err
	}
	return s.entities.Append(ctx, TypeStudent, num, versioned.OpUpdate, "", map[versioned.Facet]json.RawMessage{
		FacetCore: data,
	})
}

func (s *Students) Delete(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return s.entities.Append(ctx, TypeStudent, num, versioned.OpDelete, reason, nil)
}

func (s *Students) Restore(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return s.entities.Append(ctx, TypeStudent, num, versioned.OpRestore, reason, nil)
}

func (s *Students) Get(ctx context.Context, num versioned.EntityNumber) (Student, error) {
	state, err := s.entities.ReadCurrent(ctx, TypeStudent, num)
	if err != nil {
		return Student{}, err
	}
	return studentFromState(state)
}

// At resolves a student as of an arbitrary history row (audit view).
// A history id belonging to another entity type does not name a student
// version, so it reads as not found.
func (s *Students) At(ctx context.Context, id versioned.HistoryID) (Student, error) {
	state, err := s.entities.ReadAtHistory(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if state.EntityType != TypeStudent {
		return Student{}, &versioned.NotFoundError{EntityType: TypeStudent, HistoryID: id}
	}
	return studentFromState(state)
}

func (s *Students) History(ctx context.Context, num versioned.EntityNumber) ([]versioned.HistoryEntry, error) {
	return s.entities.ListHistory(ctx, TypeStudent, num)
}

// FindByEmail returns the non-deleted student with the given email, if any.
// Used by the sale webhook to upsert students by contact address.
func (s *Students) FindByEmail(ctx context.Context, email string) (Student, bool, error) {
	nums, err := s.entities.List(ctx, TypeStudent)
	if err != nil {
		return Student{}, false, err
	}
	for _, num := range nums {
		student, err := s.Get(ctx, num)
		if err != nil {
			return Student{}, false, err
		}
		if student.Operation == versioned.OpDelete {
			continue
		}
		if strings.EqualFold(student.Core.Email, email) {
			return student, true, nil
		}
	}
	return Student{}, false, nil
}

func studentFromState(state versioned.State) (Student, error) {
	student := Student{
		Number:    state.EntityNumber,
		HistoryID: state.HistoryID,
		Operation: state.Operation,
	}
	if err := facetInto(state, FacetCore, &student.Core); err != nil {
		return Student{}, err
	}
	return student, nil
}
