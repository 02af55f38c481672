package domain

import (
	"fmt"
	"strings"
)

// Scope identifies a group of attempts: a subject, optionally inside an evaluation event.
type Scope struct {
	SubjectKind SubjectKind `json:"subjectKind"`
	SubjectID   string      `json:"subjectId"`
	EventID     string      `json:"eventId,omitempty"`
}

// ScopeFilter is the predicate selecting the attempts of one scope.
// When EventID is set the event is authoritative and subject fields are ignored;
// otherwise only records without an event match.
type ScopeFilter struct {
	SubjectKind SubjectKind
	SubjectID   string
	EventID     string
	UserID      string // optional, narrows to a single user
}

// Resolve validates the scope tuple and returns its filter.
func Resolve(kind SubjectKind, subjectID, eventID string) (ScopeFilter, error) {
	subjectID = strings.TrimSpace(subjectID)
	eventID = strings.TrimSpace(eventID)
	if !kind.Valid() {
		return ScopeFilter{}, fmt.Errorf("%w: unknown subject kind %q", ErrInvalidScope, kind)
	}
	if subjectID == "" {
		return ScopeFilter{}, fmt.Errorf("%w: missing subject id", ErrInvalidScope)
	}
	return ScopeFilter{SubjectKind: kind, SubjectID: subjectID, EventID: eventID}, nil
}

// ResolveScope is Resolve applied to a Scope value.
func ResolveScope(s Scope) (ScopeFilter, error) {
	return Resolve(s.SubjectKind, s.SubjectID, s.EventID)
}

// EventFilter selects every attempt recorded under an evaluation event.
func EventFilter(eventID string) (ScopeFilter, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return ScopeFilter{}, fmt.Errorf("%w: missing event id", ErrInvalidScope)
	}
	return ScopeFilter{EventID: eventID}, nil
}

// EventScoped reports whether the filter selects an event's attempts.
func (f ScopeFilter) EventScoped() bool {
	return f.EventID != ""
}

// ForUser returns a copy of the filter restricted to userID.
func (f ScopeFilter) ForUser(userID string) ScopeFilter {
	f.UserID = userID
	return f
}

// Matches reports whether rec belongs to the filtered scope.
func (f ScopeFilter) Matches(rec AttemptRecord) bool {
	if f.UserID != "" && rec.UserID != f.UserID {
		return false
	}
	if f.EventScoped() {
		return rec.EventID == f.EventID
	}
	return rec.EventID == "" && rec.SubjectKind == f.SubjectKind && rec.SubjectID == f.SubjectID
}
