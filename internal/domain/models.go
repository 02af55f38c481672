package domain

import "time"

// SubjectKind is the kind of content an attempt targets.
type SubjectKind string

const (
	SubjectQuiz SubjectKind = "quiz"
	SubjectGame SubjectKind = "game"
	SubjectPath SubjectKind = "path"
)

// Valid reports whether k is one of the known subject kinds.
func (k SubjectKind) Valid() bool {
	switch k {
	case SubjectQuiz, SubjectGame, SubjectPath:
		return true
	}
	return false
}

// AttemptRecord is one submitted attempt at a quiz, game or learning path.
type AttemptRecord struct {
	ID             string      `json:"id"`
	SubjectKind    SubjectKind `json:"subjectKind"`
	SubjectID      string      `json:"subjectId"`
	UserID         string      `json:"userId"`
	EventID        string      `json:"eventId,omitempty"` // empty for standalone attempts
	StartedAt      time.Time   `json:"startedAt"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	TotalItems     int         `json:"totalItems"`
	CompletedItems int         `json:"completedItems"`
	Passed         bool        `json:"passed"`
	Score          *float64    `json:"score,omitempty"`
}

// Completed reports whether the attempt has finished.
func (a AttemptRecord) Completed() bool {
	return a.CompletedAt != nil
}

// CompletionPercentage returns CompletedItems/TotalItems in [0, 1], or 0 when there are no items.
func (a AttemptRecord) CompletionPercentage() float64 {
	if a.TotalItems <= 0 {
		return 0
	}
	return float64(a.CompletedItems) / float64(a.TotalItems)
}

// UserSummary is the read-only profile view joined into leaderboards.
type UserSummary struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// LeaderboardEntry pairs an attempt with the attempting user's summary.
type LeaderboardEntry struct {
	Attempt              AttemptRecord `json:"attempt"`
	User                 UserSummary   `json:"user"`
	CompletionPercentage float64       `json:"completionPercentage"`
}

// Leaderboard captures the ordered results of an evaluation event.
type Leaderboard struct {
	EventID   string             `json:"eventId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

const (
	// ReasonContentUpload is the reason code of the upload reward trigger.
	ReasonContentUpload = "content-upload"
	// UploadRewardXP is the fixed XP amount granted per uploaded content item.
	UploadRewardXP int64 = 1000
)

// GrantKey is the idempotency key of a reward grant.
type GrantKey struct {
	UserID     string
	ContentID  string
	ReasonCode string
}

// RewardGrant is an immutable ledger entry recording an XP issuance.
type RewardGrant struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ContentID  string    `json:"contentId"`
	ReasonCode string    `json:"reasonCode"`
	Amount     int64     `json:"amount"`
	GrantedAt  time.Time `json:"grantedAt"`
}

// Key returns the idempotency key of the grant.
func (g RewardGrant) Key() GrantKey {
	return GrantKey{UserID: g.UserID, ContentID: g.ContentID, ReasonCode: g.ReasonCode}
}

// GrantStatus tells whether a grant call issued XP.
type GrantStatus string

const (
	GrantGranted        GrantStatus = "granted"
	GrantAlreadyGranted GrantStatus = "already_granted"
)

// GrantOutcome is the result of a reward grant call.
type GrantOutcome struct {
	Status GrantStatus `json:"status"`
	Amount int64       `json:"amount"`
	Grant  RewardGrant `json:"grant"`
}
