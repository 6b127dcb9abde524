package models

import (
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

type TestStatus string

const (
	StatusNotStarted TestStatus = "not_started"
	StatusInProgress TestStatus = "in_progress"
	StatusCompleted  TestStatus = "completed"
	StatusAbandoned  TestStatus = "abandoned"
)

// Terminal reports whether no further transition is allowed out of s.
func (s TestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// CanTransition encodes not_started -> in_progress -> {completed|abandoned}.
// completed and abandoned are also reachable straight from not_started.
func (s TestStatus) CanTransition(to TestStatus) bool {
	switch s {
	case StatusNotStarted:
		return to == StatusInProgress || to == StatusCompleted || to == StatusAbandoned
	case StatusInProgress:
		return to == StatusCompleted || to == StatusAbandoned
	default:
		return false
	}
}

// OpenStatuses are the statuses a session may hold while the user can still talk.
var OpenStatuses = []TestStatus{StatusNotStarted, StatusInProgress}

// TestConfig is fixed when the session is requested and never changes.
type TestConfig struct {
	Language     string     `bson:"language" json:"language"`
	LanguageCode string     `bson:"language_code" json:"languageCode"`
	Difficulty   Difficulty `bson:"difficulty" json:"difficulty"`
	TestType     string     `bson:"test_type,omitempty" json:"testType,omitempty"`
}

// Validate returns a human readable reason, or "" when cfg is usable.
func (c TestConfig) Validate() string {
	switch {
	case strings.TrimSpace(c.Language) == "":
		return "language is required"
	case strings.TrimSpace(c.LanguageCode) == "":
		return "languageCode is required"
	case c.Difficulty == "":
		return "difficulty is required"
	case !c.Difficulty.Valid():
		return "difficulty must be one of beginner, intermediate, advanced"
	}
	return ""
}

type Role string

const (
	RoleAI      Role = "ai"
	RoleSpeaker Role = "user"
)

type ConversationTurn struct {
	Role       Role      `bson:"role" json:"role"`
	Content    string    `bson:"content" json:"content"`
	Transcript string    `bson:"transcript,omitempty" json:"transcript,omitempty"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
}

// OrderedTurns returns a copy of turns sorted by timestamp. Turns sharing a
// timestamp keep their stored order. Transcribed audio may be appended out of
// order, but it carries the time its chunk was uploaded.
func OrderedTurns(turns []ConversationTurn) []ConversationTurn {
	out := slices.Clone(turns)
	slices.SortStableFunc(out, func(a, b ConversationTurn) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

// Text is what the evaluator scores: the transcript wins for user turns.
func (t ConversationTurn) Text() string {
	if t.Role == RoleSpeaker && strings.TrimSpace(t.Transcript) != "" {
		return t.Transcript
	}
	return t.Content
}

type TestSession struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SessionID string             `bson:"session_id" json:"sessionId"`
	UserID    string             `bson:"user_id" json:"userId"`

	Config TestConfig `bson:"config" json:"config"`
	Status TestStatus `bson:"status" json:"status"`

	ConversationID   string         `bson:"conversation_id,omitempty" json:"conversationId,omitempty"`
	ConversationURL  string         `bson:"conversation_url,omitempty" json:"conversationUrl,omitempty"`
	DailyRoomURL     string         `bson:"daily_room_url,omitempty" json:"dailyRoomUrl,omitempty"`
	ProviderResponse map[string]any `bson:"provider_response,omitempty" json:"-"`

	Turns []ConversationTurn `bson:"turns" json:"turns"`

	PassThreshold   int   `bson:"pass_threshold" json:"passThreshold"`
	CreditsReserved int64 `bson:"credits_reserved" json:"creditsReserved"`

	Report *TestReport `bson:"report,omitempty" json:"report,omitempty"`

	CreatedAt   time.Time  `bson:"created_at" json:"createdAt"`
	StartedAt   *time.Time `bson:"started_at,omitempty" json:"startedAt,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
}

// ResolveConversationID returns the provider conversation id, preferring the
// top-level field over the copy kept inside the raw provider response.
func (s *TestSession) ResolveConversationID() string {
	if s == nil {
		return ""
	}
	if s.ConversationID != "" {
		return s.ConversationID
	}
	for _, k := range []string{"conversation_id", "conversationId", "id"} {
		if v, ok := s.ProviderResponse[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
