package models

import "time"

// SubScores holds the five sub-skill scores of one speaking turn, each 0-100.
type SubScores struct {
	Pronunciation int `bson:"pronunciation" json:"pronunciation"`
	Fluency       int `bson:"fluency" json:"fluency"`
	Grammar       int `bson:"grammar" json:"grammar"`
	Vocabulary    int `bson:"vocabulary" json:"vocabulary"`
	Coherence     int `bson:"coherence" json:"coherence"`
}

// Mean is the unrounded average of the five sub-skills.
func (s SubScores) Mean() float64 {
	return float64(s.Pronunciation+s.Fluency+s.Grammar+s.Vocabulary+s.Coherence) / 5
}

// Skills lists the sub-skills by name in a stable order.
func (s SubScores) Skills() []SkillScore {
	return []SkillScore{
		{Skill: SkillPronunciation, Score: s.Pronunciation},
		{Skill: SkillFluency, Score: s.Fluency},
		{Skill: SkillGrammar, Score: s.Grammar},
		{Skill: SkillVocabulary, Score: s.Vocabulary},
		{Skill: SkillCoherence, Score: s.Coherence},
	}
}

const (
	SkillPronunciation = "pronunciation"
	SkillFluency       = "fluency"
	SkillGrammar       = "grammar"
	SkillVocabulary    = "vocabulary"
	SkillCoherence     = "coherence"
)

type SkillScore struct {
	Skill string
	Score int
}

// SkillScores is the per-skill aggregate across all user turns.
type SkillScores struct {
	SubScores `bson:",inline"`
	Overall   int `bson:"overall" json:"overall"`
}

type SpeakingEvaluation struct {
	TurnIndex   int       `bson:"turn_index" json:"turnIndex"`
	Text        string    `bson:"text" json:"text"`
	Scores      SubScores `bson:"scores" json:"scores"`
	Feedback    string    `bson:"feedback" json:"feedback"`
	Suggestions []string  `bson:"suggestions" json:"suggestions"`
}

type TestReport struct {
	ReportID       string `bson:"report_id" json:"reportId"`
	SessionID      string `bson:"session_id" json:"sessionId"`
	UserID         string `bson:"user_id" json:"userId"`
	ConversationID string `bson:"conversation_id,omitempty" json:"conversationId,omitempty"`

	Language     string     `bson:"language" json:"language"`
	LanguageCode string     `bson:"language_code" json:"languageCode"`
	Difficulty   Difficulty `bson:"difficulty" json:"difficulty"`
	TestType     string     `bson:"test_type,omitempty" json:"testType,omitempty"`

	DurationMinutes int `bson:"duration_minutes" json:"durationMinutes"`
	TurnCount       int `bson:"turn_count" json:"turnCount"`

	OverallScore  int    `bson:"overall_score" json:"overallScore"`
	CEFRLevel     string `bson:"cefr_level" json:"cefrLevel"`
	IsPassed      bool   `bson:"is_passed" json:"isPassed"`
	PassThreshold int    `bson:"pass_threshold" json:"passThreshold"`
	RequiredLevel string `bson:"required_level" json:"requiredLevel"`
	ResultMessage string `bson:"result_message" json:"resultMessage"`

	SkillScores     SkillScores          `bson:"skill_scores" json:"skillScores"`
	Evaluations     []SpeakingEvaluation `bson:"evaluations" json:"evaluations"`
	GeneralFeedback string               `bson:"general_feedback" json:"generalFeedback"`
	Recommendations []string             `bson:"recommendations" json:"recommendations"`
	CoachSummary    string               `bson:"coach_summary,omitempty" json:"coachSummary,omitempty"`

	StartedAt   time.Time `bson:"started_at" json:"startedAt"`
	CompletedAt time.Time `bson:"completed_at" json:"completedAt"`
}

// TestReportSummary is the history projection of a completed session.
type TestReportSummary struct {
	SessionID       string      `json:"sessionId"`
	Language        string      `json:"language"`
	LanguageCode    string      `json:"languageCode"`
	Difficulty      Difficulty  `json:"difficulty"`
	TestType        string      `json:"testType,omitempty"`
	OverallScore    int         `json:"overallScore"`
	CEFRLevel       string      `json:"cefrLevel"`
	IsPassed        bool        `json:"isPassed"`
	PassThreshold   int         `json:"passThreshold"`
	SkillScores     SkillScores `json:"skillScores"`
	DurationMinutes int         `json:"durationMinutes"`
	CompletedAt     time.Time   `json:"completedAt"`
}

// Summary projects a completed session onto its history row. Sessions
// without a report yield a zero-score row.
func (s *TestSession) Summary() TestReportSummary {
	out := TestReportSummary{
		SessionID:     s.SessionID,
		Language:      s.Config.Language,
		LanguageCode:  s.Config.LanguageCode,
		Difficulty:    s.Config.Difficulty,
		TestType:      s.Config.TestType,
		PassThreshold: s.PassThreshold,
	}
	if s.CompletedAt != nil {
		out.CompletedAt = *s.CompletedAt
	}
	if r := s.Report; r != nil {
		out.OverallScore = r.OverallScore
		out.CEFRLevel = r.CEFRLevel
		out.IsPassed = r.IsPassed
		out.PassThreshold = r.PassThreshold
		out.SkillScores = r.SkillScores
		out.DurationMinutes = r.DurationMinutes
		if out.CompletedAt.IsZero() {
			out.CompletedAt = r.CompletedAt
		}
	}
	return out
}
