package evaluation

import (
	"fmt"
	"math"
	"time"

	"github.com/yoockh/speaktest/internal/models"
)

// CompetencyFloor is the skill score under which a targeted recommendation is emitted.
const CompetencyFloor = 75

type AssembleInput struct {
	ReportID       string
	SessionID      string
	UserID         string
	ConversationID string
	Config         models.TestConfig
	Turns          []models.ConversationTurn
	PassThreshold  int
	StartedAt      time.Time
	CompletedAt    time.Time
}

// Assembler combines evaluator output with session metadata into a TestReport.
type Assembler struct {
	evaluator *Evaluator
}

func NewAssembler(evaluator *Evaluator) *Assembler {
	if evaluator == nil {
		evaluator = NewEvaluator(nil)
	}
	return &Assembler{evaluator: evaluator}
}

// Assemble builds the report and returns the raw per-turn assessments
// alongside it for callers that persist turn analytics.
func (a *Assembler) Assemble(in AssembleInput) (*models.TestReport, []Assessment) {
	res := a.evaluator.Evaluate(in.Turns, in.Config.Difficulty, in.PassThreshold)

	return &models.TestReport{
		ReportID:       in.ReportID,
		SessionID:      in.SessionID,
		UserID:         in.UserID,
		ConversationID: in.ConversationID,

		Language:     in.Config.Language,
		LanguageCode: in.Config.LanguageCode,
		Difficulty:   in.Config.Difficulty,
		TestType:     in.Config.TestType,

		DurationMinutes: DurationMinutes(in.StartedAt, in.CompletedAt),
		TurnCount:       len(res.Evaluations),

		OverallScore:  res.OverallScore,
		CEFRLevel:     res.CEFRLevel,
		IsPassed:      res.IsPassed,
		PassThreshold: res.PassThreshold,
		RequiredLevel: res.RequiredLevel,
		ResultMessage: res.ResultMessage,

		SkillScores:     res.SkillScores,
		Evaluations:     res.Evaluations,
		GeneralFeedback: GeneralFeedback(res.OverallScore, res.SkillScores, len(res.Evaluations)),
		Recommendations: Recommendations(res.SkillScores),

		StartedAt:   in.StartedAt,
		CompletedAt: in.CompletedAt,
	}, res.Assessments
}

// DurationMinutes rounds the elapsed time to whole minutes, never negative.
func DurationMinutes(start, end time.Time) int {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return int(math.Round(end.Sub(start).Minutes()))
}

func GeneralFeedback(overall int, skills models.SkillScores, turns int) string {
	if turns == 0 {
		return "We could not find any spoken answers in this session, so no skills could be assessed. " +
			"Check that your microphone works and answer each question out loud."
	}

	var opening string
	switch {
	case overall >= 90:
		opening = "Outstanding performance. You communicated with confidence and precision."
	case overall >= 75:
		opening = "Good performance. You handled the conversation well with only minor gaps."
	case overall >= 60:
		opening = "Fair performance. You got your meaning across, but your answers need more range and structure."
	default:
		opening = "This level is still developing. Short answers made it hard to show what you can do."
	}

	strongest, weakest := extremes(skills.SubScores)
	if strongest.Score == weakest.Score {
		return fmt.Sprintf("%s Your skills were evenly balanced at around %d.", opening, strongest.Score)
	}
	return fmt.Sprintf("%s Your strongest area was %s (%d) and the area to focus on is %s (%d).",
		opening, strongest.Skill, strongest.Score, weakest.Skill, weakest.Score)
}

var recommendationBySkill = map[string]string{
	models.SkillPronunciation: "Pronunciation: shadow short native recordings daily and compare your recording against them.",
	models.SkillFluency:       "Fluency: practise speaking on a topic for two minutes without stopping, then repeat it faster.",
	models.SkillGrammar:       "Grammar: review sentence structure and verb tenses, then use them in spoken answers.",
	models.SkillVocabulary:    "Vocabulary: learn topic word lists and make a point of using new words in each answer.",
	models.SkillCoherence:     "Coherence: organise answers as point, reason, example, and link them with connectors.",
}

var genericRecommendations = []string{
	"Keep practicing with regular conversations to maintain your level.",
	"Challenge yourself with a harder difficulty or less familiar topics.",
}

// Recommendations is never empty: one entry per skill under the floor, or
// the generic pair when every skill clears it.
func Recommendations(skills models.SkillScores) []string {
	out := []string{}
	for _, sk := range skills.Skills() {
		if sk.Score < CompetencyFloor {
			out = append(out, recommendationBySkill[sk.Skill])
		}
	}
	if len(out) == 0 {
		out = append(out, genericRecommendations...)
	}
	return out
}

func extremes(s models.SubScores) (best, worst models.SkillScore) {
	skills := s.Skills()
	best, worst = skills[0], skills[0]
	for _, sk := range skills[1:] {
		if sk.Score > best.Score {
			best = sk
		}
		if sk.Score < worst.Score {
			worst = sk
		}
	}
	return best, worst
}
