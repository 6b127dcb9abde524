package evaluation

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/yoockh/speaktest/internal/models"
)

type band struct {
	min   int
	level string
}

// cefrBands are ordered from the highest band down; the last entry is the floor.
var cefrBands = map[models.Difficulty][]band{
	models.DifficultyBeginner: {
		{85, "A2"}, {70, "A1+"}, {0, "A1"},
	},
	models.DifficultyIntermediate: {
		{90, "B2"}, {75, "B1"}, {60, "A2+"}, {0, "A2"},
	},
	models.DifficultyAdvanced: {
		{95, "C2"}, {85, "C1"}, {75, "B2+"}, {0, "B2"},
	},
}

type passRule struct {
	threshold int
	required  string
}

var passRules = map[models.Difficulty]passRule{
	models.DifficultyBeginner:     {threshold: 60, required: "A1"},
	models.DifficultyIntermediate: {threshold: 70, required: "B1"},
	models.DifficultyAdvanced:     {threshold: 80, required: "C1"},
}

// normalize maps anything unknown onto intermediate so a report is always produced.
func normalize(d models.Difficulty) models.Difficulty {
	if d.Valid() {
		return d
	}
	return models.DifficultyIntermediate
}

// CEFRLevel maps a 0-100 score onto the CEFR band for the test's difficulty.
func CEFRLevel(d models.Difficulty, score int) string {
	bands := cefrBands[normalize(d)]
	for _, b := range bands {
		if score >= b.min {
			return b.level
		}
	}
	return bands[len(bands)-1].level
}

// PassThreshold returns the pass mark and the nominal CEFR level it stands for.
func PassThreshold(d models.Difficulty) (int, string) {
	r := passRules[normalize(d)]
	return r.threshold, r.required
}

// ResultMessage renders the pass/fail verdict shown to the user.
func ResultMessage(passed bool, score, threshold int, required string) string {
	if passed {
		return fmt.Sprintf("Congratulations! You passed with a score of %d/100 (pass mark %d), meeting the %s requirement.",
			score, threshold, required)
	}
	return fmt.Sprintf("You scored %d/100. The pass mark for %s is %d, so you were %d points short. Keep practicing and try again.",
		score, required, threshold, threshold-score)
}

type Result struct {
	Evaluations   []models.SpeakingEvaluation
	Assessments   []Assessment
	SkillScores   models.SkillScores
	OverallScore  int
	CEFRLevel     string
	IsPassed      bool
	PassThreshold int
	RequiredLevel string
	ResultMessage string
}

type Evaluator struct {
	scorer Scorer
}

func NewEvaluator(scorer Scorer) *Evaluator {
	if scorer == nil {
		scorer = NewHeuristicScorer(0, nil)
	}
	return &Evaluator{scorer: scorer}
}

// Evaluate scores every user turn and aggregates the result. A threshold of
// zero or less means "use the difficulty table"; callers re-evaluating an
// existing session pass the threshold captured when it was created.
func (e *Evaluator) Evaluate(turns []models.ConversationTurn, difficulty models.Difficulty, threshold int) Result {
	tableThreshold, required := PassThreshold(difficulty)
	if threshold <= 0 {
		threshold = tableThreshold
	}

	res := Result{
		Evaluations:   []models.SpeakingEvaluation{},
		PassThreshold: threshold,
		RequiredLevel: required,
	}

	for i, t := range turns {
		if t.Role != models.RoleSpeaker {
			continue
		}
		text := t.Text()
		a := e.scorer.Score(text)
		res.Assessments = append(res.Assessments, a)
		res.Evaluations = append(res.Evaluations, models.SpeakingEvaluation{
			TurnIndex:   i,
			Text:        text,
			Scores:      a.Scores,
			Feedback:    a.Feedback,
			Suggestions: a.Suggestions,
		})
	}

	if n := len(res.Evaluations); n > 0 {
		means := lo.Map(res.Evaluations, func(ev models.SpeakingEvaluation, _ int) float64 {
			return ev.Scores.Mean()
		})
		res.OverallScore = roundScore(lo.Sum(means) / float64(n))
		res.SkillScores = aggregateSkills(res.Evaluations)
	}

	res.CEFRLevel = CEFRLevel(difficulty, res.OverallScore)
	res.IsPassed = res.OverallScore >= threshold
	res.ResultMessage = ResultMessage(res.IsPassed, res.OverallScore, threshold, required)
	return res
}

func aggregateSkills(evals []models.SpeakingEvaluation) models.SkillScores {
	n := float64(len(evals))
	mean := func(pick func(models.SubScores) int) int {
		return roundScore(float64(lo.SumBy(evals, func(ev models.SpeakingEvaluation) int {
			return pick(ev.Scores)
		})) / n)
	}

	sub := models.SubScores{
		Pronunciation: mean(func(s models.SubScores) int { return s.Pronunciation }),
		Fluency:       mean(func(s models.SubScores) int { return s.Fluency }),
		Grammar:       mean(func(s models.SubScores) int { return s.Grammar }),
		Vocabulary:    mean(func(s models.SubScores) int { return s.Vocabulary }),
		Coherence:     mean(func(s models.SubScores) int { return s.Coherence }),
	}
	return models.SkillScores{SubScores: sub, Overall: roundScore(sub.Mean())}
}

func roundScore(v float64) int {
	return clampScore(math.Round(v))
}
