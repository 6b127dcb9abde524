package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/providers/llm"
)

// CoachNarrator writes a short personal summary on top of a scored report.
type CoachNarrator interface {
	Narrate(ctx context.Context, report *models.TestReport) (string, error)
}

type llmNarrator struct {
	llm     llm.Provider
	timeout time.Duration
}

func NewLLMNarrator(p llm.Provider, timeout time.Duration) CoachNarrator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &llmNarrator{llm: p, timeout: timeout}
}

func (n *llmNarrator) Narrate(ctx context.Context, report *models.TestReport) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return llm.Collect(ctx, n.llm, NarrationPrompt(report))
}

// NarrationPrompt carries scores only; raw answers stay out of the prompt.
func NarrationPrompt(r *models.TestReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "A learner just finished a %s %s speaking test.\n", r.Difficulty, r.Language)
	fmt.Fprintf(&sb, "Overall score: %d/100, CEFR level %s, pass mark %d, result: %s.\n",
		r.OverallScore, r.CEFRLevel, r.PassThreshold, passWord(r.IsPassed))
	sb.WriteString("Skill scores:\n")
	for _, sk := range r.SkillScores.Skills() {
		fmt.Fprintf(&sb, "- %s: %d\n", sk.Skill, sk.Score)
	}
	fmt.Fprintf(&sb, "They answered %d times over %d minutes.\n", r.TurnCount, r.DurationMinutes)
	sb.WriteString("Write three encouraging sentences in English addressed to the learner: " +
		"what went well, the one skill to focus on next, and a concrete exercise for this week. No lists, no headings.")
	return sb.String()
}

func passWord(passed bool) string {
	if passed {
		return "passed"
	}
	return "not passed"
}
