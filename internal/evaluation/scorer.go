package evaluation

import (
	"math"
	"math/rand"
	"sync"

	"github.com/yoockh/speaktest/internal/models"
)

// Scorer turns one utterance into five 0-100 sub-skill scores plus feedback.
// Implementations must be safe for concurrent use and deterministic for a
// given input unless they document a random term.
type Scorer interface {
	Score(text string) Assessment
}

type Assessment struct {
	Scores      models.SubScores
	Feedback    string
	Suggestions []string
	Features    Features
}

// HeuristicScorer scores text from surface features. Jitter adds a random
// 0..Jitter points to pronunciation, fluency and vocabulary; with Jitter 0
// the scorer is fully deterministic.
type HeuristicScorer struct {
	mu     sync.Mutex
	rng    *rand.Rand
	jitter int
}

// NewHeuristicScorer builds a scorer. src may be nil when jitter is 0.
func NewHeuristicScorer(jitter int, src rand.Source) *HeuristicScorer {
	s := &HeuristicScorer{jitter: jitter}
	if jitter > 0 && src != nil {
		s.rng = rand.New(src)
	}
	return s
}

func (s *HeuristicScorer) Score(text string) Assessment {
	f := Extract(text)
	if f.Words == 0 {
		return Assessment{
			Feedback:    "No speech was detected in this turn.",
			Suggestions: []string{"Answer each question out loud in at least one complete sentence."},
			Features:    f,
		}
	}

	scores := models.SubScores{
		Pronunciation: clampScore(pronunciation(f) + s.polish()),
		Fluency:       clampScore(fluency(f) + s.polish()),
		Grammar:       clampScore(grammar(f)),
		Vocabulary:    clampScore(vocabulary(f) + s.polish()),
		Coherence:     clampScore(coherence(f)),
	}
	return Assessment{
		Scores:      scores,
		Feedback:    turnFeedback(scores),
		Suggestions: turnSuggestions(scores),
		Features:    f,
	}
}

func (s *HeuristicScorer) polish() float64 {
	if s.jitter <= 0 || s.rng == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.rng.Intn(s.jitter + 1))
}

// vowel ratio close to 0.40 reads as balanced articulation in the transcript.
func pronunciation(f Features) float64 {
	balance := math.Max(0, 1-math.Abs(f.VowelRatio-0.40)/0.20)
	return 60 + 25*balance + math.Min(float64(f.Words), 30)/2
}

func fluency(f Features) float64 {
	return 50 + 1.2*math.Min(float64(f.Words), 30) + math.Min(f.AvgSentenceLen, 16)
}

func grammar(f Features) float64 {
	score := 50.0
	if f.Capitalized {
		score += 15
	}
	if f.TerminalPunct {
		score += 15
	}
	if f.AvgSentenceLen >= 5 {
		score += 10
	} else {
		score += 2 * f.AvgSentenceLen
	}
	return score + 3*math.Min(float64(f.Connectors), 3)
}

// diversity only counts fully once the turn is long enough for it to mean something.
func vocabulary(f Features) float64 {
	weight := math.Min(1, float64(f.Words)/12)
	score := 40 + 30*f.LexicalDiversity*weight + math.Min(float64(f.DistinctWords), 30)
	if f.AvgWordLen >= 4.5 {
		score += 5
	}
	return score
}

func coherence(f Features) float64 {
	return 50 +
		8*math.Min(float64(f.DiscourseMarkers), 3) +
		5*math.Min(float64(f.Sentences), 3) +
		math.Min(float64(f.Words), 10)
}

func clampScore(v float64) int {
	r := int(math.Round(v))
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

func turnFeedback(s models.SubScores) string {
	mean := s.Mean()
	switch {
	case mean >= 90:
		return "Excellent answer: clear, well organised and rich in vocabulary."
	case mean >= 75:
		return "Good answer with solid structure. A little more detail would make it stronger."
	case mean >= 60:
		return "Understandable answer, but it was short or loosely structured."
	default:
		return "Very brief answer. Try to respond in full sentences with more detail."
	}
}

var suggestionBySkill = map[string]string{
	models.SkillPronunciation: "Slow down slightly and articulate each word clearly.",
	models.SkillFluency:       "Try to speak in longer stretches without stopping.",
	models.SkillGrammar:       "Use complete sentences with a clear subject and verb.",
	models.SkillVocabulary:    "Avoid repeating the same words; reach for synonyms.",
	models.SkillCoherence:     "Link your ideas with words like because, however and so.",
}

func turnSuggestions(s models.SubScores) []string {
	out := []string{}
	for _, sk := range s.Skills() {
		if sk.Score < 70 {
			out = append(out, suggestionBySkill[sk.Skill])
		}
	}
	return out
}
