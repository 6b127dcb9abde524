package evaluation

import (
	"strings"
	"unicode"
)

// Features are the surface proxies the heuristic scorer reads from a turn.
type Features struct {
	Words            int
	DistinctWords    int
	Sentences        int
	Connectors       int
	DiscourseMarkers int
	AvgSentenceLen   float64
	AvgWordLen       float64
	LexicalDiversity float64
	VowelRatio       float64
	Capitalized      bool
	TerminalPunct    bool
}

var discourseMarkers = map[string]struct{}{
	"however": {}, "because": {}, "therefore": {}, "although": {}, "moreover": {},
	"furthermore": {}, "finally": {}, "firstly": {}, "secondly": {}, "also": {},
	"so": {}, "then": {}, "but": {}, "instead": {}, "meanwhile": {},
	"porque": {}, "pero": {}, "entonces": {}, "aunque": {},
	"parce": {}, "mais": {}, "donc": {}, "cependant": {},
	"weil": {}, "aber": {}, "deshalb": {}, "jedoch": {},
}

var conjunctions = map[string]struct{}{
	"and": {}, "but": {}, "because": {}, "so": {}, "which": {}, "that": {},
	"when": {}, "while": {}, "although": {}, "if": {}, "since": {}, "or": {},
	"y": {}, "que": {}, "et": {}, "und": {}, "dass": {},
}

// Extract computes Features for one utterance. It never fails; empty text
// yields zero features.
func Extract(text string) Features {
	var f Features
	text = strings.TrimSpace(text)
	if text == "" {
		return f
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	f.Words = len(words)
	if f.Words == 0 {
		return f
	}

	distinct := make(map[string]struct{}, len(words))
	var letters, vowels int
	for _, w := range words {
		lw := strings.ToLower(w)
		distinct[lw] = struct{}{}
		if _, ok := discourseMarkers[lw]; ok {
			f.DiscourseMarkers++
		}
		if _, ok := conjunctions[lw]; ok {
			f.Connectors++
		}
		for _, r := range lw {
			if !unicode.IsLetter(r) {
				continue
			}
			letters++
			if isVowel(r) {
				vowels++
			}
		}
	}
	f.DistinctWords = len(distinct)
	f.LexicalDiversity = float64(f.DistinctWords) / float64(f.Words)
	f.AvgWordLen = float64(letters) / float64(f.Words)
	if letters > 0 {
		f.VowelRatio = float64(vowels) / float64(letters)
	}

	f.Connectors += strings.Count(text, ",") + strings.Count(text, ";")

	for _, seg := range strings.FieldsFunc(text, isSentenceEnd) {
		if strings.IndexFunc(seg, unicode.IsLetter) >= 0 {
			f.Sentences++
		}
	}
	if f.Sentences == 0 {
		f.Sentences = 1
	}
	f.AvgSentenceLen = float64(f.Words) / float64(f.Sentences)

	for _, r := range text {
		if unicode.IsLetter(r) {
			f.Capitalized = unicode.IsUpper(r)
			break
		}
	}
	last := []rune(text)
	f.TerminalPunct = isSentenceEnd(last[len(last)-1])

	return f
}

// Vector flattens the features for storage next to the turn.
func (f Features) Vector() []float32 {
	return []float32{
		float32(f.Words),
		float32(f.DistinctWords),
		float32(f.Sentences),
		float32(f.AvgSentenceLen),
		float32(f.LexicalDiversity),
		float32(f.VowelRatio),
		float32(f.DiscourseMarkers),
		float32(f.AvgWordLen),
	}
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isVowel(r rune) bool {
	return strings.ContainsRune("aeiouáéíóúàèìòùâêîôûäëïöü", r)
}
