package services

import (
	"fmt"
	"strings"

	"github.com/yoockh/speaktest/internal/models"
)

type contextKey struct {
	lang       string
	difficulty models.Difficulty
}

type conversationTemplate struct {
	context  string
	greeting string
}

var conversationTemplates = map[contextKey]conversationTemplate{
	{"en", models.DifficultyBeginner}: {
		context: "You are a friendly English examiner running a short speaking test for a beginner. " +
			"Speak slowly, use simple everyday words and short sentences. Ask about family, hobbies, food and daily routine. " +
			"Ask one question at a time and wait for the answer. Do not correct mistakes during the test.",
		greeting: "Hello! Welcome to your English speaking test. Let's start with something easy: can you tell me your name and where you live?",
	},
	{"en", models.DifficultyIntermediate}: {
		context: "You are an English examiner running an intermediate speaking test. " +
			"Use natural pace and common idioms. Ask the candidate to describe experiences, compare options and give opinions with reasons. " +
			"Follow up on their answers to keep them talking. Do not correct mistakes during the test.",
		greeting: "Hi, welcome to your English speaking test. To begin, could you tell me about a trip or an event you remember well?",
	},
	{"en", models.DifficultyAdvanced}: {
		context: "You are an English examiner running an advanced speaking test. " +
			"Speak at native pace. Discuss abstract topics such as technology, society and work, challenge the candidate's arguments " +
			"and ask them to hypothesise and justify. Do not correct mistakes during the test.",
		greeting: "Good to meet you. Let's dive in: do you think remote work has changed how people build careers, and why?",
	},
	{"es", models.DifficultyBeginner}: {
		context: "Eres un examinador amable de español que hace una prueba oral corta a un principiante. " +
			"Habla despacio, con palabras sencillas y frases cortas. Pregunta por la familia, los pasatiempos, la comida y la rutina. " +
			"Haz una pregunta cada vez. No corrijas errores durante la prueba.",
		greeting: "¡Hola! Bienvenido a tu prueba oral de español. Para empezar, ¿cómo te llamas y dónde vives?",
	},
	{"es", models.DifficultyIntermediate}: {
		context: "Eres un examinador de español en una prueba oral de nivel intermedio. " +
			"Habla a ritmo natural. Pide al candidato que describa experiencias, compare opciones y dé opiniones con razones. " +
			"No corrijas errores durante la prueba.",
		greeting: "Hola, bienvenido a tu prueba oral. ¿Puedes contarme sobre un viaje que recuerdes bien?",
	},
	{"es", models.DifficultyAdvanced}: {
		context: "Eres un examinador de español en una prueba oral avanzada. " +
			"Habla a ritmo nativo, trata temas abstractos como la tecnología y la sociedad, y pide al candidato que argumente y plantee hipótesis. " +
			"No corrijas errores durante la prueba.",
		greeting: "Encantado. Empecemos: ¿crees que el teletrabajo ha cambiado la forma de hacer carrera? ¿Por qué?",
	},
	{"fr", models.DifficultyBeginner}: {
		context: "Tu es un examinateur de français bienveillant qui fait passer un court test oral à un débutant. " +
			"Parle lentement avec des mots simples et des phrases courtes. Pose une question à la fois. Ne corrige pas les erreurs pendant le test.",
		greeting: "Bonjour ! Bienvenue à ton test oral de français. Pour commencer, comment tu t'appelles et où habites-tu ?",
	},
	{"id", models.DifficultyBeginner}: {
		context: "Kamu adalah penguji bahasa Indonesia yang ramah untuk tes berbicara tingkat pemula. " +
			"Bicara pelan dengan kata sederhana dan kalimat pendek. Ajukan satu pertanyaan setiap kali. Jangan koreksi kesalahan selama tes.",
		greeting: "Halo! Selamat datang di tes berbicara bahasa Indonesia. Siapa nama kamu dan di mana kamu tinggal?",
	},
}

var difficultyGuidance = map[models.Difficulty]string{
	models.DifficultyBeginner:     "Speak slowly with simple vocabulary and short questions about everyday topics.",
	models.DifficultyIntermediate: "Use a natural pace and ask for descriptions, comparisons and opinions with reasons.",
	models.DifficultyAdvanced:     "Speak at native pace and discuss abstract topics, asking the candidate to argue and hypothesise.",
}

// BuildConversationContext returns the examiner instructions for cfg. Pairs
// without a localized template get a language-neutral one naming the language.
func BuildConversationContext(cfg models.TestConfig) string {
	if t, ok := conversationTemplates[templateKey(cfg)]; ok {
		return t.context
	}
	guidance, ok := difficultyGuidance[cfg.Difficulty]
	if !ok {
		guidance = difficultyGuidance[models.DifficultyIntermediate]
	}
	return fmt.Sprintf("You are an examiner running a %s speaking test in %s. Conduct the whole conversation in %s. %s "+
		"Ask one question at a time and do not correct mistakes during the test.",
		cfg.Difficulty, cfg.Language, cfg.Language, guidance)
}

func BuildGreeting(cfg models.TestConfig) string {
	if t, ok := conversationTemplates[templateKey(cfg)]; ok {
		return t.greeting
	}
	return fmt.Sprintf("Hello! Welcome to your %s speaking test. Let's begin: please introduce yourself in %s.",
		cfg.Language, cfg.Language)
}

// templateKey uses the primary subtag so "en-US" and "en" share templates.
func templateKey(cfg models.TestConfig) contextKey {
	lang := strings.ToLower(strings.TrimSpace(cfg.LanguageCode))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return contextKey{lang: lang, difficulty: cfg.Difficulty}
}
