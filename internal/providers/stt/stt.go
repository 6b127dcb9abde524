package stt

import (
	"context"
	"strings"
)

type Provider interface {
	Transcribe(ctx context.Context, audio []byte, mimeType, languageCode string) (text string, confidence float64, err error)
	Close() error
}

// NormalizeLanguage turns short codes ("es", "en") into BCP-47 tags the
// recognizer accepts. Unknown tags pass through; empty means en-US.
func NormalizeLanguage(code string) string {
	code = strings.TrimSpace(code)
	switch strings.ToLower(code) {
	case "":
		return "en-US"
	case "en":
		return "en-US"
	case "id":
		return "id-ID"
	case "es":
		return "es-ES"
	case "fr":
		return "fr-FR"
	case "de":
		return "de-DE"
	case "it":
		return "it-IT"
	case "pt":
		return "pt-BR"
	case "ja":
		return "ja-JP"
	default:
		return code
	}
}
