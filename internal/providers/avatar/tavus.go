package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// TavusClient talks to the Tavus conversational video API.
type TavusClient struct {
	baseURL string
	apiKey  string
	http    *http.Client

	defaultReplica string
	defaultPersona string
}

type TavusOptions struct {
	BaseURL   string
	APIKey    string
	ReplicaID string
	PersonaID string
	Timeout   time.Duration
}

func NewTavusClient(o TavusOptions) *TavusClient {
	if o.BaseURL == "" {
		o.BaseURL = "https://tavusapi.com"
	}
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	return &TavusClient{
		baseURL:        strings.TrimRight(o.BaseURL, "/"),
		apiKey:         o.APIKey,
		http:           &http.Client{Timeout: o.Timeout},
		defaultReplica: o.ReplicaID,
		defaultPersona: o.PersonaID,
	}
}

type tavusProperties struct {
	Language        string `json:"language,omitempty"`
	MaxCallDuration int    `json:"max_call_duration,omitempty"`
	EnableRecording bool   `json:"enable_recording"`
}

type tavusCreateRequest struct {
	ReplicaID             string          `json:"replica_id,omitempty"`
	PersonaID             string          `json:"persona_id,omitempty"`
	ConversationalContext string          `json:"conversational_context"`
	CustomGreeting        string          `json:"custom_greeting,omitempty"`
	Properties            tavusProperties `json:"properties"`
}

func (c *TavusClient) Open(ctx context.Context, req OpenRequest) (*Conversation, error) {
	body := tavusCreateRequest{
		ReplicaID:             firstNonEmpty(req.ReplicaID, c.defaultReplica),
		PersonaID:             firstNonEmpty(req.PersonaID, c.defaultPersona),
		ConversationalContext: req.ContextText,
		CustomGreeting:        req.Greeting,
		Properties: tavusProperties{
			Language:        tavusLanguage(req.LanguageCode),
			MaxCallDuration: req.MaxCallDuration,
		},
	}

	raw, err := c.do(ctx, http.MethodPost, "/v2/conversations", body)
	if err != nil {
		return nil, err
	}

	conv := &Conversation{Raw: raw}
	conv.ConversationID, _ = raw["conversation_id"].(string)
	conv.ConversationURL, _ = raw["conversation_url"].(string)
	conv.Status, _ = raw["status"].(string)
	conv.DailyRoomURL, _ = raw["daily_room_url"].(string)
	if conv.DailyRoomURL == "" {
		conv.DailyRoomURL = conv.ConversationURL
	}
	if conv.ConversationID == "" || conv.ConversationURL == "" {
		return nil, fmt.Errorf("%w: response missing conversation_id or conversation_url", ErrProvider)
	}
	return conv, nil
}

func (c *TavusClient) End(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return nil
	}
	_, err := c.do(ctx, http.MethodPost, "/v2/conversations/"+url.PathEscape(conversationID)+"/end", nil)
	return err
}

func (c *TavusClient) do(ctx context.Context, method, path string, payload any) (map[string]any, error) {
	var rdr io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encode request: %v", ErrProvider, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	const maxBytes = 1 << 20
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", ErrProvider, method, path, resp.StatusCode, truncate(string(data), 200))
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	return out, nil
}

// tavusLanguage maps a language code onto the full language name Tavus expects.
func tavusLanguage(code string) string {
	base := strings.ToLower(strings.SplitN(strings.TrimSpace(code), "-", 2)[0])
	switch base {
	case "en":
		return "english"
	case "es":
		return "spanish"
	case "fr":
		return "french"
	case "de":
		return "german"
	case "it":
		return "italian"
	case "pt":
		return "portuguese"
	case "ja":
		return "japanese"
	case "ko":
		return "korean"
	case "zh":
		return "chinese"
	case "id":
		return "indonesian"
	case "":
		return ""
	default:
		return "multilingual"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncate keeps at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
