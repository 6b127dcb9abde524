package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/providers/avatar"
	"github.com/yoockh/speaktest/internal/utils"
)

var errBoom = errors.New("boom")

type fakeSessionRepo struct {
	mu          sync.RWMutex
	items       map[string]*models.TestSession
	creates     int
	createErr   error
	completeErr error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{items: make(map[string]*models.TestSession)}
}

func cloneSession(s *models.TestSession) *models.TestSession {
	c := *s
	c.Turns = append([]models.ConversationTurn(nil), s.Turns...)
	return &c
}

func (r *fakeSessionRepo) put(s *models.TestSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[s.SessionID] = cloneSession(s)
}

func (r *fakeSessionRepo) get(id string) (*models.TestSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[id]
	if !ok {
		return nil, false
	}
	return cloneSession(s), true
}

func (r *fakeSessionRepo) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *fakeSessionRepo) Create(ctx context.Context, s *models.TestSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	r.items[s.SessionID] = cloneSession(s)
	return nil
}

func (r *fakeSessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.TestSession, error) {
	if s, ok := r.get(sessionID); ok {
		return s, nil
	}
	return nil, utils.ErrNotFound
}

// update applies fn when the session is in one of allowed.
func (r *fakeSessionRepo) update(sessionID string, allowed []models.TestStatus, fn func(s *models.TestSession)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[sessionID]
	if !ok {
		return utils.ErrNotFound
	}
	for _, st := range allowed {
		if s.Status == st {
			fn(s)
			return nil
		}
	}
	return utils.ErrInvalidTransition
}

func (r *fakeSessionRepo) MarkStarted(ctx context.Context, sessionID string, at time.Time) error {
	return r.update(sessionID, []models.TestStatus{models.StatusNotStarted}, func(s *models.TestSession) {
		s.Status = models.StatusInProgress
		s.StartedAt = &at
	})
}

func (r *fakeSessionRepo) AppendTurns(ctx context.Context, sessionID string, turns []models.ConversationTurn, at time.Time) error {
	return r.update(sessionID, models.OpenStatuses, func(s *models.TestSession) {
		s.Turns = append(s.Turns, turns...)
		s.Status = models.StatusInProgress
		if s.StartedAt == nil {
			s.StartedAt = &at
		}
	})
}

func (r *fakeSessionRepo) Complete(ctx context.Context, sessionID string, turns []models.ConversationTurn, report *models.TestReport, at time.Time) error {
	if r.completeErr != nil {
		return r.completeErr
	}
	return r.update(sessionID, models.OpenStatuses, func(s *models.TestSession) {
		s.Status = models.StatusCompleted
		s.Turns = turns
		s.Report = report
		s.CompletedAt = &at
	})
}

func (r *fakeSessionRepo) Abandon(ctx context.Context, sessionID string, at time.Time) error {
	return r.update(sessionID, models.OpenStatuses, func(s *models.TestSession) {
		s.Status = models.StatusAbandoned
		s.CompletedAt = &at
	})
}

func (r *fakeSessionRepo) ListStale(ctx context.Context, createdBefore time.Time, limit int64) ([]models.TestSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.TestSession
	for _, s := range r.items {
		if !s.Status.Terminal() && s.CreatedAt.Before(createdBefore) {
			out = append(out, *cloneSession(s))
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) ListCompletedByUser(ctx context.Context, userID string, limit, offset int64) ([]models.TestSession, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []models.TestSession
	for _, s := range r.items {
		if s.UserID == userID && s.Status == models.StatusCompleted {
			all = append(all, *cloneSession(s))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CompletedAt.After(*all[j].CompletedAt) })
	total := int64(len(all))
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type fakeCreditRepo struct {
	mu        sync.Mutex
	balances  map[string]int64
	kinds     []models.CreditKind
	creditErr error
}

func newFakeCreditRepo(balances map[string]int64) *fakeCreditRepo {
	if balances == nil {
		balances = map[string]int64{}
	}
	return &fakeCreditRepo{balances: balances}
}

func (r *fakeCreditRepo) Reserve(ctx context.Context, userID string, amount int64, description string, meta map[string]any) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances[userID] < amount {
		return r.balances[userID], utils.ErrInsufficientFunds
	}
	r.balances[userID] -= amount
	r.kinds = append(r.kinds, models.CreditReserve)
	return r.balances[userID], nil
}

func (r *fakeCreditRepo) Credit(ctx context.Context, userID string, amount int64, kind models.CreditKind, description string, meta map[string]any) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.creditErr != nil {
		return 0, r.creditErr
	}
	r.balances[userID] += amount
	r.kinds = append(r.kinds, kind)
	return r.balances[userID], nil
}

func (r *fakeCreditRepo) Balance(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[userID], nil
}

func (r *fakeCreditRepo) ListTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.CreditTransaction, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, models.CreditTransaction{UserID: userID, Kind: k})
	}
	return out, nil
}

func (r *fakeCreditRepo) balance(userID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[userID]
}

type fakeAvatar struct {
	mu      sync.Mutex
	openErr error
	opened  []avatar.OpenRequest
	ended   []string
}

func (a *fakeAvatar) Open(ctx context.Context, req avatar.OpenRequest) (*avatar.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opened = append(a.opened, req)
	if a.openErr != nil {
		return nil, a.openErr
	}
	return &avatar.Conversation{
		ConversationID:  "conv-1",
		ConversationURL: "https://tavus.daily.co/conv-1",
		DailyRoomURL:    "https://tavus.daily.co/conv-1",
		Status:          "active",
		Raw:             map[string]any{"conversation_id": "conv-1"},
	}, nil
}

func (a *fakeAvatar) End(ctx context.Context, conversationID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ended = append(a.ended, conversationID)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (e *fakeEvents) PublishStatus(ctx context.Context, sessionID string, ev StatusEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *fakeEvents) PublishResponse(ctx context.Context, sessionID string, payload any) error {
	return nil
}

func (e *fakeEvents) statuses() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Status)
	}
	return out
}

type fakeTurnLogs struct {
	mu   sync.Mutex
	rows []models.TurnLog
	err  error
}

func (f *fakeTurnLogs) InsertBatch(ctx context.Context, rows []models.TurnLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

type fakeNarrator struct {
	summary string
	err     error
}

func (n fakeNarrator) Narrate(ctx context.Context, report *models.TestReport) (string, error) {
	return n.summary, n.err
}

type fakeCache struct {
	mu    sync.Mutex
	items map[string][]byte
	gets  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[string][]byte)}
}

func (c *fakeCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	b, ok := c.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = b
	return nil
}

func (c *fakeCache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

func (c *fakeCache) DelPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	return nil
}

func (c *fakeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

type fakeChunkRepo struct {
	mu     sync.Mutex
	chunks []models.AudioChunk
}

func (r *fakeChunkRepo) Insert(ctx context.Context, c *models.AudioChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, *c)
	return nil
}

func (r *fakeChunkRepo) NextIndex(ctx context.Context, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max int64
	for _, c := range r.chunks {
		if c.SessionID == sessionID && c.ChunkIndex > max {
			max = c.ChunkIndex
		}
	}
	return max + 1, nil
}

func (r *fakeChunkRepo) UpdateSTT(ctx context.Context, sessionID string, chunkIndex int64, transcript string, confidence float64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.chunks {
		if r.chunks[i].SessionID == sessionID && r.chunks[i].ChunkIndex == chunkIndex {
			r.chunks[i].Transcript = transcript
			r.chunks[i].STTConfidence = confidence
			r.chunks[i].STTStatus = status
			return nil
		}
	}
	return utils.ErrNotFound
}

func (r *fakeChunkRepo) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.AudioChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AudioChunk
	for _, c := range r.chunks {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectName] = b
	return objectName, nil
}

func (s *fakeStore) Open(ctx context.Context, objectName string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[objectName]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []AudioJob
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job AudioJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}
