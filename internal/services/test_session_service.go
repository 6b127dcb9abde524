package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yoockh/speaktest/internal/evaluation"
	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/providers/avatar"
	mongorepo "github.com/yoockh/speaktest/internal/repositories/mongo"
	pgrepo "github.com/yoockh/speaktest/internal/repositories/postgres"
	"github.com/yoockh/speaktest/internal/utils"
)

const (
	compensationTimeout = 10 * time.Second
	staleBatchSize      = 200
)

// DefaultFallbackConfig is used to score a transcript whose session record is
// gone and whose caller did not say what the test was.
var DefaultFallbackConfig = models.TestConfig{
	Language:     "English",
	LanguageCode: "en",
	Difficulty:   models.DifficultyBeginner,
	TestType:     "speaking",
}

type StartOptions struct {
	ReplicaID string `json:"replicaId,omitempty"`
	PersonaID string `json:"personaId,omitempty"`
}

type StartResult struct {
	Session          *models.TestSession
	Conversation     *avatar.Conversation
	CreditsRemaining int64
}

type EndRequest struct {
	SessionID string
	UserID    string
	// Turns, when non-empty, replace whatever transcript was stored.
	Turns []models.ConversationTurn
	// FallbackConfig describes the test when the session record cannot be found.
	FallbackConfig *models.TestConfig
}

type TestSessionService interface {
	Start(ctx context.Context, userID string, cfg models.TestConfig, opts StartOptions) (*StartResult, error)
	Get(ctx context.Context, sessionID string) (*models.TestSession, error)
	Join(ctx context.Context, sessionID string) (*models.TestSession, error)
	AppendTurns(ctx context.Context, sessionID string, turns []models.ConversationTurn) error
	End(ctx context.Context, req EndRequest) (*models.TestReport, error)
	Abandon(ctx context.Context, sessionID string) error
	AbandonStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// TestSessionDeps wires the lifecycle manager. TurnLogs, Events, History and
// Narrator are optional.
type TestSessionDeps struct {
	Sessions  mongorepo.TestSessionRepository
	Credits   CreditService
	Avatar    avatar.Provider
	Assembler *evaluation.Assembler

	TurnLogs pgrepo.TurnLogRepository
	Events   EventPublisher
	History  HistoryService
	Narrator CoachNarrator

	Logger          *logrus.Logger
	SessionCost     int64
	MaxCallDuration int
	Now             func() time.Time
}

type testSessionService struct {
	TestSessionDeps
	log *logrus.Logger
}

func NewTestSessionService(d TestSessionDeps) TestSessionService {
	if d.Assembler == nil {
		d.Assembler = evaluation.NewAssembler(nil)
	}
	if d.SessionCost <= 0 {
		d.SessionCost = 10
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	log := d.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &testSessionService{TestSessionDeps: d, log: log}
}

func (s *testSessionService) Start(ctx context.Context, userID string, cfg models.TestConfig, opts StartOptions) (*StartResult, error) {
	const op = "TestSessionService.Start"

	if strings.TrimSpace(userID) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if reason := cfg.Validate(); reason != "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid test configuration: "+reason, nil)
	}

	sessionID := uuid.NewString()
	log := s.log.WithFields(logrus.Fields{"op": op, "session_id": sessionID, "user_id": userID})

	meta := map[string]any{
		"session_id":    sessionID,
		"language_code": cfg.LanguageCode,
		"difficulty":    cfg.Difficulty,
	}
	remaining, err := s.Credits.Reserve(ctx, userID, s.SessionCost, "speaking test "+sessionID, meta)
	if err != nil {
		return nil, err
	}

	conv, err := s.Avatar.Open(ctx, avatar.OpenRequest{
		ContextText:     BuildConversationContext(cfg),
		Greeting:        BuildGreeting(cfg),
		LanguageCode:    cfg.LanguageCode,
		ReplicaID:       opts.ReplicaID,
		PersonaID:       opts.PersonaID,
		MaxCallDuration: s.MaxCallDuration,
	})
	if err != nil {
		log.WithError(err).Warn("conversation provider failed, refunding reservation")
		s.compensate(ctx, userID, sessionID, "conversation provider failed")
		return nil, utils.E(utils.CodeSessionCreationFailed, op,
			"the conversation service is unavailable right now; your credits were not charged", err)
	}

	threshold, _ := evaluation.PassThreshold(cfg.Difficulty)
	sess := &models.TestSession{
		SessionID:        sessionID,
		UserID:           userID,
		Config:           cfg,
		Status:           models.StatusNotStarted,
		ConversationID:   conv.ConversationID,
		ConversationURL:  conv.ConversationURL,
		DailyRoomURL:     conv.DailyRoomURL,
		ProviderResponse: conv.Raw,
		Turns:            []models.ConversationTurn{},
		PassThreshold:    threshold,
		CreditsReserved:  s.SessionCost,
		CreatedAt:        s.Now(),
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		log.WithError(err).Error("failed to persist session after opening conversation")
		s.compensate(ctx, userID, sessionID, "session could not be saved")
		s.endConversation(ctx, log, conv.ConversationID)
		return nil, utils.E(utils.CodeInternal, op, "failed to create test session", err)
	}

	s.publish(ctx, log, sessionID, StatusEvent{Status: string(models.StatusNotStarted), Message: "session created"})
	log.WithField("conversation_id", conv.ConversationID).Info("test session started")

	return &StartResult{Session: sess, Conversation: conv, CreditsRemaining: remaining}, nil
}

// compensate runs detached from the request so a cancelled client cannot
// leave a reservation without its refund.
func (s *testSessionService) compensate(ctx context.Context, userID, sessionID, reason string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	meta := map[string]any{"session_id": sessionID, "reason": reason}
	if _, err := s.Credits.Compensate(cctx, userID, s.SessionCost, "refund: "+reason, meta); err != nil {
		s.log.WithFields(logrus.Fields{
			"op":         "TestSessionService.compensate",
			"session_id": sessionID,
			"user_id":    userID,
			"amount":     s.SessionCost,
		}).WithError(err).Error("credit compensation failed; ledger needs manual reconciliation")
	}
}

func (s *testSessionService) endConversation(ctx context.Context, log *logrus.Entry, conversationID string) {
	if conversationID == "" {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := s.Avatar.End(cctx, conversationID); err != nil {
		log.WithError(err).WithField("conversation_id", conversationID).Warn("failed to end remote conversation")
	}
}

func (s *testSessionService) Get(ctx context.Context, sessionID string) (*models.TestSession, error) {
	const op = "TestSessionService.Get"
	if strings.TrimSpace(sessionID) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	sess, err := s.Sessions.GetBySessionID(ctx, sessionID)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeNotFound, op, "test session not found", err)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load test session", err)
	}
	return sess, nil
}

func (s *testSessionService) Join(ctx context.Context, sessionID string) (*models.TestSession, error) {
	const op = "TestSessionService.Join"

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case models.StatusInProgress:
		return sess, nil
	case models.StatusCompleted, models.StatusAbandoned:
		return nil, utils.E(utils.CodeConflict, op, "test session is already "+string(sess.Status), nil)
	}

	now := s.Now()
	err = s.Sessions.MarkStarted(ctx, sessionID, now)
	switch {
	case err == nil:
		sess.Status = models.StatusInProgress
		sess.StartedAt = &now
	case errors.Is(err, utils.ErrInvalidTransition):
		// someone else moved it first; report what it is now
		return s.Get(ctx, sessionID)
	default:
		return nil, mapTransitionErr(op, err)
	}

	log := s.log.WithFields(logrus.Fields{"op": op, "session_id": sessionID, "user_id": sess.UserID})
	s.publish(ctx, log, sessionID, StatusEvent{Status: string(models.StatusInProgress), Message: "joined"})
	return sess, nil
}

func (s *testSessionService) AppendTurns(ctx context.Context, sessionID string, turns []models.ConversationTurn) error {
	const op = "TestSessionService.AppendTurns"

	if strings.TrimSpace(sessionID) == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	if len(turns) == 0 {
		return utils.E(utils.CodeInvalidArgument, op, "at least one turn is required", nil)
	}
	now := s.Now()
	clean := make([]models.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if t.Role != models.RoleAI && t.Role != models.RoleSpeaker {
			return utils.E(utils.CodeInvalidArgument, op, "turn role must be ai or user", nil)
		}
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		clean = append(clean, t)
	}

	if err := s.Sessions.AppendTurns(ctx, sessionID, clean, now); err != nil {
		return mapTransitionErr(op, err)
	}

	log := s.log.WithFields(logrus.Fields{"op": op, "session_id": sessionID})
	s.publish(ctx, log, sessionID, StatusEvent{Status: string(models.StatusInProgress), Message: "turns recorded"})
	return nil
}

func (s *testSessionService) End(ctx context.Context, req EndRequest) (*models.TestReport, error) {
	const op = "TestSessionService.End"

	log := s.log.WithFields(logrus.Fields{"op": op, "session_id": req.SessionID, "user_id": req.UserID})
	for _, t := range req.Turns {
		if t.Role != models.RoleAI && t.Role != models.RoleSpeaker {
			return nil, utils.E(utils.CodeInvalidArgument, op, "turn role must be ai or user", nil)
		}
	}

	var sess *models.TestSession
	if req.SessionID != "" {
		got, err := s.Sessions.GetBySessionID(ctx, req.SessionID)
		switch {
		case err == nil:
			sess = got
		case errors.Is(err, utils.ErrNotFound):
			log.Warn("session record not found, scoring the supplied transcript")
		default:
			return nil, utils.E(utils.CodeInternal, op, "failed to load test session", err)
		}
	}

	if sess == nil {
		return s.endDetached(ctx, log, req)
	}

	if req.UserID != "" && sess.UserID != req.UserID {
		return nil, utils.E(utils.CodeForbidden, op, "this test session belongs to another user", nil)
	}
	switch sess.Status {
	case models.StatusCompleted:
		if sess.Report != nil {
			return sess.Report, nil
		}
		return nil, utils.E(utils.CodeConflict, op, "test session is already completed", nil)
	case models.StatusAbandoned:
		return nil, utils.E(utils.CodeConflict, op, "test session was abandoned", nil)
	}

	turns := models.OrderedTurns(sess.Turns)
	if len(req.Turns) > 0 {
		turns = req.Turns
	}
	now := s.Now()
	started := sess.CreatedAt
	if sess.StartedAt != nil {
		started = *sess.StartedAt
	}

	report, assessments := s.Assembler.Assemble(evaluation.AssembleInput{
		ReportID:       uuid.NewString(),
		SessionID:      sess.SessionID,
		UserID:         sess.UserID,
		ConversationID: sess.ResolveConversationID(),
		Config:         sess.Config,
		Turns:          turns,
		PassThreshold:  sess.PassThreshold,
		StartedAt:      started,
		CompletedAt:    now,
	})
	s.narrate(ctx, log, report)

	if err := s.Sessions.Complete(ctx, sess.SessionID, turns, report, now); err != nil {
		if errors.Is(err, utils.ErrInvalidTransition) {
			// finished concurrently; hand back whatever won
			latest, gerr := s.Sessions.GetBySessionID(ctx, sess.SessionID)
			if gerr == nil && latest.Report != nil {
				return latest.Report, nil
			}
		}
		return nil, mapTransitionErr(op, err)
	}

	s.afterComplete(ctx, log, report, turns, assessments)
	return report, nil
}

// endDetached scores a transcript with no stored session and persists it as a
// new completed session so the result shows up in history.
func (s *testSessionService) endDetached(ctx context.Context, log *logrus.Entry, req EndRequest) (*models.TestReport, error) {
	const op = "TestSessionService.End"

	if strings.TrimSpace(req.UserID) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required to score a detached transcript", nil)
	}
	cfg := fallbackConfig(req.FallbackConfig)
	if req.FallbackConfig == nil {
		log.WithField("language_code", cfg.LanguageCode).Warn("no test configuration supplied, using defaults")
	}

	sessionID := uuid.NewString()
	now := s.Now()
	started := now
	if first, ok := lo.Find(req.Turns, func(t models.ConversationTurn) bool { return !t.Timestamp.IsZero() }); ok && first.Timestamp.Before(now) {
		started = first.Timestamp
	}

	report, assessments := s.Assembler.Assemble(evaluation.AssembleInput{
		ReportID:    uuid.NewString(),
		SessionID:   sessionID,
		UserID:      req.UserID,
		Config:      cfg,
		Turns:       req.Turns,
		StartedAt:   started,
		CompletedAt: now,
	})
	s.narrate(ctx, log, report)

	sess := &models.TestSession{
		SessionID:     sessionID,
		UserID:        req.UserID,
		Config:        cfg,
		Status:        models.StatusCompleted,
		Turns:         req.Turns,
		PassThreshold: report.PassThreshold,
		Report:        report,
		CreatedAt:     started,
		StartedAt:     &started,
		CompletedAt:   &now,
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save test report", err)
	}

	log.WithField("new_session_id", sessionID).Info("scored transcript without a stored session")
	s.afterComplete(ctx, log, report, req.Turns, assessments)
	return report, nil
}

// fallbackConfig fills whatever the caller left blank from DefaultFallbackConfig.
func fallbackConfig(in *models.TestConfig) models.TestConfig {
	cfg := DefaultFallbackConfig
	if in == nil {
		return cfg
	}
	if strings.TrimSpace(in.Language) != "" {
		cfg.Language = in.Language
	}
	if strings.TrimSpace(in.LanguageCode) != "" {
		cfg.LanguageCode = in.LanguageCode
	}
	if in.Difficulty.Valid() {
		cfg.Difficulty = in.Difficulty
	}
	if in.TestType != "" {
		cfg.TestType = in.TestType
	}
	return cfg
}

func (s *testSessionService) narrate(ctx context.Context, log *logrus.Entry, report *models.TestReport) {
	if s.Narrator == nil || report.TurnCount == 0 {
		return
	}
	summary, err := s.Narrator.Narrate(ctx, report)
	if err != nil {
		log.WithError(err).Warn("coach narrative unavailable")
		return
	}
	report.CoachSummary = summary
}

func (s *testSessionService) afterComplete(ctx context.Context, log *logrus.Entry, report *models.TestReport, turns []models.ConversationTurn, assessments []evaluation.Assessment) {
	if s.TurnLogs != nil {
		rows := turnLogRows(report, turns, assessments)
		if err := s.TurnLogs.InsertBatch(ctx, rows); err != nil {
			log.WithError(err).Warn("failed to write turn analytics")
		}
	}
	s.publish(ctx, log, report.SessionID, StatusEvent{
		Status:  string(models.StatusCompleted),
		Message: report.ResultMessage,
	})
	if s.History != nil {
		if err := s.History.Invalidate(ctx, report.UserID); err != nil {
			log.WithError(err).Warn("failed to invalidate history cache")
		}
	}
	log.WithFields(logrus.Fields{
		"overall_score": report.OverallScore,
		"cefr_level":    report.CEFRLevel,
		"is_passed":     report.IsPassed,
	}).Info("test session completed")
}

func turnLogRows(report *models.TestReport, turns []models.ConversationTurn, assessments []evaluation.Assessment) []models.TurnLog {
	rows := make([]models.TurnLog, 0, len(report.Evaluations))
	for i, ev := range report.Evaluations {
		if i >= len(assessments) {
			break
		}
		scores, _ := json.Marshal(ev.Scores)
		ts := report.CompletedAt
		if ev.TurnIndex < len(turns) && !turns[ev.TurnIndex].Timestamp.IsZero() {
			ts = turns[ev.TurnIndex].Timestamp
		}
		rows = append(rows, models.TurnLog{
			ID:          uuid.NewString(),
			UserID:      report.UserID,
			SessionID:   report.SessionID,
			TurnIndex:   ev.TurnIndex,
			Difficulty:  string(report.Difficulty),
			Content:     ev.Text,
			Features:    pgvector.NewVector(assessments[i].Features.Vector()),
			Scores:      datatypes.JSON(scores),
			Suggestions: ev.Suggestions,
			Timestamp:   ts,
		})
	}
	return rows
}

func (s *testSessionService) Abandon(ctx context.Context, sessionID string) error {
	const op = "TestSessionService.Abandon"

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	log := s.log.WithFields(logrus.Fields{"op": op, "session_id": sessionID, "user_id": sess.UserID})
	if err := s.abandon(ctx, log, sess); err != nil {
		return mapTransitionErr(op, err)
	}
	return nil
}

func (s *testSessionService) abandon(ctx context.Context, log *logrus.Entry, sess *models.TestSession) error {
	if err := s.Sessions.Abandon(ctx, sess.SessionID, s.Now()); err != nil {
		return err
	}
	s.endConversation(ctx, log, sess.ResolveConversationID())
	s.publish(ctx, log, sess.SessionID, StatusEvent{Status: string(models.StatusAbandoned), Message: "session abandoned"})
	log.Info("test session abandoned")
	return nil
}

func (s *testSessionService) AbandonStale(ctx context.Context, maxAge time.Duration) (int, error) {
	const op = "TestSessionService.AbandonStale"

	if maxAge <= 0 {
		return 0, utils.E(utils.CodeInvalidArgument, op, "max age must be > 0", nil)
	}
	stale, err := s.Sessions.ListStale(ctx, s.Now().Add(-maxAge), staleBatchSize)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to list stale sessions", err)
	}

	n := 0
	for i := range stale {
		sess := &stale[i]
		log := s.log.WithFields(logrus.Fields{"op": op, "session_id": sess.SessionID, "user_id": sess.UserID})
		err := s.abandon(ctx, log, sess)
		switch {
		case err == nil:
			n++
		case errors.Is(err, utils.ErrInvalidTransition), errors.Is(err, utils.ErrNotFound):
		default:
			log.WithError(err).Warn("failed to abandon stale session")
		}
	}
	return n, nil
}

func (s *testSessionService) publish(ctx context.Context, log *logrus.Entry, sessionID string, ev StatusEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishStatus(ctx, sessionID, ev); err != nil {
		log.WithError(err).Warn("failed to publish session event")
	}
}

func mapTransitionErr(op string, err error) error {
	switch {
	case errors.Is(err, utils.ErrNotFound):
		return utils.E(utils.CodeNotFound, op, "test session not found", err)
	case errors.Is(err, utils.ErrInvalidTransition):
		return utils.E(utils.CodeConflict, op, "test session is already finished", err)
	default:
		return utils.E(utils.CodeInternal, op, "failed to update test session", err)
	}
}
