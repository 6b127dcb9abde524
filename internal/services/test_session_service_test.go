package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/speaktest/internal/evaluation"
	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/utils"
)

const (
	travelAnswer = "Last summer I travelled to Madrid with my family, and we visited several museums because my sister loves modern art. " +
		"However, the weather was extremely hot, so we usually stayed inside during the afternoon."
	learningAnswer = "In my opinion, learning a language is rewarding because it opens doors to new friendships. " +
		"Although grammar can be difficult, I practise every evening, and I also listen to podcasts while commuting."
)

var (
	beginnerEnglish     = models.TestConfig{Language: "English", LanguageCode: "en", Difficulty: models.DifficultyBeginner, TestType: "speaking"}
	intermediateEnglish = models.TestConfig{Language: "English", LanguageCode: "en", Difficulty: models.DifficultyIntermediate}
)

type harness struct {
	svc      TestSessionService
	sessions *fakeSessionRepo
	ledger   *fakeCreditRepo
	avatar   *fakeAvatar
	events   *fakeEvents
	turnLogs *fakeTurnLogs
	cache    *fakeCache
	now      time.Time
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newHarness(t *testing.T, balance int64, opts ...func(*TestSessionDeps)) *harness {
	t.Helper()
	h := &harness{
		sessions: newFakeSessionRepo(),
		ledger:   newFakeCreditRepo(map[string]int64{"u1": balance}),
		avatar:   &fakeAvatar{},
		events:   &fakeEvents{},
		turnLogs: &fakeTurnLogs{},
		cache:    newFakeCache(),
		now:      time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	deps := TestSessionDeps{
		Sessions:    h.sessions,
		Credits:     NewCreditService(h.ledger),
		Avatar:      h.avatar,
		Assembler:   evaluation.NewAssembler(evaluation.NewEvaluator(evaluation.NewHeuristicScorer(0, nil))),
		TurnLogs:    h.turnLogs,
		Events:      h.events,
		History:     NewHistoryService(h.sessions, h.cache, time.Minute, quietLogger()),
		Logger:      quietLogger(),
		SessionCost: 10,
		Now:         func() time.Time { return h.now },
	}
	for _, o := range opts {
		o(&deps)
	}
	h.svc = NewTestSessionService(deps)
	return h
}

func (h *harness) start(t *testing.T, cfg models.TestConfig) *StartResult {
	t.Helper()
	res, err := h.svc.Start(context.Background(), "u1", cfg, StartOptions{})
	require.NoError(t, err)
	return res
}

func speaker(text string) models.ConversationTurn {
	return models.ConversationTurn{Role: models.RoleSpeaker, Content: text}
}

func examiner(text string) models.ConversationTurn {
	return models.ConversationTurn{Role: models.RoleAI, Content: text}
}

func appErr(t *testing.T, err error) *utils.AppError {
	t.Helper()
	var ae *utils.AppError
	require.True(t, errors.As(err, &ae), "expected AppError, got %v", err)
	return ae
}

func TestStart_ReservesAndPersists(t *testing.T) {
	h := newHarness(t, 25)

	res, err := h.svc.Start(context.Background(), "u1", intermediateEnglish, StartOptions{ReplicaID: "r-9"})
	require.NoError(t, err)

	assert.Equal(t, int64(15), res.CreditsRemaining)
	assert.Equal(t, int64(15), h.ledger.balance("u1"))
	assert.Equal(t, "conv-1", res.Conversation.ConversationID)

	stored, ok := h.sessions.get(res.Session.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.StatusNotStarted, stored.Status)
	assert.Equal(t, "conv-1", stored.ConversationID)
	assert.Equal(t, 70, stored.PassThreshold)
	assert.Equal(t, int64(10), stored.CreditsReserved)
	assert.Empty(t, stored.Turns)

	require.Len(t, h.avatar.opened, 1)
	assert.Equal(t, "r-9", h.avatar.opened[0].ReplicaID)
	assert.Equal(t, BuildConversationContext(intermediateEnglish), h.avatar.opened[0].ContextText)
	assert.Equal(t, []string{"not_started"}, h.events.statuses())
}

func TestStart_InsufficientCreditsTouchesNothing(t *testing.T) {
	h := newHarness(t, 5)

	_, err := h.svc.Start(context.Background(), "u1", beginnerEnglish, StartOptions{})
	require.Error(t, err)

	ae := appErr(t, err)
	assert.Equal(t, utils.CodeInsufficientCredits, ae.Code)
	assert.Equal(t, int64(5), ae.Details["balance"])
	assert.Equal(t, int64(10), ae.Details["required"])

	assert.Equal(t, int64(5), h.ledger.balance("u1"))
	assert.Zero(t, h.sessions.creates)
	assert.Empty(t, h.avatar.opened)
}

func TestStart_ProviderFailureRefunds(t *testing.T) {
	h := newHarness(t, 25)
	h.avatar.openErr = errors.New("tavus: 502")

	_, err := h.svc.Start(context.Background(), "u1", beginnerEnglish, StartOptions{})
	require.Error(t, err)

	assert.Equal(t, utils.CodeSessionCreationFailed, utils.CodeOf(err))
	assert.Equal(t, int64(25), h.ledger.balance("u1"))
	assert.Equal(t, []models.CreditKind{models.CreditReserve, models.CreditCompensate}, h.ledger.kinds)
	assert.Zero(t, h.sessions.count())
}

func TestStart_ProviderFailureRefundsEvenWhenRequestCancelled(t *testing.T) {
	h := newHarness(t, 25)
	h.avatar.openErr = context.DeadlineExceeded

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.svc.Start(ctx, "u1", beginnerEnglish, StartOptions{})

	assert.Equal(t, utils.CodeSessionCreationFailed, utils.CodeOf(err))
	assert.Equal(t, int64(25), h.ledger.balance("u1"))
}

func TestStart_FailedCompensationKeepsPrimaryError(t *testing.T) {
	h := newHarness(t, 25)
	h.avatar.openErr = errors.New("timeout")
	h.ledger.creditErr = errBoom

	_, err := h.svc.Start(context.Background(), "u1", beginnerEnglish, StartOptions{})

	assert.Equal(t, utils.CodeSessionCreationFailed, utils.CodeOf(err))
	assert.Equal(t, int64(15), h.ledger.balance("u1"))
}

func TestStart_PersistenceFailureRefundsAndEndsConversation(t *testing.T) {
	h := newHarness(t, 25)
	h.sessions.createErr = errBoom

	_, err := h.svc.Start(context.Background(), "u1", beginnerEnglish, StartOptions{})

	assert.Equal(t, utils.CodeInternal, utils.CodeOf(err))
	assert.Equal(t, int64(25), h.ledger.balance("u1"))
	assert.Equal(t, []string{"conv-1"}, h.avatar.ended)
}

func TestStart_InvalidConfig(t *testing.T) {
	h := newHarness(t, 25)

	for _, cfg := range []models.TestConfig{
		{LanguageCode: "en", Difficulty: models.DifficultyBeginner},
		{Language: "English", Difficulty: models.DifficultyBeginner},
		{Language: "English", LanguageCode: "en", Difficulty: "expert"},
	} {
		_, err := h.svc.Start(context.Background(), "u1", cfg, StartOptions{})
		assert.Equal(t, utils.CodeInvalidArgument, utils.CodeOf(err))
	}
	assert.Empty(t, h.ledger.kinds)
	assert.Empty(t, h.avatar.opened)
}

func TestJoin(t *testing.T) {
	h := newHarness(t, 25)
	res := h.start(t, beginnerEnglish)
	id := res.Session.SessionID

	sess, err := h.svc.Join(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, sess.Status)
	require.NotNil(t, sess.StartedAt)

	h.now = h.now.Add(time.Minute)
	again, err := h.svc.Join(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, sess.StartedAt.Unix(), again.StartedAt.Unix())

	require.NoError(t, h.svc.Abandon(context.Background(), id))
	_, err = h.svc.Join(context.Background(), id)
	assert.Equal(t, utils.CodeConflict, utils.CodeOf(err))

	_, err = h.svc.Join(context.Background(), "missing")
	assert.Equal(t, utils.CodeNotFound, utils.CodeOf(err))
}

func TestAppendTurns(t *testing.T) {
	h := newHarness(t, 25)
	id := h.start(t, beginnerEnglish).Session.SessionID

	err := h.svc.AppendTurns(context.Background(), id, []models.ConversationTurn{{Role: "narrator", Content: "hi"}})
	assert.Equal(t, utils.CodeInvalidArgument, utils.CodeOf(err))

	err = h.svc.AppendTurns(context.Background(), id, nil)
	assert.Equal(t, utils.CodeInvalidArgument, utils.CodeOf(err))

	require.NoError(t, h.svc.AppendTurns(context.Background(), id, []models.ConversationTurn{
		examiner("Tell me about your last holiday."),
		speaker(travelAnswer),
	}))
	stored, _ := h.sessions.get(id)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	require.Len(t, stored.Turns, 2)
	assert.Equal(t, h.now, stored.Turns[1].Timestamp)

	_, err = h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "u1"})
	require.NoError(t, err)

	err = h.svc.AppendTurns(context.Background(), id, []models.ConversationTurn{speaker("late")})
	assert.Equal(t, utils.CodeConflict, utils.CodeOf(err))
}

func TestEnd_ScoresStoredTranscript(t *testing.T) {
	h := newHarness(t, 25)
	id := h.start(t, beginnerEnglish).Session.SessionID

	require.NoError(t, h.svc.AppendTurns(context.Background(), id, []models.ConversationTurn{
		examiner("Tell me about your last holiday."),
		speaker(travelAnswer),
		examiner("Why are you learning English?"),
		speaker(learningAnswer),
	}))
	h.now = h.now.Add(5 * time.Minute)
	report, err := h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "u1"})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, report.OverallScore, 85)
	assert.True(t, report.IsPassed)
	assert.Equal(t, "A2", report.CEFRLevel)
	assert.Equal(t, 60, report.PassThreshold)
	assert.Equal(t, 5, report.DurationMinutes)
	assert.Equal(t, 2, report.TurnCount)
	assert.Equal(t, "conv-1", report.ConversationID)
	assert.Equal(t, []int{1, 3}, []int{report.Evaluations[0].TurnIndex, report.Evaluations[1].TurnIndex})

	stored, _ := h.sessions.get(id)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, report.ReportID, stored.Report.ReportID)

	require.Len(t, h.turnLogs.rows, 2)
	assert.Len(t, h.turnLogs.rows[0].Features.Slice(), models.TurnFeatureDims)
	assert.Contains(t, h.events.statuses(), "completed")
}

func TestEnd_OrdersStoredTurnsByTimestamp(t *testing.T) {
	h := newHarness(t, 25)
	id := h.start(t, beginnerEnglish).Session.SessionID

	asked := h.now.Add(time.Minute)
	late := speaker(learningAnswer)
	late.Timestamp = asked.Add(2 * time.Minute)
	early := speaker(travelAnswer)
	early.Timestamp = asked.Add(time.Minute)
	question := examiner("Tell me about your last holiday.")
	question.Timestamp = asked

	// transcription finished out of order
	require.NoError(t, h.svc.AppendTurns(context.Background(), id, []models.ConversationTurn{question}))
	require.NoError(t, h.svc.AppendTurns(context.Background(), id, []models.ConversationTurn{late}))
	require.NoError(t, h.svc.AppendTurns(context.Background(), id, []models.ConversationTurn{early}))

	report, err := h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "u1"})
	require.NoError(t, err)

	require.Len(t, report.Evaluations, 2)
	assert.Equal(t, travelAnswer, report.Evaluations[0].Text)
	assert.Equal(t, 1, report.Evaluations[0].TurnIndex)
	assert.Equal(t, learningAnswer, report.Evaluations[1].Text)
	assert.Equal(t, 2, report.Evaluations[1].TurnIndex)

	stored, _ := h.sessions.get(id)
	require.Len(t, stored.Turns, 3)
	assert.Equal(t, travelAnswer, stored.Turns[1].Content)
}

func TestEnd_SuppliedTurnsAreAuthoritative(t *testing.T) {
	h := newHarness(t, 25)
	id := h.start(t, beginnerEnglish).Session.SessionID
	require.NoError(t, h.svc.AppendTurns(context.Background(), id, []models.ConversationTurn{speaker(travelAnswer), speaker(learningAnswer)}))

	report, err := h.svc.End(context.Background(), EndRequest{
		SessionID: id,
		UserID:    "u1",
		Turns:     []models.ConversationTurn{speaker("yes i like"), speaker("i like it")},
	})
	require.NoError(t, err)

	assert.Equal(t, 58, report.OverallScore)
	assert.False(t, report.IsPassed)
	assert.Equal(t, "A1", report.CEFRLevel)

	stored, _ := h.sessions.get(id)
	assert.Len(t, stored.Turns, 2)
	assert.Equal(t, "yes i like", stored.Turns[0].Content)
}

func TestEnd_CompletedSessionReturnsStoredReport(t *testing.T) {
	h := newHarness(t, 25)
	id := h.start(t, beginnerEnglish).Session.SessionID

	first, err := h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "u1", Turns: []models.ConversationTurn{speaker(travelAnswer)}})
	require.NoError(t, err)

	second, err := h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "u1", Turns: []models.ConversationTurn{speaker("no")}})
	require.NoError(t, err)
	assert.Equal(t, first.ReportID, second.ReportID)
	assert.Equal(t, first.OverallScore, second.OverallScore)
}

func TestEnd_RejectsAbandonedAndForeignSessions(t *testing.T) {
	h := newHarness(t, 25)
	id := h.start(t, beginnerEnglish).Session.SessionID

	_, err := h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "intruder"})
	assert.Equal(t, utils.CodeForbidden, utils.CodeOf(err))

	require.NoError(t, h.svc.Abandon(context.Background(), id))
	_, err = h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "u1"})
	assert.Equal(t, utils.CodeConflict, utils.CodeOf(err))
}

func TestEnd_MissingSessionUsesFallbackConfig(t *testing.T) {
	h := newHarness(t, 25)

	report, err := h.svc.End(context.Background(), EndRequest{
		SessionID:      "gone",
		UserID:         "u1",
		Turns:          []models.ConversationTurn{speaker(travelAnswer)},
		FallbackConfig: &models.TestConfig{Language: "Spanish", LanguageCode: "es", Difficulty: models.DifficultyAdvanced},
	})
	require.NoError(t, err)

	assert.NotEqual(t, "gone", report.SessionID)
	assert.Equal(t, "Spanish", report.Language)
	assert.Equal(t, models.DifficultyAdvanced, report.Difficulty)
	assert.Equal(t, 80, report.PassThreshold)

	stored, ok := h.sessions.get(report.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, "u1", stored.UserID)
}

func TestEnd_MissingSessionWithoutConfigDefaults(t *testing.T) {
	h := newHarness(t, 25)

	report, err := h.svc.End(context.Background(), EndRequest{UserID: "u1", Turns: []models.ConversationTurn{speaker("hello there")}})
	require.NoError(t, err)

	assert.Equal(t, DefaultFallbackConfig.Language, report.Language)
	assert.Equal(t, DefaultFallbackConfig.Difficulty, report.Difficulty)

	_, err = h.svc.End(context.Background(), EndRequest{Turns: []models.ConversationTurn{speaker("hello")}})
	assert.Equal(t, utils.CodeInvalidArgument, utils.CodeOf(err))
}

func TestEnd_EmptyTranscript(t *testing.T) {
	h := newHarness(t, 25)
	id := h.start(t, intermediateEnglish).Session.SessionID

	report, err := h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "u1"})
	require.NoError(t, err)

	assert.Zero(t, report.OverallScore)
	assert.Zero(t, report.SkillScores.Overall)
	assert.False(t, report.IsPassed)
	assert.NotEmpty(t, report.Recommendations)
	assert.Empty(t, h.turnLogs.rows)
}

func TestEnd_InvalidatesHistoryCache(t *testing.T) {
	h := newHarness(t, 25)
	id := h.start(t, beginnerEnglish).Session.SessionID

	history := NewHistoryService(h.sessions, h.cache, time.Minute, quietLogger())
	page, err := history.List(context.Background(), "u1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, 1, h.cache.len())

	_, err = h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "u1", Turns: []models.ConversationTurn{speaker(travelAnswer)}})
	require.NoError(t, err)
	assert.Zero(t, h.cache.len())

	page, err = history.List(context.Background(), "u1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
}

func TestEnd_OptionalCollaboratorsNeverFailTheReport(t *testing.T) {
	h := newHarness(t, 25, func(d *TestSessionDeps) {
		d.Narrator = fakeNarrator{err: errBoom}
	})
	h.turnLogs.err = errBoom
	id := h.start(t, beginnerEnglish).Session.SessionID

	report, err := h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "u1", Turns: []models.ConversationTurn{speaker(travelAnswer)}})
	require.NoError(t, err)
	assert.Empty(t, report.CoachSummary)
}

func TestEnd_StoresCoachSummary(t *testing.T) {
	h := newHarness(t, 25, func(d *TestSessionDeps) {
		d.Narrator = fakeNarrator{summary: "Great job."}
	})
	id := h.start(t, beginnerEnglish).Session.SessionID

	report, err := h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "u1", Turns: []models.ConversationTurn{speaker(travelAnswer)}})
	require.NoError(t, err)
	assert.Equal(t, "Great job.", report.CoachSummary)
}

func TestEnd_PersistenceFailure(t *testing.T) {
	h := newHarness(t, 25)
	id := h.start(t, beginnerEnglish).Session.SessionID
	h.sessions.completeErr = errBoom

	_, err := h.svc.End(context.Background(), EndRequest{SessionID: id, UserID: "u1"})
	assert.Equal(t, utils.CodeInternal, utils.CodeOf(err))
}

func TestAbandon_KeepsReservationAndEndsConversation(t *testing.T) {
	h := newHarness(t, 25)
	id := h.start(t, beginnerEnglish).Session.SessionID

	require.NoError(t, h.svc.Abandon(context.Background(), id))

	stored, _ := h.sessions.get(id)
	assert.Equal(t, models.StatusAbandoned, stored.Status)
	assert.Equal(t, int64(15), h.ledger.balance("u1"))
	assert.Equal(t, []string{"conv-1"}, h.avatar.ended)

	err := h.svc.Abandon(context.Background(), id)
	assert.Equal(t, utils.CodeConflict, utils.CodeOf(err))
}

func TestAbandonStale(t *testing.T) {
	h := newHarness(t, 100)
	old := h.start(t, beginnerEnglish).Session.SessionID

	h.now = h.now.Add(2 * time.Hour)
	fresh := h.start(t, beginnerEnglish).Session.SessionID
	done := h.start(t, beginnerEnglish).Session.SessionID
	_, err := h.svc.End(context.Background(), EndRequest{SessionID: done, UserID: "u1"})
	require.NoError(t, err)

	h.now = h.now.Add(30 * time.Minute)
	n, err := h.svc.AbandonStale(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, _ := h.sessions.get(old)
	assert.Equal(t, models.StatusAbandoned, s.Status)
	s, _ = h.sessions.get(fresh)
	assert.Equal(t, models.StatusNotStarted, s.Status)

	_, err = h.svc.AbandonStale(context.Background(), 0)
	assert.Equal(t, utils.CodeInvalidArgument, utils.CodeOf(err))
}
