package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/services"
	"github.com/yoockh/speaktest/internal/utils"
)

type TestHandler struct {
	sessions services.TestSessionService
	history  services.HistoryService
}

func NewTestHandler(sessions services.TestSessionService, history services.HistoryService) *TestHandler {
	return &TestHandler{sessions: sessions, history: history}
}

type StartTestRequest struct {
	Language     string            `json:"language"`
	LanguageCode string            `json:"languageCode"`
	Difficulty   models.Difficulty `json:"difficulty"`
	TestType     string            `json:"testType"`
	ReplicaID    string            `json:"replicaId"`
	PersonaID    string            `json:"personaId"`
}

type ConversationHandle struct {
	ConversationID  string `json:"conversationId"`
	ConversationURL string `json:"conversationUrl"`
	DailyRoomURL    string `json:"dailyRoomUrl,omitempty"`
}

type StartTestResponse struct {
	SessionID        string              `json:"sessionId"`
	Session          *models.TestSession `json:"session"`
	Conversation     ConversationHandle  `json:"conversation"`
	CreditsRemaining int64               `json:"creditsRemaining"`
}

func (h *TestHandler) Start(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req StartTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "TestHandler.Start", "invalid request body", err))
		return
	}

	cfg := models.TestConfig{
		Language:     req.Language,
		LanguageCode: req.LanguageCode,
		Difficulty:   req.Difficulty,
		TestType:     req.TestType,
	}
	res, err := h.sessions.Start(c.Request.Context(), userID, cfg, services.StartOptions{
		ReplicaID: req.ReplicaID,
		PersonaID: req.PersonaID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, StartTestResponse{
		SessionID: res.Session.SessionID,
		Session:   res.Session,
		Conversation: ConversationHandle{
			ConversationID:  res.Conversation.ConversationID,
			ConversationURL: res.Conversation.ConversationURL,
			DailyRoomURL:    res.Conversation.DailyRoomURL,
		},
		CreditsRemaining: res.CreditsRemaining,
	})
}

type FinishTestRequest struct {
	SessionID string                    `json:"sessionId"`
	Turns     []models.ConversationTurn `json:"turns"`
	Config    *models.TestConfig        `json:"config"`
}

func (h *TestHandler) Finish(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req FinishTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "TestHandler.Finish", "invalid request body", err))
		return
	}

	report, err := h.sessions.End(c.Request.Context(), services.EndRequest{
		SessionID:      req.SessionID,
		UserID:         userID,
		Turns:          req.Turns,
		FallbackConfig: req.Config,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *TestHandler) History(c *gin.Context) {
	const op = "TestHandler.History"
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "limit must be an integer", err))
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "offset must be an integer", err))
		return
	}

	page, err := h.history.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (h *TestHandler) GetSession(c *gin.Context) {
	sess, _, ok := ownedSession(c, h.sessions, "TestHandler.GetSession")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *TestHandler) Join(c *gin.Context) {
	sess, _, ok := ownedSession(c, h.sessions, "TestHandler.Join")
	if !ok {
		return
	}
	joined, err := h.sessions.Join(c.Request.Context(), sess.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, joined)
}

type AppendTurnsRequest struct {
	Turns []models.ConversationTurn `json:"turns" binding:"required"`
}

func (h *TestHandler) AppendTurns(c *gin.Context) {
	sess, _, ok := ownedSession(c, h.sessions, "TestHandler.AppendTurns")
	if !ok {
		return
	}

	var req AppendTurnsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "TestHandler.AppendTurns", "invalid request body", err))
		return
	}
	if err := h.sessions.AppendTurns(c.Request.Context(), sess.SessionID, req.Turns); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sess.SessionID, "appended": len(req.Turns)})
}

func (h *TestHandler) Abandon(c *gin.Context) {
	sess, _, ok := ownedSession(c, h.sessions, "TestHandler.Abandon")
	if !ok {
		return
	}
	if err := h.sessions.Abandon(c.Request.Context(), sess.SessionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sess.SessionID, "status": models.StatusAbandoned})
}
