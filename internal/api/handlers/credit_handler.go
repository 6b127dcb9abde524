package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/speaktest/internal/services"
	"github.com/yoockh/speaktest/internal/utils"
)

type CreditHandler struct {
	credits services.CreditService
}

func NewCreditHandler(credits services.CreditService) *CreditHandler {
	return &CreditHandler{credits: credits}
}

func (h *CreditHandler) Balance(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	bal, err := h.credits.Balance(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "balance": bal})
}

type GrantCreditsRequest struct {
	UserID string `json:"userId" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

func (h *CreditHandler) Grant(c *gin.Context) {
	var req GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CreditHandler.Grant", "invalid request body", err))
		return
	}
	bal, err := h.credits.Grant(c.Request.Context(), req.UserID, req.Amount, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": req.UserID, "balance": bal})
}
