package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/services"
	"github.com/yoockh/speaktest/internal/utils"
)

type APIError struct {
	Code    utils.Code     `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func toAPIError(err error) (int, APIError) {
	status := utils.HTTPStatus(err)

	var ae *utils.AppError
	if errors.As(err, &ae) {
		return status, APIError{
			Code:    ae.Code,
			Message: ae.Message,
			Details: ae.Details,
		}
	}
	return status, APIError{
		Code:    utils.CodeInternal,
		Message: http.StatusText(status),
	}
}

func writeError(c *gin.Context, err error) {
	status, body := toAPIError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func requireUserID(c *gin.Context) (string, bool) {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}

	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return "", false
}

// ownedSession loads the :id session and checks it belongs to the caller.
func ownedSession(c *gin.Context, svc services.TestSessionService, op string) (*models.TestSession, string, bool) {
	userID, ok := requireUserID(c)
	if !ok {
		return nil, "", false
	}
	sess, err := svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, "", false
	}
	if sess.UserID != userID {
		writeError(c, utils.E(utils.CodeForbidden, op, "forbidden", nil))
		return nil, "", false
	}
	return sess, userID, true
}
