package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/utils"
)

func abort(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	body := gin.H{"code": utils.CodeInternal, "message": http.StatusText(status)}
	var ae *utils.AppError
	if errors.As(err, &ae) {
		body = gin.H{"code": ae.Code, "message": ae.Message}
	}
	c.AbortWithStatusJSON(status, body)
}

func RequireRole(allowed ...models.UserRole) gin.HandlerFunc {
	allow := map[models.UserRole]struct{}{}
	for _, a := range allowed {
		a = models.UserRole(strings.TrimSpace(strings.ToLower(string(a))))
		if a != "" {
			allow[a] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		v, _ := c.Get("role")
		role, _ := v.(string)
		role = strings.ToLower(strings.TrimSpace(role))

		if _, ok := allow[models.UserRole(role)]; role == "" || !ok {
			abort(c, utils.E(utils.CodeForbidden, "RequireRole", "forbidden", nil))
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc { return RequireRole(models.RoleAdmin) }
