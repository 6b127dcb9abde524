package middleware

import (
	"os"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/utils"
)

type supabaseClaims struct {
	jwt.RegisteredClaims
	Role        string         `json:"role"`         // usually "authenticated" / "anon"
	AppMetadata map[string]any `json:"app_metadata"` // {"role":"admin"} for operators
}

type JWTConfig struct {
	Secret   string
	Issuer   string // optional
	Audience string // optional
}

func JWTConfigFromEnv() JWTConfig {
	return JWTConfig{
		Secret:   os.Getenv("SUPABASE_JWT_SECRET"),
		Issuer:   os.Getenv("SUPABASE_JWT_ISSUER"),
		Audience: os.Getenv("SUPABASE_JWT_AUDIENCE"),
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a websocket handshake, so upgrade requests may pass access_token instead.
func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("access_token")
	}
	return ""
}

func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Secret == "" {
			abort(c, utils.E(utils.CodeInternal, "JWTAuth", "SUPABASE_JWT_SECRET is not set", nil))
			return
		}

		raw := bearerToken(c)
		if raw == "" {
			abort(c, utils.E(utils.CodeUnauthorized, "JWTAuth", "missing bearer token", nil))
			return
		}

		claims := &supabaseClaims{}
		tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return []byte(cfg.Secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || tok == nil || !tok.Valid {
			abort(c, utils.E(utils.CodeUnauthorized, "JWTAuth", "invalid token", err))
			return
		}

		if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
			abort(c, utils.E(utils.CodeUnauthorized, "JWTAuth", "invalid token issuer", nil))
			return
		}
		if cfg.Audience != "" && !slices.Contains(claims.Audience, cfg.Audience) {
			abort(c, utils.E(utils.CodeUnauthorized, "JWTAuth", "invalid token audience", nil))
			return
		}

		if claims.Subject == "" {
			abort(c, utils.E(utils.CodeUnauthorized, "JWTAuth", "missing subject", nil))
			return
		}

		p := models.Principal{UserID: claims.Subject, Role: models.RoleUser}
		if s, ok := claims.AppMetadata["role"].(string); ok && s != "" {
			p.Role = models.UserRole(strings.ToLower(s))
		}

		c.Set("user_id", p.UserID)
		c.Set("role", string(p.Role))
		c.Set("principal", p)
		c.Next()
	}
}
