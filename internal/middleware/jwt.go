package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mailshare/internal/pkg/errcode"
	"github.com/xxxsen/mailshare/internal/pkg/jwt"
	"github.com/xxxsen/mailshare/internal/pkg/response"
)

const ContextUserIDKey = "user_id"

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// JWTAuth admits share owners. Every owner route reads the caller's id from
// ContextUserIDKey.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.ErrorWithStatus(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "missing bearer token")
			c.Abort()
			return
		}
		claims, err := jwt.ParseToken(token, secret)
		if err != nil {
			logutil.GetLogger(c.Request.Context()).Debug("reject owner token",
				zap.String("path", c.Request.URL.Path), zap.Error(err))
			response.ErrorWithStatus(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(ContextUserIDKey, claims.UserID)
		c.Next()
	}
}
