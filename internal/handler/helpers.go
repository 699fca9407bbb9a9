package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mailshare/internal/middleware"
	"github.com/xxxsen/mailshare/internal/pkg/errcode"
	appErr "github.com/xxxsen/mailshare/internal/pkg/errors"
	"github.com/xxxsen/mailshare/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextUserIDKey)
	userID, _ := value.(string)
	return userID
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ErrorWithStatus(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid share id")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}

func queryInt64(c *gin.Context, name string) int64 {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	response.ErrorWithStatus(c, http.StatusBadRequest, errcode.ErrInvalid, msg)
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get(middleware.ContextRequestIDKey)
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Error(err),
	)

	var limited *appErr.RateLimitedError
	switch {
	case appErr.IsInvalid(err):
		response.ErrorWithStatus(c, http.StatusBadRequest, errcode.ErrInvalid, err.Error())
	case errors.Is(err, appErr.ErrUnauthorized):
		response.ErrorWithStatus(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "unauthorized")
	case appErr.IsNotFound(err):
		response.ErrorWithStatus(c, http.StatusNotFound, errcode.ErrNotFound, "share not found or disabled")
	case errors.Is(err, appErr.ErrCaptchaRequired):
		c.Header("X-Captcha-Required", "1")
		response.ErrorWithStatus(c, http.StatusForbidden, errcode.ErrCaptchaRequired, "captcha required")
	case errors.Is(err, appErr.ErrForbidden):
		response.ErrorWithStatus(c, http.StatusForbidden, errcode.ErrForbidden, "forbidden")
	case errors.Is(err, appErr.ErrExpired):
		response.ErrorWithStatus(c, http.StatusGone, errcode.ErrExpired, "share expired")
	case errors.Is(err, appErr.ErrQuotaExceeded):
		c.Header("X-Quota-Exceeded", "1")
		response.ErrorWithStatus(c, http.StatusTooManyRequests, errcode.ErrQuotaExceeded, "daily quota exceeded")
	case errors.As(err, &limited):
		if limited.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(limited.RetryAfter))
		}
		response.ErrorWithStatus(c, http.StatusTooManyRequests, errcode.ErrTooMany, limited.Error())
	case errors.Is(err, appErr.ErrTooMany):
		response.ErrorWithStatus(c, http.StatusTooManyRequests, errcode.ErrTooMany, "too many requests")
	case errors.Is(err, appErr.ErrCaptchaFailed):
		response.ErrorWithStatus(c, http.StatusBadRequest, errcode.ErrCaptchaFailed, "captcha verification failed")
	case appErr.IsConflict(err):
		response.ErrorWithStatus(c, http.StatusConflict, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrUpstream):
		logger.Warn("upstream failure")
		response.ErrorWithStatus(c, http.StatusBadGateway, errcode.ErrUpstream, "upstream service unavailable")
	default:
		logger.Error("request failed")
		response.ErrorWithStatus(c, http.StatusInternalServerError, errcode.ErrInternal, "internal error")
	}
}
