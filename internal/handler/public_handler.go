package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mailshare/internal/pkg/response"
	"github.com/xxxsen/mailshare/internal/service"
)

// PublicHandler serves anonymous visitors of a share link.
type PublicHandler struct {
	gateway *service.GatewayService
}

func NewPublicHandler(gateway *service.GatewayService) *PublicHandler {
	return &PublicHandler{gateway: gateway}
}

func (h *PublicHandler) access(c *gin.Context, mode string) {
	res, err := h.gateway.Access(c.Request.Context(), &service.AccessRequest{
		Token:       c.Param("token"),
		ClientIP:    c.ClientIP(),
		ViewerEmail: c.Query("userEmail"),
		UserAgent:   c.Request.UserAgent(),
		Mode:        mode,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *PublicHandler) Info(c *gin.Context) {
	h.access(c, service.AccessModeInfo)
}

func (h *PublicHandler) Emails(c *gin.Context) {
	h.access(c, service.AccessModeEmails)
}

type captchaRequest struct {
	CaptchaToken string `json:"captcha_token"`
}

func (h *PublicHandler) Captcha(c *gin.Context) {
	var req captchaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := h.gateway.Verify(c.Request.Context(), c.Param("token"), req.CaptchaToken, c.ClientIP()); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
