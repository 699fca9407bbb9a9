package handler

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/xxxsen/mailshare/internal/model"
	"github.com/xxxsen/mailshare/internal/pkg/response"
	"github.com/xxxsen/mailshare/internal/service"
)

// ShareHandler serves the owner-facing management routes.
type ShareHandler struct {
	shares *service.ShareService
	access *service.AccessService
}

func NewShareHandler(shares *service.ShareService, access *service.AccessService) *ShareHandler {
	return &ShareHandler{shares: shares, access: access}
}

func (h *ShareHandler) Create(c *gin.Context) {
	var req service.CreateShareInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	view, err := h.shares.Create(c.Request.Context(), getUserID(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *ShareHandler) List(c *gin.Context) {
	q := &model.ShareQuery{
		UserID:        getUserID(c),
		Status:        c.Query("status"),
		Keyword:       c.Query("keyword"),
		CreatedFrom:   queryInt64(c, "created_from"),
		CreatedTo:     queryInt64(c, "created_to"),
		ExpireFrom:    queryInt64(c, "expire_from"),
		ExpireTo:      queryInt64(c, "expire_to"),
		DailyLimitMin: queryInt(c, "daily_limit_min"),
		DailyLimitMax: queryInt(c, "daily_limit_max"),
		Page:          queryInt(c, "page"),
		Size:          queryInt(c, "size"),
	}
	if raw := c.Query("types"); raw != "" {
		types, ok := parseTypes(raw)
		if !ok {
			badRequest(c, "invalid types")
			return
		}
		q.Types = types
	}
	res, err := h.shares.ListPage(c.Request.Context(), q)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func parseTypes(raw string) ([]int, bool) {
	parts := lo.Compact(lo.Map(strings.Split(raw, ","), func(p string, _ int) string { return strings.TrimSpace(p) }))
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

func (h *ShareHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.shares.Get(c.Request.Context(), getUserID(c), id)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *ShareHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.shares.Disable(c.Request.Context(), getUserID(c), id); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *ShareHandler) RefreshToken(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.shares.RefreshToken(c.Request.Context(), getUserID(c), id)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *ShareHandler) Batch(c *gin.Context) {
	var req service.BatchInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	res, err := h.shares.BatchOperate(c.Request.Context(), getUserID(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

type updateFieldRequest struct {
	Value json.RawMessage `json:"value"`
}

func (h *ShareHandler) UpdateField(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req updateFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Value) == 0 {
		badRequest(c, "value is required")
		return
	}
	view, err := h.shares.UpdateField(c.Request.Context(), getUserID(c), id, c.Param("field"), req.Value)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *ShareHandler) Stats(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	window := time.Duration(queryInt64(c, "window_seconds")) * time.Second
	stats, err := h.access.GetStats(c.Request.Context(), getUserID(c), id, window)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, stats)
}

func (h *ShareHandler) Logs(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	logs, err := h.access.ListLogs(c.Request.Context(), getUserID(c), id, queryInt(c, "page"), queryInt(c, "size"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"items": logs})
}
