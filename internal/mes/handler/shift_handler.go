package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

type ShiftHandler struct {
	svc      *service.ShiftService
	sessions *service.SessionService
	actors   *actorResolver
}

// List GET /shifts
func (h *ShiftHandler) List(c *gin.Context) {
	actor := h.actors.get(c)
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"search":     c.Query("search"),
		"company_id": c.Query("company_id"),
		"user_id":    c.Query("user_id"),
	}

	items, total, err := h.svc.List(c.Request.Context(), actor, page, pageSize, filters)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, ListResponse{Items: items, Pagination: newPagination(page, pageSize, total)})
}

// Create POST /shifts
func (h *ShiftHandler) Create(c *gin.Context) {
	var req service.CreateShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	shift, err := h.svc.Create(c.Request.Context(), h.actors.get(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	Created(c, shift)
}

// Get GET /shifts/:id
func (h *ShiftHandler) Get(c *gin.Context) {
	shift, err := h.svc.Get(c.Request.Context(), h.actors.get(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, shift)
}

// Update PUT /shifts/:id
func (h *ShiftHandler) Update(c *gin.Context) {
	var req service.UpdateShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	shift, err := h.svc.Update(c.Request.Context(), h.actors.get(c), c.Param("id"), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, shift)
}

// Delete DELETE /shifts/:id
func (h *ShiftHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), h.actors.get(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	Success(c, nil)
}

// ListSessions GET /shifts/:id/sessions
func (h *ShiftHandler) ListSessions(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filter, err := sessionFilter(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	items, total, err := h.svc.ListSessions(c.Request.Context(), c.Param("id"), page, pageSize, filter)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, ListResponse{Items: items, Pagination: newPagination(page, pageSize, total)})
}

// Counters GET /shifts/:id/counters
func (h *ShiftHandler) Counters(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	actor := h.actors.get(c)

	shift, err := h.svc.Get(ctx, actor, id)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, shift.Counters)
}

// CurrentSession GET /shifts/:id/current-session
// 无进行中会话时 data 为 null
func (h *ShiftHandler) CurrentSession(c *gin.Context) {
	session, err := h.svc.CurrentSession(c.Request.Context(), h.actors.get(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{"session": session})
}

type rescueSessionRequest struct {
	ProductionDate string `json:"production_date"`
}

// RescueSession POST /shifts/:id/rescue-session
// 未指定日期时取操作人时区下的今天
func (h *ShiftHandler) RescueSession(c *gin.Context) {
	var req rescueSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "Invalid request: "+err.Error())
			return
		}
	}

	actor := h.actors.get(c)
	date := h.sessions.Today(actor)
	if req.ProductionDate != "" {
		d, err := service.ParseDate(req.ProductionDate)
		if err != nil {
			handleError(c, err)
			return
		}
		date = d
	}

	session, created, err := h.sessions.FindOrCreateRescueSession(c.Request.Context(), actor, c.Param("id"), date)
	if err != nil {
		handleError(c, err)
		return
	}
	if created {
		Created(c, gin.H{"session": session, "created": true})
		return
	}
	Success(c, gin.H{"session": session, "created": false})
}
