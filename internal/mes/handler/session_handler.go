package handler

import (
	"context"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	svc    *service.SessionService
	actors *actorResolver
}

// List GET /sessions
func (h *SessionHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filter, err := sessionFilter(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	items, total, err := h.svc.List(c.Request.Context(), page, pageSize, filter)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, ListResponse{Items: items, Pagination: newPagination(page, pageSize, total)})
}

// Create POST /sessions
func (h *SessionHandler) Create(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	session, err := h.svc.Create(c.Request.Context(), h.actors.get(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	Created(c, session)
}

// Get GET /sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, session)
}

// Update PUT /sessions/:id
func (h *SessionHandler) Update(c *gin.Context) {
	var req service.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	session, err := h.svc.Update(c.Request.Context(), h.actors.get(c), c.Param("id"), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, session)
}

// Delete DELETE /sessions/:id
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), h.actors.get(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	Success(c, nil)
}

type transitionFunc func(ctx context.Context, actor service.Actor, id string) (*entity.Session, error)

func (h *SessionHandler) transition(c *gin.Context, fn transitionFunc) {
	session, err := fn(c.Request.Context(), h.actors.get(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, session)
}

// Confirm POST /sessions/:id/confirm
func (h *SessionHandler) Confirm(c *gin.Context) {
	h.transition(c, h.svc.Confirm)
}

// MarkProduced POST /sessions/:id/produce
func (h *SessionHandler) MarkProduced(c *gin.Context) {
	h.transition(c, h.svc.MarkProduced)
}

// Close POST /sessions/:id/close
func (h *SessionHandler) Close(c *gin.Context) {
	h.transition(c, h.svc.Close)
}

// Activities GET /sessions/:id/activities
func (h *SessionHandler) Activities(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.Activities(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, ListResponse{Items: items, Pagination: newPagination(page, pageSize, total)})
}
