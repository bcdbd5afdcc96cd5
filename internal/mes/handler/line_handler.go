package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

type LineHandler struct {
	svc    *service.SessionLineService
	actors *actorResolver
}

type attachRequest struct {
	ProductionID string `json:"production_id"`
}

type recordRequest struct {
	Qty float64 `json:"qty"`
}

// Attach POST /sessions/:id/lines
func (h *LineHandler) Attach(c *gin.Context) {
	var req attachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	line, err := h.svc.Attach(c.Request.Context(), h.actors.get(c), c.Param("id"), req.ProductionID)
	if err != nil {
		handleError(c, err)
		return
	}
	Created(c, line)
}

// Get GET /session-lines/:id
func (h *LineHandler) Get(c *gin.Context) {
	line, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, line)
}

// Record POST /session-lines/:id/record
func (h *LineHandler) Record(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	line, err := h.svc.RecordQuantity(c.Request.Context(), h.actors.get(c), c.Param("id"), req.Qty)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, line)
}

// ReportProduction POST /production-reports
// 当日兜底会话已关闭时返回 40904，需先为该班次当日新建普通会话再报工
func (h *LineHandler) ReportProduction(c *gin.Context) {
	var req service.ReportProductionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	res, err := h.svc.ReportProduction(c.Request.Context(), h.actors.get(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	if res.RescueCreated {
		Created(c, res)
		return
	}
	Success(c, res)
}
