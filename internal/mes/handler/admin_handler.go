package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	svc    *service.RecomputeService
	logger *zap.Logger
}

// Recompute POST /admin/recompute?shift_ids=a,b
// 未指定班次时重算全部
func (h *AdminHandler) Recompute(c *gin.Context) {
	shiftIDs := splitIDs(c.Query("shift_ids"))

	res, err := h.svc.Recompute(c.Request.Context(), shiftIDs...)
	if err != nil {
		handleError(c, err)
		return
	}

	h.logger.Info("Recomputed session names",
		zap.Strings("shift_ids", shiftIDs),
		zap.Int("sessions", res.Sessions),
		zap.Int("lines", res.Lines),
		zap.Int("changed", res.Changed),
		zap.String("operator", GetUserID(c)),
	)
	Success(c, res)
}
