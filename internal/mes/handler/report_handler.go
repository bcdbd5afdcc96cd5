package handler

import (
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ReportHandler struct {
	svc    *service.ReportService
	actors *actorResolver
	logger *zap.Logger
}

// dateRange 解析 date_from / date_to 查询参数
func dateRange(c *gin.Context) (from, to *time.Time, err error) {
	if v := c.Query("date_from"); v != "" {
		d, err := service.ParseDate(v)
		if err != nil {
			return nil, nil, err
		}
		from = &d
	}
	if v := c.Query("date_to"); v != "" {
		d, err := service.ParseDate(v)
		if err != nil {
			return nil, nil, err
		}
		to = &d
	}
	return from, to, nil
}

// Export GET /shifts/:id/report
func (h *ReportHandler) Export(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		handleError(c, err)
		return
	}

	f, filename, err := h.svc.ExportShift(c.Request.Context(), h.actors.get(c), c.Param("id"), from, to)
	if err != nil {
		handleError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		h.logger.Error("Write shift report failed", zap.String("shift_id", c.Param("id")), zap.Error(err))
	}
}

// Archive POST /shifts/:id/report/archive
func (h *ReportHandler) Archive(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		handleError(c, err)
		return
	}

	key, err := h.svc.ArchiveShift(c.Request.Context(), h.actors.get(c), c.Param("id"), from, to)
	if err != nil {
		handleError(c, err)
		return
	}
	Created(c, gin.H{"key": key})
}
