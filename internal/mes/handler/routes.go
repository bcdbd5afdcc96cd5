package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
)

// 权限点
const (
	PermRead  = "mes.read"
	PermWrite = "mes.write"
	PermAdmin = "mes.admin"
)

// RegisterRoutes 注册MES路由，group 需已挂载JWT认证
func RegisterRoutes(group *gin.RouterGroup, h *Handlers) {
	read := middleware.RequirePermission(PermRead)
	write := middleware.RequirePermission(PermWrite)

	worklines := group.Group("/worklines")
	{
		worklines.GET("", read, h.Workline.List)
		worklines.POST("", write, h.Workline.Create)
		worklines.POST("/import", write, h.Workline.Import)
		worklines.GET("/:id", read, h.Workline.Get)
		worklines.PUT("/:id", write, h.Workline.Update)
		worklines.DELETE("/:id", write, h.Workline.Delete)
	}

	shifts := group.Group("/shifts")
	{
		shifts.GET("", read, h.Shift.List)
		shifts.POST("", write, h.Shift.Create)
		shifts.GET("/:id", read, h.Shift.Get)
		shifts.PUT("/:id", write, h.Shift.Update)
		shifts.DELETE("/:id", write, h.Shift.Delete)
		shifts.GET("/:id/sessions", read, h.Shift.ListSessions)
		shifts.GET("/:id/counters", read, h.Shift.Counters)
		shifts.GET("/:id/current-session", read, h.Shift.CurrentSession)
		shifts.POST("/:id/rescue-session", write, h.Shift.RescueSession)
		shifts.GET("/:id/report", read, h.Report.Export)
		shifts.POST("/:id/report/archive", write, h.Report.Archive)
	}

	sessions := group.Group("/sessions")
	{
		sessions.GET("", read, h.Session.List)
		sessions.POST("", write, h.Session.Create)
		sessions.GET("/:id", read, h.Session.Get)
		sessions.PUT("/:id", write, h.Session.Update)
		sessions.DELETE("/:id", write, h.Session.Delete)
		sessions.POST("/:id/confirm", write, h.Session.Confirm)
		sessions.POST("/:id/produce", write, h.Session.MarkProduced)
		sessions.POST("/:id/close", write, h.Session.Close)
		sessions.GET("/:id/activities", read, h.Session.Activities)
		sessions.POST("/:id/lines", write, h.Line.Attach)
	}

	group.GET("/session-lines/:id", read, h.Line.Get)
	group.POST("/session-lines/:id/record", write, h.Line.Record)
	group.POST("/production-reports", write, h.Line.ReportProduction)

	group.POST("/admin/recompute", middleware.RequirePermission(PermAdmin), h.Admin.Recompute)

	group.GET("/events", read, h.SSE.Stream)
}
