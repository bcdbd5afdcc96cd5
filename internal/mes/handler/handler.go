package handler

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers MES处理器集合
type Handlers struct {
	Shift    *ShiftHandler
	Session  *SessionHandler
	Line     *LineHandler
	Workline *WorklineHandler
	Report   *ReportHandler
	Admin    *AdminHandler
	SSE      *SSEHandler
}

// NewHandlers 创建MES处理器集合，defaultLoc 为令牌未携带时区时使用的时区
func NewHandlers(svc *service.Services, hub *sse.Hub, defaultLoc *time.Location, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &actorResolver{defaultLoc: defaultLoc}
	return &Handlers{
		Shift:    &ShiftHandler{svc: svc.Shift, sessions: svc.Session, actors: a},
		Session:  &SessionHandler{svc: svc.Session, actors: a},
		Line:     &LineHandler{svc: svc.Line, actors: a},
		Workline: &WorklineHandler{svc: svc.Workline, actors: a},
		Report:   &ReportHandler{svc: svc.Report, actors: a, logger: logger},
		Admin:    &AdminHandler{svc: svc.Recompute, logger: logger},
		SSE:      NewSSEHandler(hub),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func newPagination(page, pageSize int, total int64) *Pagination {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return &Pagination{Page: page, PageSize: pageSize, Total: int(total), TotalPages: totalPages}
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// 业务错误码
var errorCodes = []struct {
	err  error
	code int
}{
	{service.ErrRequiredField, 40001},
	{service.ErrInvalidCode, 40002},
	{service.ErrInvalidDate, 40003},
	{service.ErrInvalidQuantity, 40004},
	{service.ErrInvalidTransition, 40005},
	{service.ErrNotFound, 40400},
	{service.ErrDuplicateCode, 40901},
	{service.ErrDuplicateSession, 40902},
	{service.ErrDuplicateLine, 40903},
	{service.ErrSessionClosed, 40904},
	{service.ErrInUse, 40905},
	{service.ErrArchiveDisabled, 50301},
}

// handleError 将服务层错误映射为响应
func handleError(c *gin.Context, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			Error(c, e.code, err.Error())
			return
		}
	}
	InternalError(c, err.Error())
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	return c.GetString(middleware.CtxUserID)
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// actorResolver 从请求上下文构造操作人
type actorResolver struct {
	defaultLoc *time.Location
}

func (a *actorResolver) get(c *gin.Context) service.Actor {
	return service.Actor{
		UserID:    c.GetString(middleware.CtxUserID),
		UserName:  c.GetString(middleware.CtxUserName),
		CompanyID: c.GetString(middleware.CtxCompanyID),
		Location:  service.LoadLocation(c.GetString(middleware.CtxTimezone), a.defaultLoc),
	}
}

// sessionFilter 解析会话列表的查询参数
func sessionFilter(c *gin.Context) (repository.SessionFilter, error) {
	f := repository.SessionFilter{
		ShiftID:    c.Query("shift_id"),
		WorklineID: c.Query("workline_id"),
		State:      c.Query("state"),
		UserID:     c.Query("user_id"),
	}
	if v := c.Query("date_from"); v != "" {
		d, err := service.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.DateFrom = &d
	}
	if v := c.Query("date_to"); v != "" {
		d, err := service.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.DateTo = &d
	}
	if v := c.Query("rescue"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("rescue must be true or false")
		}
		f.Rescue = &b
	}
	return f, nil
}

// splitIDs 解析逗号分隔的ID列表
func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}
