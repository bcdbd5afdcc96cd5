package handler

import (
	"io"
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

type WorklineHandler struct {
	svc    *service.WorklineService
	actors *actorResolver
}

// List GET /worklines
func (h *WorklineHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{"search": c.Query("search")}

	items, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, ListResponse{Items: items, Pagination: newPagination(page, pageSize, total)})
}

// Create POST /worklines
func (h *WorklineHandler) Create(c *gin.Context) {
	var req service.CreateWorklineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	wl, err := h.svc.Create(c.Request.Context(), h.actors.get(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	Created(c, wl)
}

// Get GET /worklines/:id
func (h *WorklineHandler) Get(c *gin.Context) {
	wl, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, wl)
}

// Update PUT /worklines/:id
func (h *WorklineHandler) Update(c *gin.Context) {
	var req service.UpdateWorklineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	wl, err := h.svc.Update(c.Request.Context(), h.actors.get(c), c.Param("id"), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, wl)
}

// Delete DELETE /worklines/:id
func (h *WorklineHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), h.actors.get(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	Success(c, nil)
}

// Import POST /worklines/import?encoding=gbk
// 支持 multipart 的 file 字段，或直接以 text/csv 作为请求体
func (h *WorklineHandler) Import(c *gin.Context) {
	var reader io.Reader
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			BadRequest(c, "请上传CSV文件")
			return
		}
		defer file.Close()
		reader = file
	} else {
		reader = c.Request.Body
	}

	result, err := h.svc.Import(c.Request.Context(), h.actors.get(c), reader, c.Query("encoding"))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, result)
}
