// Package handler 包含了处理 HTTP 请求的 Gin 处理器。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kazakh-hub/internal/middleware"
	"kazakh-hub/internal/model"
	"kazakh-hub/internal/repository"
	"kazakh-hub/internal/service"
	"kazakh-hub/pkg/log"
)

// CodeHandler 负责代码记录的创建和查询。
type CodeHandler struct {
	codeService service.CodeService
}

// NewCodeHandler 创建一个新的 CodeHandler 实例。
func NewCodeHandler(codeService service.CodeService) *CodeHandler {
	return &CodeHandler{codeService: codeService}
}

// Create 处理 POST /api/v1/codes。新建记录返回 201，幂等命中返回 200 和已有记录。
func (h *CodeHandler) Create(c *gin.Context) {
	var req model.CreateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[CodeHandler] 请求体解析失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "请求参数无效: " + err.Error()})
		return
	}
	author := middleware.Author(c)

	record, created, err := h.codeService.Create(c.Request.Context(), author, req)
	switch {
	case errors.Is(err, service.ErrInvalidRecord):
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	case errors.Is(err, service.ErrIdempotencyInFlight):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error()})
		return
	case err != nil:
		log.Errorf("[CodeHandler] 创建记录失败, author: %s, title: %s, error: %v", author, req.Title, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建记录失败"})
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"code": status, "message": "success", "data": record})
}

// Get 处理 GET /api/v1/codes/:id。文件夹容器会附带成员列表。
func (h *CodeHandler) Get(c *gin.Context) {
	id := c.Param("id")
	record, members, err := h.codeService.Get(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "记录不存在"})
		return
	}
	if err != nil {
		log.Errorf("[CodeHandler] 查询记录失败, id: %s, error: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询记录失败"})
		return
	}

	data := gin.H{"record": record}
	if record.IsFolder {
		data["files"] = members
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

// ListMine 处理 GET /api/v1/codes，返回当前作者的顶层记录。
func (h *CodeHandler) ListMine(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	records, err := h.codeService.ListByAuthor(c.Request.Context(), middleware.Author(c), limit)
	if err != nil {
		log.Errorf("[CodeHandler] 查询作者记录失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询记录失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": records})
}
