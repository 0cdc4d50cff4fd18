package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kazakh-hub/internal/service"
	"kazakh-hub/pkg/log"
)

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 处理 GET /api/v1/codes/search。q 为空时按过滤条件返回最新记录。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	topK, err := strconv.Atoi(c.DefaultQuery("topK", "10"))
	if err != nil || topK <= 0 {
		topK = 10
	}
	filter := service.SearchFilter{
		Language: c.Query("language"),
		Author:   c.Query("author"),
		FolderID: c.Query("folderId"),
	}
	log.Infof("[SearchHandler] 收到搜索请求, q: %s, language: %s, topK: %d", query, filter.Language, topK)

	results, err := h.searchService.Search(c.Request.Context(), query, filter, topK)
	if err != nil {
		log.Errorf("[SearchHandler] 搜索服务返回错误, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "搜索失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": results})
}
