package handler

import (
	"github.com/gin-gonic/gin"

	"kazakh-hub/internal/middleware"
	"kazakh-hub/internal/realtime"
	"kazakh-hub/internal/service"
	"kazakh-hub/pkg/token"
)

// NewRouter 注册全部路由。调用方负责 gin.SetMode。
func NewRouter(jwtManager *token.JWTManager, codeService service.CodeService, searchService service.SearchService, hub *realtime.Hub) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", Health)
	r.GET("/ws/refresh", middleware.AuthMiddleware(jwtManager), NewRefreshHandler(hub).Handle)

	apiV1 := r.Group("/api/v1")
	codes := apiV1.Group("/codes")
	codes.Use(middleware.AuthMiddleware(jwtManager))
	{
		codeHandler := NewCodeHandler(codeService)
		codes.POST("", codeHandler.Create)
		codes.GET("", codeHandler.ListMine)
		codes.GET("/search", NewSearchHandler(searchService).Search)
		codes.GET("/:id", codeHandler.Get)
	}
	return r
}
