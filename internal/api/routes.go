package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"cvSync/internal/api/middleware"
	"cvSync/internal/config"
	"cvSync/internal/cv"
	"cvSync/internal/cvstore"
	"cvSync/internal/realtime"
)

// Deps 汇总路由所需的依赖。
type Deps struct {
	Store          *cvstore.Store
	Editor         Editor
	Viewer         Viewer
	Bus            *realtime.Bus
	Clock          *cv.Clock
	Tokens         middleware.TokenValidator
	Objects        ObjectStore
	Tasks          TaskEnqueuer
	Scanner        Scanner
	Languages      []cv.Language
	Upload         config.UploadConfig
	Session        realtime.SessionConfig
	AllowedOrigins []string
	Logger         *slog.Logger
}

// RegisterRoutes 注册 /v1 业务接口与 /ws 实时通道。
func RegisterRoutes(router *gin.Engine, deps Deps) {
	cvHandler := NewCVHandler(deps.Store, deps.Editor, deps.Viewer, deps.Languages)
	uploadHandler := NewUploadHandler(deps.Store, deps.Objects, deps.Tasks, deps.Scanner, deps.Upload.MaxVideoBytes, deps.Upload.MaxCertificateBytes)
	wsHandler := NewWsHandler(deps.Viewer, deps.Bus, deps.Clock, deps.Languages, deps.Session, deps.Logger, deps.AllowedOrigins)
	authMiddleware := middleware.AuthMiddleware(deps.Tokens)

	router.GET("/ws/cv/:template_id/:id/:share_key/:lang", wsHandler.HandleConnection)

	v1 := router.Group("/v1")
	{
		v1.GET("/cvs/:id/:share_key/:lang", cvHandler.ViewCV)

		cvGroup := v1.Group("/cvs")
		cvGroup.Use(authMiddleware)
		{
			cvGroup.POST("", cvHandler.CreateCV)
			cvGroup.GET("/:id", cvHandler.GetCV)
			cvGroup.PATCH("/:id", cvHandler.UpdateCV)
			cvGroup.POST("/:id/upload-video", uploadHandler.UploadVideo)
			cvGroup.POST("/:id/upload-certificate", uploadHandler.UploadCertificate)
		}
	}
}
