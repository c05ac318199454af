package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	classificationhandler "heliostat_backend/internal/feature/classification/transport/handler"
	historyhandler "heliostat_backend/internal/feature/history/transport/handler"
	"heliostat_backend/internal/platform/http/handler"
)

func NewRouter(classification *classificationhandler.ClassificationHandler,
	history *historyhandler.HistoryHandler) *gin.Engine {
	r := gin.Default()

	// CORS追加（フロントエンドは別オリジンで動作する）
	r.Use(cors.Default())

	api := r.Group("/api")
	{
		// 導通確認用
		api.GET("/health", handler.Health)
		// 画像アップロード・分類
		api.POST("/classify", classification.Classify)
		// 履歴一覧（limit/searchクエリ対応）
		api.GET("/history", history.List)
		// 履歴の全件エクスポート
		api.GET("/history/export", history.Export)
	}

	return r
}
