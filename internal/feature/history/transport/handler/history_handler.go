// Package handler はhistoryフィーチャーのHTTPハンドラーを提供します。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"heliostat_backend/internal/api"
	"heliostat_backend/internal/feature/history/domain/entity"
)

// timeFormat は履歴レスポンスの時刻表記です。
const timeFormat = "2006-01-02 15:04:05"

// HistoryUsecase は検出履歴のユースケースインターフェースを定義します。
// Goの慣例に従い、インターフェースは利用者（handler）側で定義します。
type HistoryUsecase interface {
	List(ctx context.Context, limit int, search string) ([]entity.Entry, error)
	Export(ctx context.Context, search string) ([]entity.ExportEntry, error)
}

// HistoryHandler は検出履歴のHTTPリクエストを処理します。
type HistoryHandler struct {
	uc HistoryUsecase
}

// NewHistoryHandler はHistoryHandlerの新しいインスタンスを生成します。
func NewHistoryHandler(uc HistoryUsecase) *HistoryHandler {
	return &HistoryHandler{uc: uc}
}

// List は検出履歴の一覧を返します。
//
// エンドポイント例:
// GET /api/history?limit=50&search=foo
func (h *HistoryHandler) List(c *gin.Context) {
	// 未指定・数値でない場合はデフォルト値にフォールバック（エラーにはしない）
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		limit = 50
	}
	search := c.Query("search")

	entries, err := h.uc.List(c.Request.Context(), limit, search)
	if err != nil {
		slog.Error("履歴の取得に失敗", "error", err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "履歴の取得に失敗しました"})
		return
	}

	results := make([]api.HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		results = append(results, api.HistoryEntryResponse{
			Time:       e.Time.Format(timeFormat),
			Filename:   e.Filename,
			Target:     e.Target,
			CenterX:    e.CenterX,
			CenterY:    e.CenterY,
			Confidence: e.Confidence,
		})
	}
	c.JSON(http.StatusOK, api.HistoryResponse{Results: results})
}

// Export は検出履歴の全件を連番付きで返します。
//
// エンドポイント例:
// GET /api/history/export?search=foo
func (h *HistoryHandler) Export(c *gin.Context) {
	search := c.Query("search")

	entries, err := h.uc.Export(c.Request.Context(), search)
	if err != nil {
		slog.Error("履歴のエクスポートに失敗", "error", err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "履歴のエクスポートに失敗しました"})
		return
	}

	results := make([]api.ExportEntryResponse, 0, len(entries))
	for _, e := range entries {
		results = append(results, api.ExportEntryResponse{
			ID:         e.ID,
			Time:       e.Time.Format(timeFormat),
			Filename:   e.Filename,
			Target:     e.Target,
			CenterX:    e.CenterX,
			CenterY:    e.CenterY,
			Confidence: e.Confidence,
		})
	}
	c.JSON(http.StatusOK, api.ExportResponse{Results: results, Total: len(results)})
}
