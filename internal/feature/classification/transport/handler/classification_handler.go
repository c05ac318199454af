// Package handler はclassificationフィーチャーのHTTPハンドラーを提供します。
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"heliostat_backend/internal/api"
	"heliostat_backend/internal/feature/classification/domain/entity"
	"heliostat_backend/internal/feature/classification/usecase"
)

// ClassificationUsecase は画像分類のユースケースインターフェースを定義します。
// Goの慣例に従い、インターフェースは利用者（handler）側で定義します。
type ClassificationUsecase interface {
	Classify(ctx context.Context, raw []byte, filename string) (*entity.ClassificationResult, error)
}

// ClassificationHandler は画像分類のHTTPリクエストを処理します。
type ClassificationHandler struct {
	uc ClassificationUsecase
}

// NewClassificationHandler はClassificationHandlerの新しいインスタンスを生成します。
func NewClassificationHandler(uc ClassificationUsecase) *ClassificationHandler {
	return &ClassificationHandler{uc: uc}
}

// Classify は画像をアップロードして分類を実行します。
//
// エンドポイント: POST /api/classify
// Content-Type: multipart/form-data
// フィールド: file（画像ファイル、png/jpg/jpeg/bmp、最大10MB）
func (h *ClassificationHandler) Classify(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		slog.Warn("ファイルフィールドの取得に失敗", "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "ファイルフィールド file が必要です"})
		return
	}
	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "ファイルが選択されていません"})
		return
	}

	f, err := file.Open()
	if err != nil {
		slog.Error("ファイルのオープンに失敗", "error", err, "filename", file.Filename)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "ファイルの読み込みに失敗しました"})
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("ファイルのクローズに失敗", "error", err)
		}
	}()

	raw, err := io.ReadAll(f)
	if err != nil {
		slog.Error("ファイルの読み取りに失敗", "error", err, "filename", file.Filename)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "ファイルの読み込みに失敗しました"})
		return
	}

	result, err := h.uc.Classify(c.Request.Context(), raw, file.Filename)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrUnsupportedExtension):
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "png/jpg/jpeg/bmp 形式のファイルのみ対応しています"})
		case errors.Is(err, usecase.ErrEmptyFile):
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "アップロードされたファイルが空です"})
		case errors.Is(err, usecase.ErrFileTooLarge):
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "ファイルサイズが上限を超えています"})
		default:
			// 推論・永続化の失敗。原因メッセージをそのまま返す
			slog.Error("分類に失敗", "error", err, "filename", file.Filename)
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: err.Error()})
		}
		return
	}

	out := make([]api.DetectionResponse, 0, len(result.Detections))
	for _, d := range result.Detections {
		out = append(out, api.DetectionResponse{
			Target:     d.Target,
			Center:     []float64{d.CenterX, d.CenterY},
			Confidence: d.Confidence,
		})
	}
	c.JSON(http.StatusOK, api.ClassifyResponse{
		Filename:       result.Filename,
		Detections:     out,
		AnnotatedImage: result.AnnotatedImage,
		Cached:         result.Cached,
	})
}
