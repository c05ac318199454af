// Package gemini はGoogle Gemini APIを使用した物体検出クライアントを提供します。
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"strings"

	"google.golang.org/genai"

	"heliostat_backend/internal/feature/classification/domain/entity"
	"heliostat_backend/internal/feature/classification/usecase"
	"heliostat_backend/internal/platform/imaging"
)

const (
	// DefaultModel はGemini APIのデフォルトモデルです。
	DefaultModel = "gemini-2.5-flash"

	// detectPrompt は検出結果を構造化JSONで返させるプロンプトです。
	// box_2dはGeminiの慣例に従い0〜1000に正規化された[ymin, xmin, ymax, xmax]です。
	detectPrompt = `Detect all prominent objects in the image. Return a JSON array where each ` +
		`element has "target" (object label), "box_2d" ([ymin, xmin, ymax, xmax] normalized ` +
		`to 0-1000) and "confidence" (0.0-1.0). Return [] if nothing is detected.`
)

// GeminiDetector はGoogle Gemini APIを使用して物体を検出します。
type GeminiDetector struct {
	client *genai.Client
	model  string
}

// GeminiDetectorがDetectorを実装していることをコンパイル時に検証します。
var _ usecase.Detector = (*GeminiDetector)(nil)

// NewGeminiDetector はADCを使用してGeminiDetectorの新しいインスタンスを生成します。
// 環境変数 GOOGLE_GENAI_USE_VERTEXAI, GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_LOCATION が必要です。
func NewGeminiDetector(ctx context.Context) (*GeminiDetector, error) {
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiDetector{client: client, model: DefaultModel}, nil
}

// Predict は画像から物体を検出し、正規化済みの検出リストと
// オーバーレイ描画済みのPNGバイト列を返します。
func (g *GeminiDetector) Predict(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error) {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, nil, fmt.Errorf("failed to encode image: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(buf.Bytes(), "image/png"),
			genai.NewPartFromText(detectPrompt),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini API request failed: %w", err)
	}

	detections, boxes, err := parseDetections(resp.Text(), confidence, img.Bounds())
	if err != nil {
		return nil, nil, err
	}

	annotated, err := imaging.Annotate(img, boxes)
	if err != nil {
		return nil, nil, err
	}
	return detections, annotated, nil
}

// geminiDetection はモデルが返すJSON要素の形です。
type geminiDetection struct {
	Target     string     `json:"target"`
	Box        [4]float64 `json:"box_2d"`
	Confidence float64    `json:"confidence"`
}

// parseDetections はモデルのJSON出力を検出スキーマに正規化します。
// 0〜1000の正規化座標をピクセル座標に変換し、しきい値未満の検出を除外します。
func parseDetections(text string, confidence float64, bounds image.Rectangle) ([]entity.Detection, []imaging.Box, error) {
	text = strings.TrimSpace(text)
	// 一部モデルはJSONをコードフェンスで包むため取り除く
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw []geminiDetection
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, nil, fmt.Errorf("gemini response is not valid detection JSON: %w", err)
	}

	width := float64(bounds.Dx())
	height := float64(bounds.Dy())

	detections := make([]entity.Detection, 0, len(raw))
	boxes := make([]imaging.Box, 0, len(raw))
	for _, d := range raw {
		if d.Confidence < confidence {
			continue
		}
		rect := image.Rect(
			bounds.Min.X+int(d.Box[1]/1000*width),
			bounds.Min.Y+int(d.Box[0]/1000*height),
			bounds.Min.X+int(d.Box[3]/1000*width),
			bounds.Min.Y+int(d.Box[2]/1000*height),
		)
		detections = append(detections, entity.Detection{
			Target:     d.Target,
			CenterX:    float64(rect.Min.X+rect.Max.X) / 2,
			CenterY:    float64(rect.Min.Y+rect.Max.Y) / 2,
			Confidence: d.Confidence,
		})
		boxes = append(boxes, imaging.Box{Rect: rect, Label: d.Target, Score: d.Confidence})
	}
	return detections, boxes, nil
}
