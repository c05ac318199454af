// Package vision はGoogle Cloud Vision APIを使用した物体検出クライアントを提供します。
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	gvision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"heliostat_backend/internal/feature/classification/domain/entity"
	"heliostat_backend/internal/feature/classification/usecase"
	"heliostat_backend/internal/platform/imaging"
)

// VisionDetector はGoogle Cloud Vision APIのオブジェクトローカライズで物体を検出します。
type VisionDetector struct {
	client *gvision.ImageAnnotatorClient
}

// VisionDetectorがDetectorを実装していることをコンパイル時に検証します。
var _ usecase.Detector = (*VisionDetector)(nil)

// NewVisionDetector はADCを使用してVisionDetectorの新しいインスタンスを生成します。
func NewVisionDetector(ctx context.Context) (*VisionDetector, error) {
	client, err := gvision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return &VisionDetector{client: client}, nil
}

// Close はVision APIクライアントを解放します。
func (v *VisionDetector) Close() error {
	return v.client.Close()
}

// Predict は画像から物体を検出し、正規化済みの検出リストと
// オーバーレイ描画済みのPNGバイト列を返します。
func (v *VisionDetector) Predict(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error) {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, nil, fmt.Errorf("failed to encode image: %w", err)
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: buf.Bytes()},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_OBJECT_LOCALIZATION},
				},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("vision API request failed: %w", err)
	}

	if len(resp.Responses) == 0 {
		return nil, nil, nil
	}
	if resp.Responses[0].Error != nil {
		return nil, nil, fmt.Errorf("vision API error: %s", resp.Responses[0].Error.Message)
	}

	bounds := img.Bounds()
	width := float64(bounds.Dx())
	height := float64(bounds.Dy())

	annotations := resp.Responses[0].LocalizedObjectAnnotations
	detections := make([]entity.Detection, 0, len(annotations))
	boxes := make([]imaging.Box, 0, len(annotations))
	for _, a := range annotations {
		score := float64(a.Score)
		if score < confidence {
			continue
		}
		rect := polyToRect(a.BoundingPoly, width, height, bounds.Min)
		detections = append(detections, entity.Detection{
			Target:     a.Name,
			CenterX:    float64(rect.Min.X+rect.Max.X) / 2,
			CenterY:    float64(rect.Min.Y+rect.Max.Y) / 2,
			Confidence: score,
		})
		boxes = append(boxes, imaging.Box{Rect: rect, Label: a.Name, Score: score})
	}

	annotated, err := imaging.Annotate(img, boxes)
	if err != nil {
		return nil, nil, err
	}
	return detections, annotated, nil
}

// polyToRect は正規化座標（[0,1]）のバウンディングポリゴンをピクセル矩形に変換します。
func polyToRect(poly *visionpb.BoundingPoly, width, height float64, min image.Point) image.Rectangle {
	if poly == nil || len(poly.NormalizedVertices) == 0 {
		return image.Rectangle{}
	}
	minX, minY := 1.0, 1.0
	maxX, maxY := 0.0, 0.0
	for _, v := range poly.NormalizedVertices {
		x := float64(v.X)
		y := float64(v.Y)
		if x < minX {
			minX = x
		}
		if y < minY {
			minY = y
		}
		if x > maxX {
			maxX = x
		}
		if y > maxY {
			maxY = y
		}
	}
	return image.Rect(
		min.X+int(minX*width),
		min.Y+int(minY*height),
		min.X+int(maxX*width),
		min.Y+int(maxY*height),
	)
}
