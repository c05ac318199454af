// Package imaging は画像のデコードと検出結果オーバーレイの描画を提供します。
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // jpg/jpegデコーダ登録
	"image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	_ "golang.org/x/image/bmp" // bmpデコーダ登録
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Box はオーバーレイに描画する1件のラベル付き検出領域です。
type Box struct {
	Rect  image.Rectangle // ピクセル座標のバウンディングボックス
	Label string          // 検出対象のラベル
	Score float64         // 信頼度 [0,1]
}

// DecodeRGB はpng/jpeg/bmpのバイト列をデコードし、3チャンネル相当のRGBA画像に変換します。
func DecodeRGB(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

// Annotate は検出ボックスとラベルを画像に描画し、PNGバイト列として返します。
// ボックスが0件の場合は空のバイト列を返します（オーバーレイなし）。
func Annotate(img image.Image, boxes []Box) ([]byte, error) {
	if len(boxes) == 0 {
		return nil, nil
	}

	dc := gg.NewContextForImage(img)
	face := truetype.NewFace(font, &truetype.Options{Size: 14})
	dc.SetFontFace(face)

	boxColor := color.RGBA{R: 255, G: 64, B: 64, A: 255}
	for _, b := range boxes {
		drawRectangleEmpty(dc, b.Rect, boxColor, 2)

		label := fmt.Sprintf("%s %.2f", b.Label, b.Score)
		// ラベルはボックス上端の少し上に置く。上にはみ出す場合はボックス内に置く
		y := float64(b.Rect.Min.Y) - 4
		if y < 14 {
			y = float64(b.Rect.Min.Y) + 16
		}
		dc.SetColor(boxColor)
		dc.DrawString(label, float64(b.Rect.Min.X), y)
	}

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

// drawRectangleEmpty は塗りつぶしなしの矩形をコンテキストに描画します。
func drawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)

	dc.DrawLine(float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Min.Y))
	dc.SetLineWidth(width)
	dc.Stroke()

	dc.DrawLine(float64(r.Min.X), float64(r.Min.Y), float64(r.Min.X), float64(r.Max.Y))
	dc.SetLineWidth(width)
	dc.Stroke()

	dc.DrawLine(float64(r.Max.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y))
	dc.SetLineWidth(width)
	dc.Stroke()

	dc.DrawLine(float64(r.Min.X), float64(r.Max.Y), float64(r.Max.X), float64(r.Max.Y))
	dc.SetLineWidth(width)
	dc.Stroke()
}
