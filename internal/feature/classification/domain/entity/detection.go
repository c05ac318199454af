// Package entity はclassificationフィーチャーのドメインエンティティを定義します。
package entity

import "time"

const (
	// TargetNone は検出結果が0件だったことを示す番兵レコードのラベルです。
	TargetNone = "none"

	// SentinelCenter は番兵レコードの中心座標に使用する値です。
	SentinelCenter = -1.0
)

// Detection はモデルが検出した1件のターゲットを表します。
type Detection struct {
	Target     string  // 検出対象のラベル
	CenterX    float64 // バウンディングボックス中心のX座標（ピクセル）
	CenterY    float64 // バウンディングボックス中心のY座標（ピクセル）
	Confidence float64 // 信頼度 [0,1]
}

// DetectionRecord は永続化される検出結果の1行を表します。
// 1回の分類リクエストは検出数Nに対してN行（検出0件の場合は番兵1行）を生成し、
// すべての行が同じFileHashとAnnotatedImageを共有します。行は追記専用で不変です。
type DetectionRecord struct {
	Filename       string    // アップロード時のファイル名（識別には使用しない）
	Target         string    // ラベル。"none"は検出0件の番兵
	CenterX        float64   // 中心X座標。番兵行は-1.0
	CenterY        float64   // 中心Y座標。番兵行は-1.0
	Confidence     float64   // 信頼度。番兵行は0.0
	FileHash       string    // アップロードされた生バイト列のMD5（16進）。キャッシュキー
	AnnotatedImage string    // base64エンコードされたPNGオーバーレイ。同一ハッシュの全行で同一
	CreatedAt      time.Time // 挿入時刻（サーバー採番）
}

// SentinelRecord は検出0件の画像に対する番兵レコードを生成します。
func SentinelRecord(filename, fileHash, annotatedImage string) DetectionRecord {
	return DetectionRecord{
		Filename:       filename,
		Target:         TargetNone,
		CenterX:        SentinelCenter,
		CenterY:        SentinelCenter,
		Confidence:     0.0,
		FileHash:       fileHash,
		AnnotatedImage: annotatedImage,
	}
}

// IsSentinel はこの行が「処理済み・検出なし」を表す番兵かどうかを返します。
func (r DetectionRecord) IsSentinel() bool {
	return r.Target == TargetNone
}

// ClassificationResult は分類APIが返す正規化済みの結果です。
type ClassificationResult struct {
	Filename       string
	Detections     []Detection
	AnnotatedImage string // base64エンコードされたPNG。描画なしの場合は空文字
	Cached         bool   // 既存のハッシュエントリを再利用した場合はtrue
}
