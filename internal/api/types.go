// Package api はHTTP境界のリクエスト/レスポンス型を定義します。
package api

// ErrorResponse はエラーレスポンスの共通DTOです。
type ErrorResponse struct {
	Error string `json:"error"`
}

// DetectionResponse は1件の検出結果のレスポンスDTOです。
type DetectionResponse struct {
	Target     string    `json:"target"`     // 検出対象のラベル
	Center     []float64 `json:"center"`     // バウンディングボックス中心 [x, y]
	Confidence float64   `json:"confidence"` // 信頼度 [0,1]
}

// ClassifyResponse は画像分類APIのレスポンスDTOです。
type ClassifyResponse struct {
	Filename       string              `json:"filename"`
	Detections     []DetectionResponse `json:"detections"`
	AnnotatedImage string              `json:"annotated_image"` // base64エンコードされたPNG（描画なしの場合は空文字）
	Cached         bool                `json:"cached"`          // ハッシュキャッシュにヒットした場合はtrue
}

// HistoryEntryResponse は履歴一覧の1行分のレスポンスDTOです。
type HistoryEntryResponse struct {
	Time       string  `json:"time"`
	Filename   string  `json:"filename"`
	Target     string  `json:"target"`
	CenterX    float64 `json:"center_x"`
	CenterY    float64 `json:"center_y"`
	Confidence float64 `json:"confidence"`
}

// HistoryResponse は履歴一覧APIのレスポンスDTOです。
type HistoryResponse struct {
	Results []HistoryEntryResponse `json:"results"`
}

// ExportEntryResponse はエクスポート用の1行分のレスポンスDTOです。
// 表示用の1始まりの連番IDを持ちます。
type ExportEntryResponse struct {
	ID         int     `json:"id"`
	Time       string  `json:"time"`
	Filename   string  `json:"filename"`
	Target     string  `json:"target"`
	CenterX    float64 `json:"center_x"`
	CenterY    float64 `json:"center_y"`
	Confidence float64 `json:"confidence"`
}

// ExportResponse は履歴エクスポートAPIのレスポンスDTOです。
type ExportResponse struct {
	Results []ExportEntryResponse `json:"results"`
	Total   int                   `json:"total"`
}
