// Package entity はhistoryフィーチャーのドメインエンティティを定義します。
package entity

import "time"

// Entry は履歴一覧の1行です。分類のキャッシュヒット経路と異なり、
// 検出0件を表す番兵行（target="none"）もそのまま含まれます。
type Entry struct {
	Time       time.Time
	Filename   string
	Target     string
	CenterX    float64
	CenterY    float64
	Confidence float64
}

// ExportEntry はエクスポート用の1行で、表示用の1始まりの連番を持ちます。
type ExportEntry struct {
	ID int
	Entry
}
