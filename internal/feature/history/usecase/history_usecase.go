// Package usecase はhistoryフィーチャーのビジネスロジックを実装します。
package usecase

import (
	"context"

	classentity "heliostat_backend/internal/feature/classification/domain/entity"
	"heliostat_backend/internal/feature/history/domain/entity"
)

const (
	// DefaultLimit は履歴クエリのデフォルト返却件数です。
	DefaultLimit = 50
	// MinLimit は履歴クエリの最小返却件数です。
	MinLimit = 1
	// MaxLimit は履歴クエリの最大返却件数です。
	MaxLimit = 200
	// ExportLimit はエクスポート時の実質無制限の上限です。
	ExportLimit = 100000
)

// HistoryRepository は検出結果の読み取りレイヤーを抽象化します。
// Goの慣例に従い、インターフェースは利用者（usecase）側で定義します。
type HistoryRepository interface {
	// List は最新順の行を返します。searchが空でない場合はファイル名の部分一致で絞り込みます。
	List(ctx context.Context, limit int, search string) ([]classentity.DetectionRecord, error)
}

// historyUsecase は検出履歴の読み取り専用プロジェクションを提供します。
type historyUsecase struct {
	history HistoryRepository
}

// NewHistoryUsecase はhistoryUsecaseの新しいインスタンスを生成します。
func NewHistoryUsecase(history HistoryRepository) *historyUsecase {
	return &historyUsecase{history: history}
}

// List は最新順の履歴を返します。limitは[MinLimit, MaxLimit]に丸められます。
func (u *historyUsecase) List(ctx context.Context, limit int, search string) ([]entity.Entry, error) {
	if limit < MinLimit {
		limit = MinLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := u.history.List(ctx, limit, search)
	if err != nil {
		return nil, err
	}

	out := make([]entity.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, toEntry(r))
	}
	return out, nil
}

// Export は件数上限なし相当で履歴を返し、表示用の1始まりの連番を付与します。
func (u *historyUsecase) Export(ctx context.Context, search string) ([]entity.ExportEntry, error) {
	rows, err := u.history.List(ctx, ExportLimit, search)
	if err != nil {
		return nil, err
	}

	out := make([]entity.ExportEntry, 0, len(rows))
	for i, r := range rows {
		out = append(out, entity.ExportEntry{ID: i + 1, Entry: toEntry(r)})
	}
	return out, nil
}

func toEntry(r classentity.DetectionRecord) entity.Entry {
	return entity.Entry{
		Time:       r.CreatedAt,
		Filename:   r.Filename,
		Target:     r.Target,
		CenterX:    r.CenterX,
		CenterY:    r.CenterY,
		Confidence: r.Confidence,
	}
}
