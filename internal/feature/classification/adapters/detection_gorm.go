// Package adapters はclassificationフィーチャーの永続化アダプタを提供します。
package adapters

import (
	"context"
	"time"

	"gorm.io/gorm"

	"heliostat_backend/internal/feature/classification/domain/entity"
	"heliostat_backend/internal/feature/classification/usecase"
)

type detectionGorm struct {
	db *gorm.DB
}

var _ usecase.ResultRepository = (*detectionGorm)(nil)

// NewDetectionRepository は検出結果リポジトリの新しいインスタンスを生成します。
func NewDetectionRepository(db *gorm.DB) *detectionGorm {
	return &detectionGorm{db: db}
}

// DetectionModel はdetection_resultsテーブルの1行を表すGORMモデルです。
// AutoMigrateにより、旧スキーマにfile_hash/annotated_image列がない場合も
// 非破壊的に追加されます（起動ごとに実行しても安全）。
type DetectionModel struct {
	ID             uint    `gorm:"primaryKey"`
	Filename       string  `gorm:"size:255;not null"`
	Target         string  `gorm:"size:64;not null"`
	CenterX        float64 `gorm:"not null"`
	CenterY        float64 `gorm:"not null"`
	Confidence     float64 `gorm:"not null"`
	FileHash       string  `gorm:"size:32;index"`
	AnnotatedImage string  `gorm:"type:text"`
	CreatedAt      time.Time
}

func (DetectionModel) TableName() string {
	return "detection_results"
}

func toModel(r entity.DetectionRecord) DetectionModel {
	return DetectionModel{
		Filename:       r.Filename,
		Target:         r.Target,
		CenterX:        r.CenterX,
		CenterY:        r.CenterY,
		Confidence:     r.Confidence,
		FileHash:       r.FileHash,
		AnnotatedImage: r.AnnotatedImage,
	}
}

func toRecord(m DetectionModel) entity.DetectionRecord {
	return entity.DetectionRecord{
		Filename:       m.Filename,
		Target:         m.Target,
		CenterX:        m.CenterX,
		CenterY:        m.CenterY,
		Confidence:     m.Confidence,
		FileHash:       m.FileHash,
		AnnotatedImage: m.AnnotatedImage,
		CreatedAt:      m.CreatedAt,
	}
}

// Insert は検出結果の行をまとめて追記します。1回のCreateで挿入されるため、
// 同一リクエストの行が部分的に書き込まれることはありません。
func (r *detectionGorm) Insert(ctx context.Context, records []entity.DetectionRecord) error {
	if len(records) == 0 {
		return nil
	}
	ms := make([]DetectionModel, 0, len(records))
	for _, rec := range records {
		ms = append(ms, toModel(rec))
	}
	return r.db.WithContext(ctx).Create(&ms).Error
}

// FindByHash は指定ハッシュの全行を新しい順に返します。
// 同一バッチ内はcreated_atが同値になりうるため、idを第2ソートキーにします。
func (r *detectionGorm) FindByHash(ctx context.Context, fileHash string) ([]entity.DetectionRecord, error) {
	var rows []DetectionModel
	err := r.db.WithContext(ctx).
		Where("file_hash = ?", fileHash).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]entity.DetectionRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, toRecord(m))
	}
	return out, nil
}

// List は最新順の行を返します。searchが空でない場合はファイル名の部分一致で絞り込みます。
// 上限の丸め込みは呼び出し側（history usecase）の責務です。
func (r *detectionGorm) List(ctx context.Context, limit int, search string) ([]entity.DetectionRecord, error) {
	var rows []DetectionModel
	q := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if search != "" {
		q = q.Where("filename LIKE ?", "%"+search+"%")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]entity.DetectionRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, toRecord(m))
	}
	return out, nil
}
