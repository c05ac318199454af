package usecase

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"heliostat_backend/internal/feature/classification/domain/entity"
	"heliostat_backend/internal/platform/imaging"
	"heliostat_backend/internal/shared/ratelimiter"
)

const (
	// DefaultConfidence は推論時のデフォルト信頼度しきい値です。
	DefaultConfidence = 0.25
	// MaxImageSize は画像アップロードの最大サイズ（10MB）です。
	MaxImageSize = 10 * 1024 * 1024
)

// allowedExtensions はアップロードを許可するファイル拡張子の集合です。
var allowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"bmp":  {},
}

// ResultRepository は検出結果の永続化レイヤーを抽象化します。
// Goの慣例に従い、インターフェースは利用者（usecase）側で定義します。
type ResultRepository interface {
	// Insert は検出結果の行を追記します。行は挿入後に変更されません。
	Insert(ctx context.Context, records []entity.DetectionRecord) error
	// FindByHash は指定ハッシュの全行を新しい順に返します。空スライスはキャッシュ未登録を意味します。
	FindByHash(ctx context.Context, fileHash string) ([]entity.DetectionRecord, error)
}

// Detector は不透明な推論モデルを抽象化します。
// デコード済みのRGB画像と信頼度しきい値を受け取り、正規化済みの検出リストと
// オーバーレイ描画済みの画像バイト列（描画なしの場合は空）を返します。
type Detector interface {
	Predict(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error)
}

// classificationUsecase は画像分類パイプラインを統括します。
// コンテンツハッシュをキーにResultRepositoryを照会し、
// ヒット時は保存済みの結果を再構成、ミス時のみDetectorを呼び出して結果を永続化します。
type classificationUsecase struct {
	results     ResultRepository
	detector    Detector
	rateLimiter ratelimiter.RateLimiterInterface
	confidence  float64
	group       singleflight.Group
}

// NewClassificationUsecase はclassificationUsecaseの新しいインスタンスを生成します。
// confidenceが範囲外（<=0または>1）の場合はDefaultConfidenceを使用します。
func NewClassificationUsecase(results ResultRepository, detector Detector, rl ratelimiter.RateLimiterInterface, confidence float64) *classificationUsecase {
	if confidence <= 0 || confidence > 1 {
		confidence = DefaultConfidence
	}
	return &classificationUsecase{
		results:     results,
		detector:    detector,
		rateLimiter: rl,
		confidence:  confidence,
	}
}

// Classify はアップロードされた生バイト列を分類します。
// 同一バイト列（同一MD5）の過去の結果があれば推論を実行せずに再利用します。
func (u *classificationUsecase) Classify(ctx context.Context, raw []byte, filename string) (*entity.ClassificationResult, error) {
	filename = sanitizeFilename(filename)
	if !allowedFile(filename) {
		return nil, ErrUnsupportedExtension
	}
	if len(raw) == 0 {
		return nil, ErrEmptyFile
	}
	if len(raw) > MaxImageSize {
		return nil, ErrFileTooLarge
	}

	sum := md5.Sum(raw)
	fileHash := hex.EncodeToString(sum[:])

	// 同一ハッシュの同時リクエストは1回の推論に相乗りし、重複挿入を防ぐ。
	// 代表リクエストのキャンセルが相乗り中の他リクエストまで道連れにしないよう、
	// 推論本体はリクエストのキャンセルから切り離したコンテキストで実行する
	v, err, _ := u.group.Do(fileHash, func() (any, error) {
		return u.classifyHash(context.WithoutCancel(ctx), raw, filename, fileHash)
	})
	if err != nil {
		return nil, err
	}
	return v.(*entity.ClassificationResult), nil
}

// classifyHash はハッシュ単位の分類本体です。singleflight配下で実行されます。
func (u *classificationUsecase) classifyHash(ctx context.Context, raw []byte, filename, fileHash string) (*entity.ClassificationResult, error) {
	rows, err := u.results.FindByHash(ctx, fileHash)
	if err != nil {
		return nil, fmt.Errorf("%w: find by hash: %v", ErrStorage, err)
	}
	if len(rows) > 0 {
		// キャッシュヒット。書き込みは発生しない
		return cachedResult(filename, rows), nil
	}

	img, err := imaging.DecodeRGB(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	if u.rateLimiter != nil {
		u.rateLimiter.WaitIfNeeded()
	}
	detections, annotatedBytes, err := u.detector.Predict(ctx, img, u.confidence)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	detections = normalize(detections)

	annotatedB64 := ""
	if len(annotatedBytes) > 0 {
		annotatedB64 = base64.StdEncoding.EncodeToString(annotatedBytes)
	}

	var records []entity.DetectionRecord
	if len(detections) == 0 {
		// 検出0件でも「処理済み」を表す番兵行を1行だけ残す
		records = []entity.DetectionRecord{entity.SentinelRecord(filename, fileHash, annotatedB64)}
	} else {
		records = make([]entity.DetectionRecord, 0, len(detections))
		for _, d := range detections {
			records = append(records, entity.DetectionRecord{
				Filename:       filename,
				Target:         d.Target,
				CenterX:        d.CenterX,
				CenterY:        d.CenterY,
				Confidence:     d.Confidence,
				FileHash:       fileHash,
				AnnotatedImage: annotatedB64,
			})
		}
	}
	if err := u.results.Insert(ctx, records); err != nil {
		return nil, fmt.Errorf("%w: insert results: %v", ErrStorage, err)
	}

	return &entity.ClassificationResult{
		Filename:       filename,
		Detections:     detections,
		AnnotatedImage: annotatedB64,
		Cached:         false,
	}, nil
}

// cachedResult は保存済みの行から分類結果を再構成します。
// 番兵行は検出リストから除外し、オーバーレイは最新行のものを採用します。
func cachedResult(filename string, rows []entity.DetectionRecord) *entity.ClassificationResult {
	detections := make([]entity.Detection, 0, len(rows))
	for _, r := range rows {
		if r.IsSentinel() {
			continue
		}
		detections = append(detections, entity.Detection{
			Target:     r.Target,
			CenterX:    r.CenterX,
			CenterY:    r.CenterY,
			Confidence: r.Confidence,
		})
	}
	return &entity.ClassificationResult{
		Filename:       filename,
		Detections:     detections,
		AnnotatedImage: rows[0].AnnotatedImage,
		Cached:         true,
	}
}

// normalize は検出リストをレスポンス/保存用のスキーマに整えます。
func normalize(detections []entity.Detection) []entity.Detection {
	out := make([]entity.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Target == "" {
			d.Target = "unknown"
		}
		out = append(out, d)
	}
	return out
}

// sanitizeFilename はパス区切りを取り除き、ベース名のみを残します。
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return filepath.Base(name)
}

// allowedFile は拡張子が許可リストに含まれるか判定します（大文字小文字は区別しない）。
func allowedFile(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return false
	}
	_, ok := allowedExtensions[ext]
	return ok
}
