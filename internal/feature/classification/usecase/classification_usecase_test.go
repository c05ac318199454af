package usecase

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heliostat_backend/internal/feature/classification/domain/entity"
)

// mockResultRepository はResultRepositoryのテスト用モック実装です。
// rowsに挿入済みの行を保持し、FindByHashで返します。
type mockResultRepository struct {
	mu        sync.Mutex
	rows      []entity.DetectionRecord
	insertErr error
	findErr   error
	inserts   int
}

func (m *mockResultRepository) Insert(ctx context.Context, records []entity.DetectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserts++
	// 新しい順を保つため先頭に追加
	m.rows = append(append([]entity.DetectionRecord{}, records...), m.rows...)
	return nil
}

func (m *mockResultRepository) FindByHash(ctx context.Context, fileHash string) ([]entity.DetectionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	out := make([]entity.DetectionRecord, 0, len(m.rows))
	for _, r := range m.rows {
		if r.FileHash == fileHash {
			out = append(out, r)
		}
	}
	return out, nil
}

// mockDetector はDetectorのテスト用モック実装です。
type mockDetector struct {
	predictFn func(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error)
	calls     atomic.Int32
}

func (m *mockDetector) Predict(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error) {
	m.calls.Add(1)
	if m.predictFn != nil {
		return m.predictFn(ctx, img, confidence)
	}
	return nil, nil, nil
}

// makePNG はデコード可能な小さなPNGバイト列を生成するヘルパー関数です。
func makePNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 255, A: 255})
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func hashOf(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

func TestClassify_CacheMiss_PersistsDetections(t *testing.T) {
	t.Parallel()

	raw := makePNG(t)
	annotated := []byte("annotated-png-bytes")
	repo := &mockResultRepository{}
	detector := &mockDetector{
		predictFn: func(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error) {
			assert.InDelta(t, DefaultConfidence, confidence, 1e-9)
			return []entity.Detection{
				{Target: "cat", CenterX: 10, CenterY: 20, Confidence: 0.9},
				{Target: "dog", CenterX: 30, CenterY: 40, Confidence: 0.6},
			}, annotated, nil
		},
	}

	uc := NewClassificationUsecase(repo, detector, nil, 0)
	result, err := uc.Classify(context.Background(), raw, "heliostat.png")

	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, "heliostat.png", result.Filename)
	assert.Len(t, result.Detections, 2)
	assert.Equal(t, base64.StdEncoding.EncodeToString(annotated), result.AnnotatedImage)

	// 検出1件につき1行、全行が同じハッシュとオーバーレイを共有する
	assert.Equal(t, 1, repo.inserts)
	require.Len(t, repo.rows, 2)
	for _, r := range repo.rows {
		assert.Equal(t, hashOf(raw), r.FileHash)
		assert.Equal(t, "heliostat.png", r.Filename)
		assert.Equal(t, result.AnnotatedImage, r.AnnotatedImage)
		assert.NotEqual(t, entity.TargetNone, r.Target)
	}
}

func TestClassify_SecondCallHitsCache(t *testing.T) {
	t.Parallel()

	raw := makePNG(t)
	repo := &mockResultRepository{}
	detector := &mockDetector{
		predictFn: func(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error) {
			return []entity.Detection{
				{Target: "cat", CenterX: 10, CenterY: 20, Confidence: 0.9},
			}, []byte("overlay"), nil
		},
	}

	uc := NewClassificationUsecase(repo, detector, nil, 0)

	first, err := uc.Classify(context.Background(), raw, "first.png")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := uc.Classify(context.Background(), raw, "first.png")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Detections, second.Detections)
	assert.Equal(t, first.AnnotatedImage, second.AnnotatedImage)

	// 推論は1回だけ。2回目の呼び出しで行は増えない
	assert.Equal(t, int32(1), detector.calls.Load())
	assert.Equal(t, 1, repo.inserts)
}

func TestClassify_HashIndependentOfFilename(t *testing.T) {
	t.Parallel()

	raw := makePNG(t)
	repo := &mockResultRepository{}
	detector := &mockDetector{
		predictFn: func(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error) {
			return []entity.Detection{{Target: "mirror", CenterX: 1, CenterY: 2, Confidence: 0.8}}, nil, nil
		},
	}

	uc := NewClassificationUsecase(repo, detector, nil, 0)

	first, err := uc.Classify(context.Background(), raw, "a.png")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	// 同一バイト列を別名でアップロードしても同じキャッシュエントリにヒットする
	second, err := uc.Classify(context.Background(), raw, "b.jpg")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), detector.calls.Load())
}

func TestClassify_ZeroDetections_InsertsSentinel(t *testing.T) {
	t.Parallel()

	raw := makePNG(t)
	repo := &mockResultRepository{}
	detector := &mockDetector{
		predictFn: func(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error) {
			return nil, nil, nil
		},
	}

	uc := NewClassificationUsecase(repo, detector, nil, 0)
	result, err := uc.Classify(context.Background(), raw, "empty.bmp")

	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Empty(t, result.Detections)
	assert.NotNil(t, result.Detections)
	assert.Equal(t, "", result.AnnotatedImage)

	// 番兵行がちょうど1行
	require.Len(t, repo.rows, 1)
	sentinel := repo.rows[0]
	assert.Equal(t, entity.TargetNone, sentinel.Target)
	assert.InDelta(t, entity.SentinelCenter, sentinel.CenterX, 1e-9)
	assert.InDelta(t, entity.SentinelCenter, sentinel.CenterY, 1e-9)
	assert.InDelta(t, 0.0, sentinel.Confidence, 1e-9)
	assert.Equal(t, hashOf(raw), sentinel.FileHash)

	// 再アップロードはキャッシュヒットし、番兵は検出リストに現れない
	second, err := uc.Classify(context.Background(), raw, "empty.bmp")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Empty(t, second.Detections)
	require.Len(t, repo.rows, 1)
}

func TestClassify_Validation(t *testing.T) {
	t.Parallel()

	raw := makePNG(t)
	tests := []struct {
		name     string
		raw      []byte
		filename string
		wantErr  error
	}{
		{
			name:     "disallowed extension",
			raw:      raw,
			filename: "animation.gif",
			wantErr:  ErrUnsupportedExtension,
		},
		{
			name:     "no extension",
			raw:      raw,
			filename: "noext",
			wantErr:  ErrUnsupportedExtension,
		},
		{
			name:     "empty file",
			raw:      nil,
			filename: "empty.png",
			wantErr:  ErrEmptyFile,
		},
		{
			name:     "file too large",
			raw:      make([]byte, MaxImageSize+1),
			filename: "huge.png",
			wantErr:  ErrFileTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &mockResultRepository{}
			detector := &mockDetector{}
			uc := NewClassificationUsecase(repo, detector, nil, 0)

			_, err := uc.Classify(context.Background(), tt.raw, tt.filename)

			assert.ErrorIs(t, err, tt.wantErr)
			// バリデーションエラーは副作用を残さない
			assert.Equal(t, int32(0), detector.calls.Load())
			assert.Equal(t, 0, repo.inserts)
		})
	}
}

func TestClassify_UppercaseExtensionAccepted(t *testing.T) {
	t.Parallel()

	raw := makePNG(t)
	repo := &mockResultRepository{}
	detector := &mockDetector{}

	uc := NewClassificationUsecase(repo, detector, nil, 0)
	result, err := uc.Classify(context.Background(), raw, "photo.PNG")

	require.NoError(t, err)
	assert.Equal(t, "photo.PNG", result.Filename)
	assert.Equal(t, int32(1), detector.calls.Load())
}

func TestClassify_DecodeFailure(t *testing.T) {
	t.Parallel()

	repo := &mockResultRepository{}
	detector := &mockDetector{}

	uc := NewClassificationUsecase(repo, detector, nil, 0)
	_, err := uc.Classify(context.Background(), []byte("not an image"), "broken.png")

	assert.ErrorIs(t, err, ErrInference)
	// デコード失敗時は推論も書き込みも発生しない
	assert.Equal(t, int32(0), detector.calls.Load())
	assert.Equal(t, 0, repo.inserts)
}

func TestClassify_DetectorFailure(t *testing.T) {
	t.Parallel()

	raw := makePNG(t)
	repo := &mockResultRepository{}
	detector := &mockDetector{
		predictFn: func(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error) {
			return nil, nil, errors.New("model exploded")
		},
	}

	uc := NewClassificationUsecase(repo, detector, nil, 0)
	_, err := uc.Classify(context.Background(), raw, "boom.jpg")

	assert.ErrorIs(t, err, ErrInference)
	assert.ErrorContains(t, err, "model exploded")
	assert.Equal(t, 0, repo.inserts)
}

func TestClassify_StorageFailure(t *testing.T) {
	t.Parallel()

	raw := makePNG(t)
	repo := &mockResultRepository{insertErr: errors.New("disk full")}
	detector := &mockDetector{
		predictFn: func(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error) {
			return []entity.Detection{{Target: "cat", Confidence: 0.9}}, nil, nil
		},
	}

	uc := NewClassificationUsecase(repo, detector, nil, 0)
	_, err := uc.Classify(context.Background(), raw, "cat.png")

	assert.ErrorIs(t, err, ErrStorage)
}

func TestClassify_ConcurrentSameHash_RunsInferenceOnce(t *testing.T) {
	t.Parallel()

	raw := makePNG(t)
	repo := &mockResultRepository{}
	started := make(chan struct{})
	release := make(chan struct{})
	detector := &mockDetector{
		predictFn: func(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error) {
			close(started)
			<-release
			return []entity.Detection{{Target: "mirror", CenterX: 5, CenterY: 5, Confidence: 0.7}}, nil, nil
		},
	}

	uc := NewClassificationUsecase(repo, detector, nil, 0)

	var wg sync.WaitGroup
	results := make([]*entity.ClassificationResult, 5)
	errs := make([]error, 5)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = uc.Classify(context.Background(), raw, "race.png")
	}()

	// 1件目の推論が開始してから残りを投入する
	<-started
	for i := 1; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = uc.Classify(context.Background(), raw, "race.png")
		}(i)
	}
	close(release)
	wg.Wait()

	for i := 0; i < 5; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Detections, 1)
	}
	// 同時リクエストは1回の推論に相乗りし、重複行は挿入されない
	assert.Equal(t, int32(1), detector.calls.Load())
	assert.Equal(t, 1, repo.inserts)
	assert.Len(t, repo.rows, 1)
}

func TestClassify_LeaderCancelDoesNotPoisonSharers(t *testing.T) {
	t.Parallel()

	raw := makePNG(t)
	repo := &mockResultRepository{}
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	detector := &mockDetector{
		predictFn: func(ctx context.Context, img image.Image, confidence float64) ([]entity.Detection, []byte, error) {
			startedOnce.Do(func() { close(started) })
			<-release
			// 代表リクエストのキャンセルが推論コンテキストに伝播していないこと
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			return []entity.Detection{{Target: "mirror", CenterX: 5, CenterY: 5, Confidence: 0.7}}, nil, nil
		},
	}

	uc := NewClassificationUsecase(repo, detector, nil, 0)

	leaderCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	results := make([]*entity.ClassificationResult, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = uc.Classify(leaderCtx, raw, "race.png")
	}()

	// 推論開始後に代表リクエストのクライアントが切断するケース
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = uc.Classify(context.Background(), raw, "race.png")
	}()
	cancel()
	close(release)
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Detections, 1)
	}
	assert.Equal(t, int32(1), detector.calls.Load())
	assert.Equal(t, 1, repo.inserts)
}

func TestClassify_SanitizesFilename(t *testing.T) {
	t.Parallel()

	raw := makePNG(t)
	repo := &mockResultRepository{}
	detector := &mockDetector{}

	uc := NewClassificationUsecase(repo, detector, nil, 0)
	result, err := uc.Classify(context.Background(), raw, "../../etc/passwd.png")

	require.NoError(t, err)
	assert.Equal(t, "passwd.png", result.Filename)
}
