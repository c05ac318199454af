package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	redisv9 "github.com/redis/go-redis/v9"

	"heliostat_backend/internal/app/router"
	"heliostat_backend/internal/feature/classification/adapters"
	"heliostat_backend/internal/feature/classification/adapters/gemini"
	"heliostat_backend/internal/feature/classification/adapters/vision"
	classificationhandler "heliostat_backend/internal/feature/classification/transport/handler"
	classificationusecase "heliostat_backend/internal/feature/classification/usecase"
	historyhandler "heliostat_backend/internal/feature/history/transport/handler"
	historyusecase "heliostat_backend/internal/feature/history/usecase"
	"heliostat_backend/internal/platform/cache"
	infradb "heliostat_backend/internal/platform/db"
	infraredis "heliostat_backend/internal/platform/redis"
	"heliostat_backend/internal/shared/ratelimiter"
)

func main() {
	// .envを読み込む
	if err := godotenv.Load(".env"); err != nil {
		log.Println("[INFO] .env not found; using system environment variables")
	}

	ctx := context.Background()

	// db
	db := infradb.OpenDB()

	// Redis
	var rdb *redisv9.Client
	if tmp, err := infraredis.NewRedisClient(); err != nil {
		log.Println("[WARN] Redis unavailable. Running without cache.")
		rdb = nil
	} else {
		rdb = tmp
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Println("[ERROR] Failed to close Redis client:", err)
			}
		}()
	}

	// Detector（DETECTOR_BACKEND: vision がデフォルト、gemini を選択可能）
	var detector classificationusecase.Detector
	switch os.Getenv("DETECTOR_BACKEND") {
	case "gemini":
		d, err := gemini.NewGeminiDetector(ctx)
		if err != nil {
			log.Fatalf("failed to create gemini detector: %v", err)
		}
		detector = d
	default:
		d, err := vision.NewVisionDetector(ctx)
		if err != nil {
			log.Fatalf("failed to create vision detector: %v", err)
		}
		defer func() {
			if err := d.Close(); err != nil {
				log.Println("[ERROR] Failed to close vision client:", err)
			}
		}()
		detector = d
	}

	// Repository（検出結果はRedisキャッシュでラップ）
	detectionRepo := adapters.NewDetectionRepository(db)
	cachedRepo := cache.NewCachingResultRepository(rdb, 0, detectionRepo, "detections")

	// 推論呼び出しのレートリミッタ
	rl := ratelimiter.NewRateLimiter(30, time.Minute) // 1分に30回まで

	// 信頼度しきい値（未設定・不正値はデフォルト0.25）
	confidence, _ := strconv.ParseFloat(os.Getenv("CONFIDENCE_THRESHOLD"), 64)

	// Usecase
	classifyUC := classificationusecase.NewClassificationUsecase(cachedRepo, detector, rl, confidence)
	historyUC := historyusecase.NewHistoryUsecase(detectionRepo)

	// Handler
	classifyH := classificationhandler.NewClassificationHandler(classifyUC)
	historyH := historyhandler.NewHistoryHandler(historyUC)

	// ルータ生成
	router := router.NewRouter(classifyH, historyH)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := router.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
