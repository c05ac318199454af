// Package db はGORMによるデータベース接続の初期化を提供します。
package db

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	gpostgres "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"heliostat_backend/internal/feature/classification/adapters"
)

// Config はデータベース接続の設定です。
type Config struct {
	Driver   string // "sqlite"（デフォルト）または "postgres"
	Path     string // SQLiteのファイルパス
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// ConfigFromEnv は環境変数から接続設定を読み込みます。
func ConfigFromEnv() Config {
	cfg := Config{
		Driver:   os.Getenv("DB_DRIVER"),
		Path:     os.Getenv("DB_PATH"),
		Host:     os.Getenv("DB_HOST"),
		Port:     os.Getenv("DB_PORT"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		Name:     os.Getenv("DB_NAME"),
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.Path == "" {
		cfg.Path = "classification_results.db"
	}
	return cfg
}

// BuildDSN はPostgres接続用のDSN文字列を生成します。
func BuildDSN(cfg Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Tokyo",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port)
}

// OpenDB はデータベースを開き、スキーマを保証して返します。
// 起動のたびにAutoMigrateを実行し、旧スキーマに不足している列
// （file_hash, annotated_image）を非破壊的に追加します。
func OpenDB() *gorm.DB {
	cfg := ConfigFromEnv()

	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Driver {
	case "postgres":
		dsn := BuildDSN(cfg)
		deadline := time.Now().Add(60 * time.Second)
		for {
			db, err = gorm.Open(gpostgres.Open(dsn), &gorm.Config{})
			if err == nil {
				break
			}
			if time.Now().After(deadline) {
				log.Fatalf("DB connect failed after 60s: %v", err)
			}
			log.Printf("DB connect failed, retrying...: %v", err)
			time.Sleep(3 * time.Second)
		}
	default:
		db, err = gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{})
		if err != nil {
			log.Fatalf("failed to open sqlite database: %v", err)
		}
		dbPath, _ := filepath.Abs(cfg.Path)
		log.Println("USING_SQLITE:", dbPath)
	}

	// マイグレーション（追記専用テーブルの列追加のみ）
	if err := db.AutoMigrate(&adapters.DetectionModel{}); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	return db
}
