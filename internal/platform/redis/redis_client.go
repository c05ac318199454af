// Package redis は検出結果キャッシュ用Redisクライアントの初期化を提供します。
package redis

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// OptionsFromEnv は環境変数から接続オプションを組み立てます。
// REDIS_DBが未設定・数値でない場合はDB 0を使用します。
func OptionsFromEnv() *redis.Options {
	db, err := strconv.Atoi(os.Getenv("REDIS_DB"))
	if err != nil {
		db = 0
	}
	return &redis.Options{
		Addr:     os.Getenv("REDIS_HOST") + ":" + os.Getenv("REDIS_PORT"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}
}

// NewRedisClient は環境変数の設定でRedisクライアントを生成し、疎通を確認します。
// 接続できない場合はエラーを返し、呼び出し側はキャッシュなしで起動を続行します。
func NewRedisClient() (*redis.Client, error) {
	opts := OptionsFromEnv()
	rdb := redis.NewClient(opts)

	// 接続確認
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slog.Error("Redis接続に失敗", "address", opts.Addr, "db", opts.DB, "error", err)
		return nil, err
	}

	slog.Info("Redis接続に成功", "address", opts.Addr, "db", opts.DB)
	return rdb, nil
}
