package service

import (
	"os"
	"testing"

	"referralengine/internal/config"
	"referralengine/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 集成测试依赖真实的 MySQL 和 Redis：
//
//	MYSQL_DSN="root:root@tcp(127.0.0.1:3306)/referral_engine_test?charset=utf8mb4&parseTime=True&loc=Local"
//	REDIS_ADDR="127.0.0.1:6379"
//
// 未设置时跳过，不影响纯逻辑用例
func setupTestDeps(t *testing.T) (*gorm.DB, *redis.Client, *config.Config) {
	t.Helper()

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("跳过集成测试: MYSQL_DSN 未设置")
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("跳过集成测试: REDIS_ADDR 未设置")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("连接 MySQL 失败: %v", err)
	}

	err = db.AutoMigrate(
		&model.ReferralCode{},
		&model.Referral{},
		&model.LedgerEntry{},
		&model.CashbackRequest{},
		&model.OutboxMessage{},
	)
	if err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})

	cfg := &config.Config{
		Business: config.BusinessConfig{
			RefundGraceDays: 7,
			MaxRetryCount:   3,
		},
	}
	cfg.Kafka.Topic.ReferralEvents = "referral_events_test"
	cfg.Kafka.Topic.CashbackEvents = "cashback_events_test"
	cfg.Kafka.Topic.PurchaseEvents = "purchase_events_test"

	return db, rdb, cfg
}
