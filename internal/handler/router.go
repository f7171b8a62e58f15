package handler

import (
	"referralengine/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 推荐相关
		referral := api.Group("/referral")
		{
			referral.GET("/code", h.GetReferralCode)
			referral.GET("/validate", h.ValidateReferralCode)
			referral.POST("/attribute", h.AttributeReferral)
			referral.GET("/stats", h.GetStats)
			referral.GET("/list", h.ListReferrals)
		}

		// 积分流水
		points := api.Group("/points")
		{
			points.GET("/history", h.GetPointsHistory)
		}

		// 提现相关
		cashback := api.Group("/cashback")
		{
			cashback.POST("/request", h.RequestCashback)
			cashback.GET("/my", h.ListMyCashback)
		}

		// 管理端
		admin := api.Group("/admin")
		{
			admin.GET("/cashback/list", h.AdminListCashback)
			admin.POST("/cashback/resolve", h.AdminResolveCashback)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
