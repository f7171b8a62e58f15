package handler

import (
	"errors"
	"strconv"

	"referralengine/internal/config"
	"referralengine/internal/repository"
	"referralengine/internal/service"
	"referralengine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
// user_id / admin_id 由身份协作方（网关）注入并保证可信，核心不做鉴权
type Handler struct {
	referralService *service.ReferralService
	cashbackService *service.CashbackService
	statsService    *service.StatsService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		referralService: service.NewReferralService(db, rdb, cfg),
		cashbackService: service.NewCashbackService(db, rdb, cfg),
		statsService:    service.NewStatsService(db),
	}
}

// handleServiceError 业务错误 -> 响应码
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidUser):
		response.BusinessError(c, response.CodeInvalidUser, err.Error())
	case errors.Is(err, service.ErrUnknownCode):
		response.BusinessError(c, response.CodeUnknownCode, err.Error())
	case errors.Is(err, service.ErrSelfReferral):
		response.BusinessError(c, response.CodeSelfReferral, err.Error())
	case errors.Is(err, repository.ErrAlreadyAttributed):
		response.BusinessError(c, response.CodeAlreadyAttributed, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		response.BusinessError(c, response.CodeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrBelowMinimum):
		response.BusinessError(c, response.CodeBelowMinimum, err.Error())
	case errors.Is(err, service.ErrNotMultipleOfUnit):
		response.BusinessError(c, response.CodeNotMultipleOfUnit, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance):
		response.BusinessError(c, response.CodeInsufficientBalance, err.Error())
	case errors.Is(err, repository.ErrAlreadyResolved):
		response.BusinessError(c, response.CodeAlreadyResolved, err.Error())
	case errors.Is(err, service.ErrConcurrencyConflict):
		response.BusinessError(c, response.CodeConcurrencyConflict, err.Error())
	case errors.Is(err, service.ErrInvalidPaymentMethod), errors.Is(err, service.ErrInvalidOutcome):
		response.ParamError(c, err.Error())
	case errors.Is(err, repository.ErrReferralNotFound), errors.Is(err, repository.ErrCashbackNotFound):
		response.Error(c, response.CodeNotFound, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func parseUserID(c *gin.Context) (int64, bool) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return 0, false
	}
	return userID, true
}

func parsePage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}

// ============================================================
// 推荐相关接口
// ============================================================

// GetReferralCode 获取（必要时生成）用户推荐码
// GET /api/v1/referral/code?user_id=xxx
func (h *Handler) GetReferralCode(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	code, err := h.referralService.GetOrCreateCode(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": code.UserID,
		"code":    code.Code,
	})
}

// ValidateReferralCode 注册页校验推荐码（公开）
// GET /api/v1/referral/validate?code=xxx
func (h *Handler) ValidateReferralCode(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		response.ParamError(c, "code 参数不能为空")
		return
	}

	rc, err := h.referralService.ValidateCode(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, service.ErrUnknownCode) {
			response.Success(c, gin.H{"valid": false})
			return
		}
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"valid":            true,
		"referrer_user_id": rc.UserID,
	})
}

// AttributeRequest 归因请求
type AttributeRequest struct {
	Code   string `json:"code" binding:"required"`
	UserID int64  `json:"user_id" binding:"required"`
}

// AttributeReferral 注册完成时归因
// POST /api/v1/referral/attribute
func (h *Handler) AttributeReferral(c *gin.Context) {
	var req AttributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	referral, err := h.referralService.Attribute(c.Request.Context(), req.Code, req.UserID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, referral)
}

// GetStats 用户推荐面板统计
// GET /api/v1/referral/stats?user_id=xxx
func (h *Handler) GetStats(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	stats, err := h.statsService.GetStats(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, stats)
}

// ListReferrals 用户推荐记录列表
// GET /api/v1/referral/list?user_id=xxx
func (h *Handler) ListReferrals(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	referrals, err := h.statsService.ListReferrals(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  referrals,
		"total": len(referrals),
	})
}

// ============================================================
// 积分流水接口
// ============================================================

// GetPointsHistory 分页积分流水
// GET /api/v1/points/history?user_id=xxx&page=1&page_size=10
func (h *Handler) GetPointsHistory(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	page, pageSize := parsePage(c)

	entries, total, err := h.statsService.PointsHistory(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 提现相关接口
// ============================================================

// RequestCashbackRequest 提现申请请求
type RequestCashbackRequest struct {
	UserID        int64  `json:"user_id" binding:"required"`
	PointsAmount  int64  `json:"points_amount" binding:"required,gt=0"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	PixKey        string `json:"pix_key"`
	BankDetails   string `json:"bank_details"`
}

// RequestCashback 申请提现
// POST /api/v1/cashback/request
//
// 【关键点】申请即预扣积分，审批只决定预扣去留，
// 并发申请的正确性由服务层的用户锁 + 事务保证
func (h *Handler) RequestCashback(c *gin.Context) {
	var req RequestCashbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	request, err := h.cashbackService.Request(c.Request.Context(), &service.CashbackRequestInput{
		UserID:       req.UserID,
		PointsAmount: req.PointsAmount,
		Method:       req.PaymentMethod,
		PixKey:       req.PixKey,
		BankDetails:  req.BankDetails,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, request)
}

// ListMyCashback 用户自己的提现申请
// GET /api/v1/cashback/my?user_id=xxx&page=1&page_size=10
func (h *Handler) ListMyCashback(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	page, pageSize := parsePage(c)

	requests, total, err := h.cashbackService.ListByUser(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      requests,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 管理端接口（鉴权由外层完成）
// ============================================================

// AdminListCashback 管理端提现申请列表
// GET /api/v1/admin/cashback/list?status=pending&page=1&page_size=10
func (h *Handler) AdminListCashback(c *gin.Context) {
	status := c.Query("status")
	page, pageSize := parsePage(c)

	requests, total, err := h.cashbackService.List(c.Request.Context(), status, page, pageSize)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      requests,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ResolveCashbackRequest 审批请求
type ResolveCashbackRequest struct {
	RequestID int64  `json:"request_id" binding:"required"`
	Outcome   string `json:"outcome" binding:"required"` // approved / rejected
	AdminID   int64  `json:"admin_id" binding:"required"`
	Note      string `json:"note"`
}

// AdminResolveCashback 审批提现申请
// POST /api/v1/admin/cashback/resolve
func (h *Handler) AdminResolveCashback(c *gin.Context) {
	var req ResolveCashbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	request, err := h.cashbackService.Resolve(c.Request.Context(), req.RequestID, req.Outcome, req.AdminID, req.Note)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Success(c, request)
}
