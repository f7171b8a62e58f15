package model

import (
	"time"
)

// ============================================================================
// 推荐状态常量
// ============================================================================

const (
	ReferralStatusPending   = "pending"   // 已归因，等待被推荐人购买
	ReferralStatusConfirmed = "confirmed" // 购买完成，积分已入账
	ReferralStatusCancelled = "cancelled" // 购买被退款，积分已冲正
)

// ValidStatusTransitions 推荐状态机
// cancelled 为终态：退款后重新购买需要新建一条推荐记录
var ValidStatusTransitions = map[string][]string{
	ReferralStatusPending:   {ReferralStatusConfirmed},
	ReferralStatusConfirmed: {ReferralStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ============================================================================
// 订阅套餐常量
// ============================================================================

const (
	PlanFree    = "free"
	PlanBasic   = "basic"
	PlanPremium = "premium"
	PlanVIP     = "vip"
)

// ReferralCode 推荐码表
// 每个用户至多一条，首次请求时懒创建，生成后不可变更
type ReferralCode struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Code      string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ReferralCode) TableName() string {
	return "referral_code"
}

// Referral 推荐记录表
//
// 【重要】referred_user_id 上的唯一索引保证一个用户至多被推荐一次，
// 重复归因直接被数据库拒绝，而不是依赖先查后写
type Referral struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferrerUserID int64      `gorm:"index;not null" json:"referrer_user_id"`
	ReferredUserID *int64     `gorm:"uniqueIndex" json:"referred_user_id"` // 注册完成前为空
	ReferralCode   string     `gorm:"type:varchar(32);index;not null" json:"referral_code"`
	Status         string     `gorm:"type:varchar(20);index;not null;default:pending" json:"status"`
	PlanPurchased  *string    `gorm:"type:varchar(20)" json:"plan_purchased"`
	PointsAwarded  int64      `gorm:"not null;default:0" json:"points_awarded"` // 确认时刻计算并冻结
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	ConfirmedAt    *time.Time `json:"confirmed_at"`
}

func (Referral) TableName() string {
	return "referral"
}
