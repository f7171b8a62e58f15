package model

import (
	"time"
)

// ============================================================================
// 积分流水原因常量
// ============================================================================

const (
	ReasonReferralAward    = "referral_award"    // 推荐确认，积分入账
	ReasonReferralReversal = "referral_reversal" // 推荐取消，冲正扣减
	ReasonCashbackReserve  = "cashback_reserve"  // 提现申请，预扣积分
	ReasonCashbackRelease  = "cashback_release"  // 提现被拒，返还预扣
	ReasonCashbackSettle   = "cashback_settle"   // 提现通过，0 额审计标记
)

// ============================================================================
// 积分流水实体
// ============================================================================

// LedgerEntry 积分流水表，余额的唯一事实来源
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 修正一律用冲正流水，保证审计可追溯
// 2. 余额 = SUM(amount)，任何地方不缓存余额计数器
// 3. (related_referral_id, reason) 唯一索引 —— 同一推荐的入账流水至多一条，
//    购买事件重投递时靠它兜底幂等；(related_cashback_id, reason) 同理
type LedgerEntry struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo           string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID            int64     `gorm:"index;not null" json:"user_id"`
	Amount            int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Reason            string    `gorm:"type:varchar(32);not null;uniqueIndex:uk_referral_reason,priority:2;uniqueIndex:uk_cashback_reason,priority:2" json:"reason"`
	RelatedReferralID *int64    `gorm:"uniqueIndex:uk_referral_reason,priority:1" json:"related_referral_id"`
	RelatedCashbackID *int64    `gorm:"uniqueIndex:uk_cashback_reason,priority:1" json:"related_cashback_id"`
	Remark            string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
