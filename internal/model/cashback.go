package model

import (
	"time"
)

// ============================================================================
// 提现申请状态与支付方式常量
// ============================================================================

const (
	CashbackStatusPending  = "pending"
	CashbackStatusApproved = "approved" // 终态，预扣流水即最终成本
	CashbackStatusRejected = "rejected" // 终态，预扣已返还
)

const (
	PaymentMethodPix           = "pix"
	PaymentMethodBankTransfer  = "bank_transfer"
	PaymentMethodCreditAccount = "credit_account"
)

// 兑换规则：100 积分为一个兑换单位，10 积分 = R$1
const (
	CashbackMinPoints  = 100
	CashbackUnitPoints = 100
)

// CashbackRequest 提现申请表
// 创建即预扣积分（cashback_reserve 流水），审批只决定预扣的去留
type CashbackRequest struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64      `gorm:"index;not null" json:"user_id"`
	PointsAmount    int64      `gorm:"not null" json:"points_amount"`
	CashAmountCents int64      `gorm:"not null" json:"cash_amount_cents"` // 申请时刻换算的现金价值（分）
	PaymentMethod   string     `gorm:"type:varchar(20);not null" json:"payment_method"`
	PixKey          string     `gorm:"type:varchar(255)" json:"pix_key"`
	BankDetails     string     `gorm:"type:text" json:"bank_details"`
	Status          string     `gorm:"type:varchar(20);index;not null;default:pending" json:"status"`
	ResolutionNote  string     `gorm:"type:varchar(256)" json:"resolution_note"`
	ResolvedBy      *int64     `json:"resolved_by"` // 审批管理员ID
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at"`
}

func (CashbackRequest) TableName() string {
	return "cashback_request"
}

// IsResolved 是否已是终态
func (r *CashbackRequest) IsResolved() bool {
	return r.Status != CashbackStatusPending
}
