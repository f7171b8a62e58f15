package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 出站事件类型，写入 payload 供下游消费方区分
const (
	EventReferralConfirmed = "referral_confirmed"
	EventReferralCancelled = "referral_cancelled"
	EventCashbackRequested = "cashback_requested"
	EventCashbackApproved  = "cashback_approved"
	EventCashbackRejected  = "cashback_rejected"
)

// OutboxMessage 事务性发件箱
// 与业务写入同一事务提交，由 OutboxSender 异步投递到 Kafka，
// 保证"积分已入账但事件丢失"不会发生
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
