package job

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"referralengine/internal/config"
	"referralengine/internal/repository"
	"referralengine/internal/service"

	"github.com/IBM/sarama"
)

// 订阅/支付协作方发出的事件类型
const (
	PurchaseEventCompleted = "purchase_completed"
	PurchaseEventRefunded  = "purchase_refunded"
)

// PurchaseEvent 订阅购买事件（入站）
// user_id 是被推荐人的用户ID，由边界层映射到对应推荐记录
type PurchaseEvent struct {
	EventType string `json:"event_type"`
	UserID    int64  `json:"user_id"`
	Plan      string `json:"plan"`
	Reason    string `json:"reason,omitempty"`
}

// PurchaseConsumer 消费购买/退款事件，驱动推荐确认与取消
//
// 位移只在终局结果后提交：处理成功、状态机拒绝、消息不可解析。
// 瞬时失败（数据库抖动、重试耗尽）不提交位移，等 Kafka 重投递，
// 重投递的正确性由 Confirm / Cancel 自身的幂等性兜住
type PurchaseConsumer struct {
	group           sarama.ConsumerGroup
	cfg             *config.Config
	referralService *service.ReferralService
	referralRepo    *repository.ReferralRepository
}

func NewPurchaseConsumer(group sarama.ConsumerGroup, cfg *config.Config, referralService *service.ReferralService, referralRepo *repository.ReferralRepository) *PurchaseConsumer {
	return &PurchaseConsumer{
		group:           group,
		cfg:             cfg,
		referralService: referralService,
		referralRepo:    referralRepo,
	}
}

func (c *PurchaseConsumer) Start(ctx context.Context) {
	log.Println("[PurchaseConsumer] 购买事件消费任务启动")

	topics := []string{c.cfg.Kafka.Topic.PurchaseEvents}
	for {
		if ctx.Err() != nil {
			log.Println("[PurchaseConsumer] 收到停止信号，任务退出")
			return
		}
		// Consume 在再均衡后返回，循环重新加入消费组
		if err := c.group.Consume(ctx, topics, c); err != nil {
			log.Printf("[PurchaseConsumer] 消费失败: %v", err)
			time.Sleep(time.Second)
		}
	}
}

func (c *PurchaseConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *PurchaseConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 逐条处理分区消息
// 瞬时失败直接返回错误退出本轮消费，位移未提交，消息会被重投递
func (c *PurchaseConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := c.handleMessage(session.Context(), msg); err != nil {
			return err
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// handleMessage 处理一条事件
// 返回 nil 表示终局（成功、状态机拒绝、消息不可用），可以提交位移；
// 返回非 nil 表示瞬时失败，调用方不得提交位移
func (c *PurchaseConsumer) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event PurchaseEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Printf("[PurchaseConsumer] 解析事件失败，丢弃: offset=%d, err=%v", msg.Offset, err)
		return nil
	}

	switch event.EventType {
	case PurchaseEventCompleted:
		return c.handleCompleted(ctx, &event)
	case PurchaseEventRefunded:
		return c.handleRefunded(ctx, &event)
	default:
		log.Printf("[PurchaseConsumer] 未知事件类型，丢弃: type=%s", event.EventType)
		return nil
	}
}

// handleCompleted 购买完成 -> 确认该用户名下的 pending 推荐
func (c *PurchaseConsumer) handleCompleted(ctx context.Context, event *PurchaseEvent) error {
	referral, err := c.referralRepo.GetByReferredUserID(ctx, event.UserID)
	if err != nil {
		log.Printf("[PurchaseConsumer] 查询推荐记录失败: userID=%d, err=%v", event.UserID, err)
		return err
	}
	if referral == nil {
		// 该用户不是被推荐来的，正常情况
		return nil
	}

	if _, err := c.referralService.Confirm(ctx, referral.ID, event.Plan); err != nil {
		if errors.Is(err, service.ErrInvalidTransition) {
			log.Printf("[PurchaseConsumer] 推荐已取消，忽略购买事件: referralID=%d", referral.ID)
			return nil
		}
		log.Printf("[PurchaseConsumer] 确认推荐失败，等待重投递: referralID=%d, err=%v", referral.ID, err)
		return err
	}
	return nil
}

// handleRefunded 退款 -> 宽限期内取消推荐并冲正积分
func (c *PurchaseConsumer) handleRefunded(ctx context.Context, event *PurchaseEvent) error {
	referral, err := c.referralRepo.GetByReferredUserID(ctx, event.UserID)
	if err != nil {
		log.Printf("[PurchaseConsumer] 查询推荐记录失败: userID=%d, err=%v", event.UserID, err)
		return err
	}
	if referral == nil || referral.ConfirmedAt == nil {
		return nil
	}

	// 宽限期外的退款不再动账
	graceWindow := time.Duration(c.cfg.Business.RefundGraceDays) * 24 * time.Hour
	if time.Since(*referral.ConfirmedAt) > graceWindow {
		log.Printf("[PurchaseConsumer] 退款超出宽限期，保留积分: referralID=%d", referral.ID)
		return nil
	}

	if _, err := c.referralService.Cancel(ctx, referral.ID, event.Reason); err != nil {
		if errors.Is(err, service.ErrInvalidTransition) {
			// 重投递或已取消
			return nil
		}
		log.Printf("[PurchaseConsumer] 取消推荐失败，等待重投递: referralID=%d, err=%v", referral.ID, err)
		return err
	}
	return nil
}
