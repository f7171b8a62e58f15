package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"referralengine/internal/config"
	"referralengine/internal/infrastructure/lock"
	"referralengine/internal/model"
	"referralengine/internal/reward"
	"referralengine/internal/repository"
	"referralengine/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrInvalidUser       = errors.New("用户不合法")
	ErrUnknownCode       = errors.New("推荐码不存在")
	ErrSelfReferral      = errors.New("不能使用自己的推荐码")
	ErrInvalidTransition = errors.New("当前状态不允许该操作")
)

// ReferralService 推荐归因与积分入账
type ReferralService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	referralRepo *repository.ReferralRepository
	ledgerRepo   *repository.LedgerRepository
	outboxRepo   *repository.OutboxRepository
}

func NewReferralService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *ReferralService {
	return &ReferralService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		referralRepo: repository.NewReferralRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
	}
}

// GetOrCreateCode 获取用户推荐码，首次调用时生成，之后不再变更
func (s *ReferralService) GetOrCreateCode(ctx context.Context, userID int64) (*model.ReferralCode, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	return s.referralRepo.GetOrCreateCode(ctx, userID)
}

// ValidateCode 注册页校验推荐码（公开接口）
// 返回码主用户ID；码不存在返回 ErrUnknownCode
func (s *ReferralService) ValidateCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	rc, err := s.referralRepo.GetCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return nil, ErrUnknownCode
		}
		return nil, err
	}
	return rc, nil
}

// Attribute 注册时归因：把新用户挂到推荐码主名下，创建 pending 推荐
//
// 一个用户至多被推荐一次。先查后建只是给出友好错误，
// 真正兜底的是 referred_user_id 上的唯一索引——并发重复归因
// 会被数据库拒绝并映射为 ErrAlreadyAttributed
func (s *ReferralService) Attribute(ctx context.Context, code string, newUserID int64) (*model.Referral, error) {
	if newUserID <= 0 {
		return nil, ErrInvalidUser
	}

	rc, err := s.referralRepo.GetCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return nil, ErrUnknownCode
		}
		return nil, fmt.Errorf("查询推荐码失败: %w", err)
	}

	if rc.UserID == newUserID {
		return nil, ErrSelfReferral
	}

	existing, err := s.referralRepo.GetByReferredUserID(ctx, newUserID)
	if err != nil {
		return nil, fmt.Errorf("查询归因记录失败: %w", err)
	}
	if existing != nil {
		return nil, repository.ErrAlreadyAttributed
	}

	referral := &model.Referral{
		ReferrerUserID: rc.UserID,
		ReferredUserID: &newUserID,
		ReferralCode:   rc.Code,
		Status:         model.ReferralStatusPending,
	}

	if err := s.referralRepo.Create(ctx, nil, referral); err != nil {
		return nil, err
	}

	log.Printf("[Referral] 归因成功: referralID=%d, referrer=%d, referred=%d", referral.ID, rc.UserID, newUserID)
	return referral, nil
}

// Confirm 购买完成，确认推荐并给推荐人入账
//
// 【关键点】购买事件可能被重投递，确认必须幂等：
// 1. 已 confirmed 直接返回现状，不产生新流水
// 2. 状态翻转带 WHERE status = pending 条件，赛跑时只有一个写者成功
// 3. (related_referral_id, referral_award) 唯一索引兜底，
//    即使状态检查被绕过也不可能入账两次
// 积分在确认时刻按"此前已确认数"计算并冻结，之后不再变化；
// 状态翻转和入账流水在同一事务里，要么都成功要么都失败
func (s *ReferralService) Confirm(ctx context.Context, referralID int64, planPurchased string) (*model.Referral, error) {
	referral, err := s.referralRepo.GetByID(ctx, referralID)
	if err != nil {
		return nil, err
	}

	switch referral.Status {
	case model.ReferralStatusConfirmed:
		return referral, nil // 幂等：重复确认返回现状
	case model.ReferralStatusCancelled:
		return nil, ErrInvalidTransition
	}

	err = withBackoff(s.cfg.Business.MaxRetryCount, func() error {
		return s.confirmOnce(ctx, referralID, planPurchased)
	})
	if err != nil {
		return nil, err
	}

	return s.referralRepo.GetByID(ctx, referralID)
}

func (s *ReferralService) confirmOnce(ctx context.Context, referralID int64, planPurchased string) error {
	referral, err := s.referralRepo.GetByID(ctx, referralID)
	if err != nil {
		return err
	}
	if referral.Status == model.ReferralStatusConfirmed {
		return nil
	}
	if referral.Status == model.ReferralStatusCancelled {
		return ErrInvalidTransition
	}

	// 推荐人维度加锁：确认、取消、提现在同一用户上串行
	holder := fmt.Sprintf("confirm:%d", referralID)
	pointsLock := lock.NewPointsLock(s.redisClient, referral.ReferrerUserID, holder)
	if err := pointsLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return ErrConcurrencyConflict
	}
	defer pointsLock.Unlock(ctx)

	return s.db.Transaction(func(tx *gorm.DB) error {
		// 事务内计算序位：此前已确认的推荐数决定本次加成
		priorConfirmed, err := s.referralRepo.CountConfirmedByReferrer(ctx, tx, referral.ReferrerUserID)
		if err != nil {
			return fmt.Errorf("统计已确认推荐失败: %w", err)
		}

		points := reward.ComputePoints(planPurchased, priorConfirmed)
		now := time.Now()

		err = s.referralRepo.UpdateStatus(ctx, tx, referralID,
			model.ReferralStatusPending, model.ReferralStatusConfirmed,
			map[string]interface{}{
				"plan_purchased": planPurchased,
				"points_awarded": points,
				"confirmed_at":   &now,
			})
		if err != nil {
			if errors.Is(err, repository.ErrStatusInvalid) {
				// 并发确认：对方已完成翻转，本次按幂等成功处理
				return nil
			}
			return fmt.Errorf("更新推荐状态失败: %w", err)
		}

		entry := &model.LedgerEntry{
			EntryNo:           idgen.GenerateEntryNo(),
			UserID:            referral.ReferrerUserID,
			Amount:            points,
			Reason:            model.ReasonReferralAward,
			RelatedReferralID: &referralID,
			Remark:            fmt.Sprintf("推荐奖励-%s-第%d次确认", planPurchased, priorConfirmed+1),
		}
		if err := s.ledgerRepo.Append(ctx, tx, entry); err != nil {
			if errors.Is(err, repository.ErrDuplicateEntry) {
				return fmt.Errorf("推荐已入账，状态不一致: %w", err)
			}
			return fmt.Errorf("记录入账流水失败: %w", err)
		}

		msg := repository.NewEventMessage(
			s.cfg.Kafka.Topic.ReferralEvents,
			fmt.Sprintf("referral-%d", referralID),
			model.EventReferralConfirmed,
			map[string]interface{}{
				"referral_id":      referralID,
				"referrer_user_id": referral.ReferrerUserID,
				"plan_purchased":   planPurchased,
				"points_awarded":   points,
				"confirmed_at":     now.Format(time.RFC3339),
			})
		if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("写入事件失败: %w", err)
		}

		log.Printf("[Referral] 确认成功: referralID=%d, referrer=%d, plan=%s, points=%d",
			referralID, referral.ReferrerUserID, planPurchased, points)
		return nil
	})
}

// Cancel 购买被退款，取消推荐并冲正积分
//
// 只允许 confirmed -> cancelled；冲正流水金额等于原入账的相反数，
// 可能把余额打成负数——允许，这正是"先提现后退款"应有的账面结果。
// (related_referral_id, referral_reversal) 唯一索引保证冲正至多一次
func (s *ReferralService) Cancel(ctx context.Context, referralID int64, reason string) (*model.Referral, error) {
	referral, err := s.referralRepo.GetByID(ctx, referralID)
	if err != nil {
		return nil, err
	}

	if referral.Status != model.ReferralStatusConfirmed {
		return nil, ErrInvalidTransition
	}

	err = withBackoff(s.cfg.Business.MaxRetryCount, func() error {
		return s.cancelOnce(ctx, referral, reason)
	})
	if err != nil {
		return nil, err
	}

	return s.referralRepo.GetByID(ctx, referralID)
}

func (s *ReferralService) cancelOnce(ctx context.Context, referral *model.Referral, reason string) error {
	holder := fmt.Sprintf("cancel:%d", referral.ID)
	pointsLock := lock.NewPointsLock(s.redisClient, referral.ReferrerUserID, holder)
	if err := pointsLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return ErrConcurrencyConflict
	}
	defer pointsLock.Unlock(ctx)

	referralID := referral.ID

	return s.db.Transaction(func(tx *gorm.DB) error {
		err := s.referralRepo.UpdateStatus(ctx, tx, referralID,
			model.ReferralStatusConfirmed, model.ReferralStatusCancelled, nil)
		if err != nil {
			if errors.Is(err, repository.ErrStatusInvalid) {
				return ErrInvalidTransition
			}
			return fmt.Errorf("更新推荐状态失败: %w", err)
		}

		entry := &model.LedgerEntry{
			EntryNo:           idgen.GenerateEntryNo(),
			UserID:            referral.ReferrerUserID,
			Amount:            -referral.PointsAwarded,
			Reason:            model.ReasonReferralReversal,
			RelatedReferralID: &referralID,
			Remark:            fmt.Sprintf("推荐取消冲正-%s", reason),
		}
		if err := s.ledgerRepo.Append(ctx, tx, entry); err != nil {
			if errors.Is(err, repository.ErrDuplicateEntry) {
				return ErrInvalidTransition
			}
			return fmt.Errorf("记录冲正流水失败: %w", err)
		}

		msg := repository.NewEventMessage(
			s.cfg.Kafka.Topic.ReferralEvents,
			fmt.Sprintf("referral-%d", referralID),
			model.EventReferralCancelled,
			map[string]interface{}{
				"referral_id":      referralID,
				"referrer_user_id": referral.ReferrerUserID,
				"points_reversed":  referral.PointsAwarded,
				"reason":           reason,
			})
		if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("写入事件失败: %w", err)
		}

		log.Printf("[Referral] 取消成功: referralID=%d, referrer=%d, reversed=%d",
			referralID, referral.ReferrerUserID, referral.PointsAwarded)
		return nil
	})
}
