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
	ErrBelowMinimum         = errors.New("提现积分低于最低额度")
	ErrNotMultipleOfUnit    = errors.New("提现积分必须是兑换单位的整数倍")
	ErrInsufficientBalance  = errors.New("积分余额不足")
	ErrInvalidPaymentMethod = errors.New("支付方式不合法或缺少收款信息")
	ErrInvalidOutcome       = errors.New("审批结果不合法")
)

// CashbackService 积分提现工作流
type CashbackService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	cashbackRepo *repository.CashbackRepository
	ledgerRepo   *repository.LedgerRepository
	outboxRepo   *repository.OutboxRepository
}

func NewCashbackService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *CashbackService {
	return &CashbackService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		cashbackRepo: repository.NewCashbackRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
	}
}

type CashbackRequestInput struct {
	UserID       int64
	PointsAmount int64
	Method       string
	PixKey       string
	BankDetails  string
}

// Request 申请提现
//
// 【关键点】申请时刻就预扣积分，而不是审批通过时：
// 预扣流水落账后，余额 150 的用户并发两笔 100 的申请
// 必然一成一败，不存在两笔都通过的窗口。
// "算余额 + 预扣"在用户锁和同一事务内完成，余额读的是锁内视角
func (s *CashbackService) Request(ctx context.Context, input *CashbackRequestInput) (*model.CashbackRequest, error) {
	if input.UserID <= 0 {
		return nil, ErrInvalidUser
	}
	if input.PointsAmount < model.CashbackMinPoints {
		return nil, ErrBelowMinimum
	}
	if input.PointsAmount%model.CashbackUnitPoints != 0 {
		return nil, ErrNotMultipleOfUnit
	}

	switch input.Method {
	case model.PaymentMethodPix:
		if input.PixKey == "" {
			return nil, ErrInvalidPaymentMethod
		}
	case model.PaymentMethodBankTransfer:
		if input.BankDetails == "" {
			return nil, ErrInvalidPaymentMethod
		}
	case model.PaymentMethodCreditAccount:
		// 记入站内余额，不需要收款信息
	default:
		return nil, ErrInvalidPaymentMethod
	}

	var request *model.CashbackRequest
	err := withBackoff(s.cfg.Business.MaxRetryCount, func() error {
		req, err := s.requestOnce(ctx, input)
		if err != nil {
			return err
		}
		request = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *CashbackService) requestOnce(ctx context.Context, input *CashbackRequestInput) (*model.CashbackRequest, error) {
	holder := fmt.Sprintf("cashback:%d:%d", input.UserID, idgen.NextID())
	pointsLock := lock.NewPointsLock(s.redisClient, input.UserID, holder)
	if err := pointsLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, ErrConcurrencyConflict
	}
	defer pointsLock.Unlock(ctx)

	request := &model.CashbackRequest{
		UserID:          input.UserID,
		PointsAmount:    input.PointsAmount,
		CashAmountCents: reward.CashAmountCents(input.PointsAmount),
		PaymentMethod:   input.Method,
		PixKey:          input.PixKey,
		BankDetails:     input.BankDetails,
		Status:          model.CashbackStatusPending,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 锁内算余额：FOR UPDATE 锁住该用户流水，并发申请串行通过这里
		balance, err := s.ledgerRepo.SumByUserID(ctx, tx, input.UserID)
		if err != nil {
			return fmt.Errorf("计算余额失败: %w", err)
		}
		if balance < input.PointsAmount {
			return ErrInsufficientBalance
		}

		if err := s.cashbackRepo.Create(ctx, tx, request); err != nil {
			return fmt.Errorf("创建提现申请失败: %w", err)
		}

		entry := &model.LedgerEntry{
			EntryNo:           idgen.GenerateEntryNo(),
			UserID:            input.UserID,
			Amount:            -input.PointsAmount,
			Reason:            model.ReasonCashbackReserve,
			RelatedCashbackID: &request.ID,
			Remark:            fmt.Sprintf("提现预扣-%s", input.Method),
		}
		if err := s.ledgerRepo.Append(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录预扣流水失败: %w", err)
		}

		msg := repository.NewEventMessage(
			s.cfg.Kafka.Topic.CashbackEvents,
			fmt.Sprintf("cashback-%d", request.ID),
			model.EventCashbackRequested,
			map[string]interface{}{
				"request_id":        request.ID,
				"user_id":           input.UserID,
				"points_amount":     input.PointsAmount,
				"cash_amount_cents": request.CashAmountCents,
				"payment_method":    input.Method,
			})
		if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("写入事件失败: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Cashback] 申请成功: requestID=%d, userID=%d, points=%d",
		request.ID, input.UserID, input.PointsAmount)
	return request, nil
}

// Resolve 管理员审批提现申请（approved / rejected 均为终态）
//
// approved：预扣流水即最终成本，只补一条 0 额 cashback_settle 审计标记，
// 外部打款由下游消费 cashback_approved 事件触发；
// rejected：补一条 cashback_release 流水，把预扣原数返还。
// WHERE status = pending 的条件更新保证重复审批拿到 ErrAlreadyResolved
func (s *CashbackService) Resolve(ctx context.Context, requestID int64, outcome string, resolvedBy int64, note string) (*model.CashbackRequest, error) {
	if outcome != model.CashbackStatusApproved && outcome != model.CashbackStatusRejected {
		return nil, ErrInvalidOutcome
	}

	request, err := s.cashbackRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.IsResolved() {
		return nil, repository.ErrAlreadyResolved
	}

	holder := fmt.Sprintf("resolve:%d", requestID)
	pointsLock := lock.NewPointsLock(s.redisClient, request.UserID, holder)
	if err := pointsLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, ErrConcurrencyConflict
	}
	defer pointsLock.Unlock(ctx)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.cashbackRepo.Resolve(ctx, tx, requestID, outcome, resolvedBy, note); err != nil {
			return err
		}

		var entry *model.LedgerEntry
		var eventType string
		if outcome == model.CashbackStatusApproved {
			eventType = model.EventCashbackApproved
			entry = &model.LedgerEntry{
				EntryNo:           idgen.GenerateEntryNo(),
				UserID:            request.UserID,
				Amount:            0,
				Reason:            model.ReasonCashbackSettle,
				RelatedCashbackID: &requestID,
				Remark:            fmt.Sprintf("提现结算-%s", note),
			}
		} else {
			eventType = model.EventCashbackRejected
			entry = &model.LedgerEntry{
				EntryNo:           idgen.GenerateEntryNo(),
				UserID:            request.UserID,
				Amount:            request.PointsAmount,
				Reason:            model.ReasonCashbackRelease,
				RelatedCashbackID: &requestID,
				Remark:            fmt.Sprintf("提现驳回返还-%s", note),
			}
		}

		if err := s.ledgerRepo.Append(ctx, tx, entry); err != nil {
			if errors.Is(err, repository.ErrDuplicateEntry) {
				return repository.ErrAlreadyResolved
			}
			return fmt.Errorf("记录审批流水失败: %w", err)
		}

		msg := repository.NewEventMessage(
			s.cfg.Kafka.Topic.CashbackEvents,
			fmt.Sprintf("cashback-%d", requestID),
			eventType,
			map[string]interface{}{
				"request_id":        requestID,
				"user_id":           request.UserID,
				"points_amount":     request.PointsAmount,
				"cash_amount_cents": request.CashAmountCents,
				"payment_method":    request.PaymentMethod,
				"resolved_by":       resolvedBy,
				"note":              note,
			})
		if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("写入事件失败: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Cashback] 审批完成: requestID=%d, outcome=%s, admin=%d", requestID, outcome, resolvedBy)
	return s.cashbackRepo.GetByID(ctx, requestID)
}

// List 管理端列表，status 为空查全部
func (s *CashbackService) List(ctx context.Context, status string, page, pageSize int) ([]*model.CashbackRequest, int64, error) {
	return s.cashbackRepo.List(ctx, status, page, pageSize)
}

// ListByUser 用户自己的提现申请
func (s *CashbackService) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.CashbackRequest, int64, error) {
	return s.cashbackRepo.ListByUserID(ctx, userID, page, pageSize)
}
