package service

import (
	"context"
	"time"

	"referralengine/internal/model"
	"referralengine/internal/reward"
	"referralengine/internal/repository"

	"gorm.io/gorm"
)

// FreeMonthThreshold 每确认 2 个推荐折算 1 个月免费订阅
const FreeMonthThreshold = 2

// StatsService 只读聚合门面，供展示层消费
// 余额永远现算自流水，推荐数现算自推荐表，没有任何缓存计数器
type StatsService struct {
	referralRepo *repository.ReferralRepository
	ledgerRepo   *repository.LedgerRepository
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{
		referralRepo: repository.NewReferralRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
	}
}

type ReferralStats struct {
	PointsBalance        int64 `json:"points_balance"`
	CashValue            int64 `json:"cash_value"` // R$，向下取整
	TotalReferrals       int64 `json:"total_referrals"`
	ThisMonthReferrals   int64 `json:"this_month_referrals"`
	FreeMonthsRemaining  int64 `json:"free_months_remaining"`
	ReferralsToFreeMonth int64 `json:"referrals_to_free_month"`
}

// GetStats 用户推荐面板数据
func (s *StatsService) GetStats(ctx context.Context, userID int64) (*ReferralStats, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}

	balance, err := s.ledgerRepo.SumByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	totalConfirmed, err := s.referralRepo.CountConfirmedByReferrer(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	thisMonth, err := s.referralRepo.CountConfirmedByReferrerSince(ctx, userID, monthStart)
	if err != nil {
		return nil, err
	}

	toFreeMonth := FreeMonthThreshold - thisMonth
	if toFreeMonth < 0 {
		toFreeMonth = 0
	}

	return &ReferralStats{
		PointsBalance:        balance,
		CashValue:            reward.CashValue(balance),
		TotalReferrals:       totalConfirmed,
		ThisMonthReferrals:   thisMonth,
		FreeMonthsRemaining:  totalConfirmed / FreeMonthThreshold,
		ReferralsToFreeMonth: toFreeMonth,
	}, nil
}

// ListReferrals 用户的推荐记录，新的在前
func (s *StatsService) ListReferrals(ctx context.Context, userID int64) ([]*model.Referral, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	return s.referralRepo.ListByReferrerID(ctx, userID)
}

// PointsHistory 分页积分流水，新的在前
func (s *StatsService) PointsHistory(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	if userID <= 0 {
		return nil, 0, ErrInvalidUser
	}
	return s.ledgerRepo.ListByUserID(ctx, userID, page, pageSize)
}
