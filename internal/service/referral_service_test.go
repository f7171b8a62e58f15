package service

import (
	"context"
	"testing"

	"referralengine/internal/model"
	"referralengine/internal/repository"
	"referralengine/pkg/idgen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateCode(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewReferralService(db, rdb, cfg)
	ctx := context.Background()

	userID := idgen.NextID()

	code1, err := svc.GetOrCreateCode(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, code1.UserID)
	assert.NotEmpty(t, code1.Code)

	// 幂等：重复请求拿到同一个码
	code2, err := svc.GetOrCreateCode(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, code1.Code, code2.Code)

	_, err = svc.GetOrCreateCode(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestAttribute(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewReferralService(db, rdb, cfg)
	ctx := context.Background()

	referrerID := idgen.NextID()
	referredID := idgen.NextID()

	code, err := svc.GetOrCreateCode(ctx, referrerID)
	require.NoError(t, err)

	referral, err := svc.Attribute(ctx, code.Code, referredID)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusPending, referral.Status)
	assert.Equal(t, referrerID, referral.ReferrerUserID)
	require.NotNil(t, referral.ReferredUserID)
	assert.Equal(t, referredID, *referral.ReferredUserID)

	// 同一用户不能被推荐两次
	_, err = svc.Attribute(ctx, code.Code, referredID)
	assert.ErrorIs(t, err, repository.ErrAlreadyAttributed)

	// 不能自推荐
	_, err = svc.Attribute(ctx, code.Code, referrerID)
	assert.ErrorIs(t, err, ErrSelfReferral)

	// 未知推荐码
	_, err = svc.Attribute(ctx, "NOSUCHCODE", idgen.NextID())
	assert.ErrorIs(t, err, ErrUnknownCode)
}

func TestConfirmIdempotent(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewReferralService(db, rdb, cfg)
	ledgerRepo := repository.NewLedgerRepository(db)
	ctx := context.Background()

	referrerID := idgen.NextID()
	referredID := idgen.NextID()

	code, err := svc.GetOrCreateCode(ctx, referrerID)
	require.NoError(t, err)
	referral, err := svc.Attribute(ctx, code.Code, referredID)
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, referral.ID, model.PlanPremium)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusConfirmed, confirmed.Status)
	assert.Equal(t, int64(200), confirmed.PointsAwarded)
	require.NotNil(t, confirmed.ConfirmedAt)

	// 购买事件重投递：重复确认不产生新流水，积分冻结不变
	again, err := svc.Confirm(ctx, referral.ID, model.PlanVIP)
	require.NoError(t, err)
	assert.Equal(t, int64(200), again.PointsAwarded)
	assert.Equal(t, model.PlanPremium, *again.PlanPurchased)

	balance, err := ledgerRepo.SumByUserID(ctx, nil, referrerID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)

	entries, total, err := ledgerRepo.ListByUserID(ctx, referrerID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, model.ReasonReferralAward, entries[0].Reason)
}

func TestConfirmOrdinalBonus(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewReferralService(db, rdb, cfg)
	ledgerRepo := repository.NewLedgerRepository(db)
	ctx := context.Background()

	referrerID := idgen.NextID()
	code, err := svc.GetOrCreateCode(ctx, referrerID)
	require.NoError(t, err)

	// 第1、2次无加成，第3次 +150
	wantPoints := []int64{100, 100, 250}
	for i, want := range wantPoints {
		referral, err := svc.Attribute(ctx, code.Code, idgen.NextID())
		require.NoError(t, err)
		confirmed, err := svc.Confirm(ctx, referral.ID, model.PlanBasic)
		require.NoError(t, err)
		assert.Equal(t, want, confirmed.PointsAwarded, "第%d次确认", i+1)
	}

	balance, err := ledgerRepo.SumByUserID(ctx, nil, referrerID)
	require.NoError(t, err)
	assert.Equal(t, int64(450), balance)
}

func TestCancelReversesAward(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewReferralService(db, rdb, cfg)
	ledgerRepo := repository.NewLedgerRepository(db)
	ctx := context.Background()

	referrerID := idgen.NextID()
	code, err := svc.GetOrCreateCode(ctx, referrerID)
	require.NoError(t, err)
	referral, err := svc.Attribute(ctx, code.Code, idgen.NextID())
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, referral.ID, model.PlanBasic)
	require.NoError(t, err)
	require.Equal(t, int64(100), confirmed.PointsAwarded)

	cancelled, err := svc.Cancel(ctx, referral.ID, "退款")
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusCancelled, cancelled.Status)

	// 入账和冲正都在流水里，净贡献为 0
	entries, total, err := ledgerRepo.ListByUserID(ctx, referrerID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, model.ReasonReferralReversal, entries[0].Reason)
	assert.Equal(t, int64(-100), entries[0].Amount)
	assert.Equal(t, model.ReasonReferralAward, entries[1].Reason)
	assert.Equal(t, int64(100), entries[1].Amount)

	balance, err := ledgerRepo.SumByUserID(ctx, nil, referrerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	// 重复取消、取消 pending 都是非法转换
	_, err = svc.Cancel(ctx, referral.ID, "再次退款")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	pending, err := svc.Attribute(ctx, code.Code, idgen.NextID())
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, pending.ID, "未确认")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBalanceEqualsPagedHistorySum(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewReferralService(db, rdb, cfg)
	ledgerRepo := repository.NewLedgerRepository(db)
	ctx := context.Background()

	referrerID := idgen.NextID()
	code, err := svc.GetOrCreateCode(ctx, referrerID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		referral, err := svc.Attribute(ctx, code.Code, idgen.NextID())
		require.NoError(t, err)
		_, err = svc.Confirm(ctx, referral.ID, model.PlanPremium)
		require.NoError(t, err)
	}

	balance, err := ledgerRepo.SumByUserID(ctx, nil, referrerID)
	require.NoError(t, err)

	// 翻页累加全量流水，必须与 SUM 余额一致
	var paged int64
	page := 1
	for {
		entries, _, err := ledgerRepo.ListByUserID(ctx, referrerID, page, 2)
		require.NoError(t, err)
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			paged += e.Amount
		}
		page++
	}
	assert.Equal(t, balance, paged)
}
