package service

import (
	"context"
	"sync"
	"testing"

	"referralengine/internal/model"
	"referralengine/internal/repository"
	"referralengine/pkg/idgen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// seedPoints 直接追加一条入账流水给用户铺底余额
func seedPoints(t *testing.T, db *gorm.DB, userID, points int64) {
	t.Helper()
	referralID := idgen.NextID()
	entry := &model.LedgerEntry{
		EntryNo:           idgen.GenerateEntryNo(),
		UserID:            userID,
		Amount:            points,
		Reason:            model.ReasonReferralAward,
		RelatedReferralID: &referralID,
		Remark:            "测试铺底",
	}
	require.NoError(t, repository.NewLedgerRepository(db).Append(context.Background(), nil, entry))
}

func TestRequestValidation(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewCashbackService(db, rdb, cfg)
	ctx := context.Background()
	userID := idgen.NextID()
	seedPoints(t, db, userID, 1000)

	tests := []struct {
		name    string
		input   *CashbackRequestInput
		wantErr error
	}{
		{"低于最低额度", &CashbackRequestInput{UserID: userID, PointsAmount: 50, Method: model.PaymentMethodCreditAccount}, ErrBelowMinimum},
		{"非兑换单位整数倍", &CashbackRequestInput{UserID: userID, PointsAmount: 150, Method: model.PaymentMethodCreditAccount}, ErrNotMultipleOfUnit},
		{"pix缺少收款key", &CashbackRequestInput{UserID: userID, PointsAmount: 100, Method: model.PaymentMethodPix}, ErrInvalidPaymentMethod},
		{"银行转账缺少账户信息", &CashbackRequestInput{UserID: userID, PointsAmount: 100, Method: model.PaymentMethodBankTransfer}, ErrInvalidPaymentMethod},
		{"未知支付方式", &CashbackRequestInput{UserID: userID, PointsAmount: 100, Method: "paypal"}, ErrInvalidPaymentMethod},
		{"非法用户", &CashbackRequestInput{UserID: 0, PointsAmount: 100, Method: model.PaymentMethodPix, PixKey: "k"}, ErrInvalidUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Request(ctx, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRequestInsufficientBalance(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewCashbackService(db, rdb, cfg)
	ctx := context.Background()
	userID := idgen.NextID()
	seedPoints(t, db, userID, 50)

	_, err := svc.Request(ctx, &CashbackRequestInput{
		UserID:       userID,
		PointsAmount: 100,
		Method:       model.PaymentMethodCreditAccount,
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// 失败的申请不留任何流水
	balance, err := repository.NewLedgerRepository(db).SumByUserID(ctx, nil, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

func TestRequestReservesPoints(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewCashbackService(db, rdb, cfg)
	ledgerRepo := repository.NewLedgerRepository(db)
	ctx := context.Background()
	userID := idgen.NextID()
	seedPoints(t, db, userID, 300)

	request, err := svc.Request(ctx, &CashbackRequestInput{
		UserID:       userID,
		PointsAmount: 200,
		Method:       model.PaymentMethodPix,
		PixKey:       "user@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CashbackStatusPending, request.Status)
	assert.Equal(t, int64(2000), request.CashAmountCents) // 200 积分 = R$20

	balance, err := ledgerRepo.SumByUserID(ctx, nil, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	reserve, err := ledgerRepo.GetByCashbackAndReason(ctx, request.ID, model.ReasonCashbackReserve)
	require.NoError(t, err)
	require.NotNil(t, reserve)
	assert.Equal(t, int64(-200), reserve.Amount)
}

func TestRejectRestoresBalance(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewCashbackService(db, rdb, cfg)
	ledgerRepo := repository.NewLedgerRepository(db)
	ctx := context.Background()
	userID := idgen.NextID()
	adminID := idgen.NextID()
	seedPoints(t, db, userID, 300)

	request, err := svc.Request(ctx, &CashbackRequestInput{
		UserID:       userID,
		PointsAmount: 200,
		Method:       model.PaymentMethodCreditAccount,
	})
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, request.ID, model.CashbackStatusRejected, adminID, "收款信息有误")
	require.NoError(t, err)
	assert.Equal(t, model.CashbackStatusRejected, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, adminID, *resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)

	// 驳回后预扣原数返还
	balance, err := ledgerRepo.SumByUserID(ctx, nil, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)

	release, err := ledgerRepo.GetByCashbackAndReason(ctx, request.ID, model.ReasonCashbackRelease)
	require.NoError(t, err)
	require.NotNil(t, release)
	assert.Equal(t, int64(200), release.Amount)
}

func TestApproveSettles(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewCashbackService(db, rdb, cfg)
	ledgerRepo := repository.NewLedgerRepository(db)
	ctx := context.Background()
	userID := idgen.NextID()
	adminID := idgen.NextID()
	seedPoints(t, db, userID, 200)

	request, err := svc.Request(ctx, &CashbackRequestInput{
		UserID:       userID,
		PointsAmount: 200,
		Method:       model.PaymentMethodPix,
		PixKey:       "user@example.com",
	})
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, request.ID, model.CashbackStatusApproved, adminID, "已打款")
	require.NoError(t, err)
	assert.Equal(t, model.CashbackStatusApproved, resolved.Status)

	// 通过不返还积分，预扣即最终成本
	balance, err := ledgerRepo.SumByUserID(ctx, nil, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	settle, err := ledgerRepo.GetByCashbackAndReason(ctx, request.ID, model.ReasonCashbackSettle)
	require.NoError(t, err)
	require.NotNil(t, settle)
	assert.Equal(t, int64(0), settle.Amount)

	// 重复审批拿到终态错误
	_, err = svc.Resolve(ctx, request.ID, model.CashbackStatusRejected, adminID, "改判")
	assert.ErrorIs(t, err, repository.ErrAlreadyResolved)
}

func TestResolveInvalidOutcome(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewCashbackService(db, rdb, cfg)

	_, err := svc.Resolve(context.Background(), idgen.NextID(), "maybe", 1, "")
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

// 余额 150 的用户并发两笔 100 的申请，必须恰好一成一败，终余额 50
func TestConcurrentRequestsSingleWinner(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewCashbackService(db, rdb, cfg)
	ledgerRepo := repository.NewLedgerRepository(db)
	ctx := context.Background()
	userID := idgen.NextID()
	seedPoints(t, db, userID, 150)

	// 单测里的单位是 100，150 只够一笔
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Request(ctx, &CashbackRequestInput{
				UserID:       userID,
				PointsAmount: 100,
				Method:       model.PaymentMethodCreditAccount,
			})
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrInsufficientBalance)
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	balance, err := ledgerRepo.SumByUserID(ctx, nil, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

func TestListByUser(t *testing.T) {
	db, rdb, cfg := setupTestDeps(t)
	svc := NewCashbackService(db, rdb, cfg)
	ctx := context.Background()
	userID := idgen.NextID()
	seedPoints(t, db, userID, 500)

	for i := 0; i < 3; i++ {
		_, err := svc.Request(ctx, &CashbackRequestInput{
			UserID:       userID,
			PointsAmount: 100,
			Method:       model.PaymentMethodCreditAccount,
		})
		require.NoError(t, err)
	}

	requests, total, err := svc.ListByUser(ctx, userID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, requests, 3)
}
