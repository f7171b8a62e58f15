package repository

import (
	"context"
	"errors"

	"referralengine/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDuplicateEntry = errors.New("流水已存在")
)

// LedgerRepository 积分流水仓储
// 整个系统里唯一写 ledger_entry 的地方，只提供追加和读取，没有更新和删除
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append 追加一条流水
// 命中 (related_referral_id, reason) 或 (related_cashback_id, reason)
// 唯一索引时返回 ErrDuplicateEntry，调用方据此实现幂等
func (r *LedgerRepository) Append(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEntry
		}
		return err
	}
	return nil
}

// SumByUserID 计算用户余额 = SUM(amount)
//
// 【关键点】在事务内调用时加 FOR UPDATE 锁住该用户的全部流水行，
// 使"算余额 -> 按余额写扣减"在同一事务边界内串行化，避免读到过期余额
func (r *LedgerRepository) SumByUserID(ctx context.Context, tx *gorm.DB, userID int64) (int64, error) {
	db := r.db
	locking := false
	if tx != nil {
		db = tx
		locking = true
	}

	query := db.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID)
	if locking {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var sum int64
	if err := query.Scan(&sum).Error; err != nil {
		return 0, err
	}
	return sum, nil
}

// GetByReferralAndReason 按 (推荐ID, 原因) 查流水，不存在返回 nil
func (r *LedgerRepository) GetByReferralAndReason(ctx context.Context, referralID int64, reason string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("related_referral_id = ? AND reason = ?", referralID, reason).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// GetByCashbackAndReason 按 (提现申请ID, 原因) 查流水，不存在返回 nil
func (r *LedgerRepository) GetByCashbackAndReason(ctx context.Context, cashbackID int64, reason string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("related_cashback_id = ? AND reason = ?", cashbackID, reason).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListByUserID 分页查询用户流水，新的在前
func (r *LedgerRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}
