package repository

import (
	"context"
	"errors"
	"time"

	"referralengine/internal/model"
	"referralengine/pkg/idgen"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrReferralNotFound  = errors.New("推荐记录不存在")
	ErrCodeNotFound      = errors.New("推荐码不存在")
	ErrAlreadyAttributed = errors.New("该用户已被推荐过")
	ErrStatusInvalid     = errors.New("推荐状态不允许该转换")
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// ============================================================
// 推荐码
// ============================================================

// GetOrCreateCode 懒创建推荐码，幂等
// 并发首次请求时靠 user_id 唯一索引 + OnConflict DoNothing 收敛到同一条
func (r *ReferralRepository) GetOrCreateCode(ctx context.Context, userID int64) (*model.ReferralCode, error) {
	code, err := r.GetCodeByUserID(ctx, userID)
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, ErrCodeNotFound) {
		return nil, err
	}

	newCode := &model.ReferralCode{
		UserID: userID,
		Code:   idgen.GenerateReferralCode(),
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newCode).Error
	if err != nil {
		return nil, err
	}

	return r.GetCodeByUserID(ctx, userID)
}

func (r *ReferralRepository) GetCodeByUserID(ctx context.Context, userID int64) (*model.ReferralCode, error) {
	var code model.ReferralCode
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return &code, nil
}

func (r *ReferralRepository) GetCodeByCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	var rc model.ReferralCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&rc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return &rc, nil
}

// ============================================================
// 推荐记录
// ============================================================

// Create 新建推荐记录
// referred_user_id 唯一索引兜底"一个用户至多被推荐一次"
func (r *ReferralRepository) Create(ctx context.Context, tx *gorm.DB, referral *model.Referral) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(referral).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyAttributed
		}
		return err
	}
	return nil
}

func (r *ReferralRepository) GetByID(ctx context.Context, id int64) (*model.Referral, error) {
	var referral model.Referral
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&referral).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReferralNotFound
		}
		return nil, err
	}
	return &referral, nil
}

// GetByReferredUserID 按被推荐人查推荐记录，不存在返回 nil
func (r *ReferralRepository) GetByReferredUserID(ctx context.Context, referredUserID int64) (*model.Referral, error) {
	var referral model.Referral
	err := r.db.WithContext(ctx).Where("referred_user_id = ?", referredUserID).First(&referral).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &referral, nil
}

// UpdateStatus 条件状态转换
// WHERE 带上 fromStatus，RowsAffected == 0 即说明状态已被并发修改
func (r *ReferralRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string, updates map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = toStatus

	if toStatus == model.ReferralStatusConfirmed {
		if _, ok := updates["confirmed_at"]; !ok {
			now := time.Now()
			updates["confirmed_at"] = &now
		}
	}

	result := tx.WithContext(ctx).
		Model(&model.Referral{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}

	return nil
}

// ListByReferrerID 推荐人的全部推荐记录，新的在前
func (r *ReferralRepository) ListByReferrerID(ctx context.Context, referrerUserID int64) ([]*model.Referral, error) {
	var referrals []*model.Referral
	err := r.db.WithContext(ctx).
		Where("referrer_user_id = ?", referrerUserID).
		Order("created_at DESC").
		Find(&referrals).Error
	return referrals, err
}

// CountConfirmedByReferrer 推荐人已确认的推荐数
// 在确认事务内调用时传入 tx，保证序位加成按同一事务视角计算
func (r *ReferralRepository) CountConfirmedByReferrer(ctx context.Context, tx *gorm.DB, referrerUserID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.Referral{}).
		Where("referrer_user_id = ? AND status = ?", referrerUserID, model.ReferralStatusConfirmed).
		Count(&count).Error
	return count, err
}

// CountConfirmedByReferrerSince 某时间点后已确认的推荐数（用于当月统计）
func (r *ReferralRepository) CountConfirmedByReferrerSince(ctx context.Context, referrerUserID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Referral{}).
		Where("referrer_user_id = ? AND status = ? AND confirmed_at >= ?", referrerUserID, model.ReferralStatusConfirmed, since).
		Count(&count).Error
	return count, err
}
