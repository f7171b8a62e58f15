package repository

import (
	"context"
	"errors"
	"time"

	"referralengine/internal/model"

	"gorm.io/gorm"
)

var (
	ErrCashbackNotFound = errors.New("提现申请不存在")
	ErrAlreadyResolved  = errors.New("提现申请已处理")
)

type CashbackRepository struct {
	db *gorm.DB
}

func NewCashbackRepository(db *gorm.DB) *CashbackRepository {
	return &CashbackRepository{db: db}
}

func (r *CashbackRepository) Create(ctx context.Context, tx *gorm.DB, req *model.CashbackRequest) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(req).Error
}

func (r *CashbackRepository) GetByID(ctx context.Context, id int64) (*model.CashbackRequest, error) {
	var req model.CashbackRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCashbackNotFound
		}
		return nil, err
	}
	return &req, nil
}

// Resolve 单次终结提现申请
// WHERE status = pending 保证同一申请只能被处理一次，
// 两个管理员并发审批时后到的 RowsAffected == 0
func (r *CashbackRepository) Resolve(ctx context.Context, tx *gorm.DB, id int64, toStatus string, resolvedBy int64, note string) error {
	if toStatus != model.CashbackStatusApproved && toStatus != model.CashbackStatusRejected {
		return ErrAlreadyResolved
	}

	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.CashbackRequest{}).
		Where("id = ? AND status = ?", id, model.CashbackStatusPending).
		Updates(map[string]interface{}{
			"status":          toStatus,
			"resolved_by":     resolvedBy,
			"resolution_note": note,
			"resolved_at":     &now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAlreadyResolved
	}

	return nil
}

// List 按状态过滤的分页列表（管理端），空状态查全部，新的在前
func (r *CashbackRepository) List(ctx context.Context, status string, page, pageSize int) ([]*model.CashbackRequest, int64, error) {
	var requests []*model.CashbackRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CashbackRequest{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&requests).Error

	return requests, total, err
}

// ListByUserID 用户自己的提现申请，新的在前
func (r *CashbackRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.CashbackRequest, int64, error) {
	var requests []*model.CashbackRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CashbackRequest{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&requests).Error

	return requests, total, err
}
