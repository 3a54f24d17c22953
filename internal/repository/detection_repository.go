package repository

import (
	"context"
	"pii-audit-go/internal/model"

	"gorm.io/gorm"
)

// PIIDetectionRepository 定义了 PII 检测结果的持久化操作。
type PIIDetectionRepository interface {
	Create(ctx context.Context, det *model.PIIDetectionLog) error
	FindByAuditLogID(ctx context.Context, auditLogID string) (*model.PIIDetectionLog, error)
	FindAllByTenant(ctx context.Context, tenantID string) ([]model.PIIDetectionLog, error)
}

type piiDetectionRepository struct {
	db *gorm.DB
}

// NewPIIDetectionRepository 创建一个新的 PIIDetectionRepository 实例。
func NewPIIDetectionRepository(db *gorm.DB) PIIDetectionRepository {
	return &piiDetectionRepository{db: db}
}

func (r *piiDetectionRepository) Create(ctx context.Context, det *model.PIIDetectionLog) error {
	return r.db.WithContext(ctx).Create(det).Error
}

// FindByAuditLogID 返回某条对话日志的检测结果，不存在时返回 gorm.ErrRecordNotFound。
func (r *piiDetectionRepository) FindByAuditLogID(ctx context.Context, auditLogID string) (*model.PIIDetectionLog, error) {
	var det model.PIIDetectionLog
	err := r.db.WithContext(ctx).
		Where("audit_log_id = ?", auditLogID).
		Order("detection_timestamp ASC").
		First(&det).Error
	if err != nil {
		return nil, err
	}
	return &det, nil
}

// FindAllByTenant 返回租户的全部检测结果，按 (detection_timestamp, id) 倒序。
func (r *piiDetectionRepository) FindAllByTenant(ctx context.Context, tenantID string) ([]model.PIIDetectionLog, error) {
	var dets []model.PIIDetectionLog
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("detection_timestamp DESC").Order("id DESC").
		Find(&dets).Error
	return dets, err
}
