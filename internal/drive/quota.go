package drive

import (
	"context"
	"errors"
	"fmt"

	"github.com/agjmills/nimbus/internal/database/models"
	"github.com/agjmills/nimbus/internal/metrics"
	"gorm.io/gorm"
)

// Usage is a user's storage consumption.
type Usage struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// reserve charges size bytes to userID. The limit check and the increment are one
// statement, so concurrent reservations can never push storage_used past the quota.
func reserve(tx *gorm.DB, userID uint, size int64, operation string) error {
	res := tx.Model(&models.User{}).
		Where("id = ? AND storage_used + ? <= storage_quota", userID, size).
		UpdateColumn("storage_used", gorm.Expr("storage_used + ?", size))
	if res.Error != nil {
		return fmt.Errorf("failed to reserve quota: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		metrics.QuotaRejections.WithLabelValues(operation).Inc()
		return ErrQuotaExceeded
	}
	return nil
}

// release returns size bytes to userID, never dropping below zero.
func release(tx *gorm.DB, userID uint, size int64) error {
	if size <= 0 {
		return nil
	}
	err := tx.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("storage_used", gorm.Expr("CASE WHEN storage_used >= ? THEN storage_used - ? ELSE 0 END", size, size)).Error
	if err != nil {
		return fmt.Errorf("failed to release quota: %w", err)
	}
	return nil
}

// Usage reports how much of its quota userID has consumed.
func (s *Service) Usage(ctx context.Context, userID uint) (Usage, error) {
	var user models.User
	err := s.db.WithContext(ctx).Select("storage_used", "storage_quota").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Usage{}, ErrNotFound
	}
	if err != nil {
		return Usage{}, err
	}
	return Usage{Used: user.StorageUsed, Limit: user.StorageQuota}, nil
}
