package main

import (
	"errors"

	"medreport/models"

	"gorm.io/gorm"
)

// ErrReportNotFound covers both a missing id and an id owned by another
// user; the two cases are indistinguishable to the caller on purpose.
var ErrReportNotFound = errors.New("report not found")

// ErrStatusConflict means the compare-and-swap status update matched no row:
// a concurrent writer changed the status after the caller read it.
var ErrStatusConflict = errors.New("report status changed concurrently")

// ReportRepository is the gorm-backed record store for reports. Every query
// is filtered by owner id; there is no unscoped read or write path.
type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(gdb *gorm.DB) *ReportRepository {
	return &ReportRepository{db: gdb}
}

func (r *ReportRepository) ListByOwner(ownerID uint) ([]models.Report, error) {
	var reports []models.Report
	if err := r.db.Where("user_id = ?", ownerID).Order("created_at desc").Find(&reports).Error; err != nil {
		connEventHook(err)
		return nil, err
	}
	if reports == nil {
		reports = []models.Report{}
	}
	return reports, nil
}

func (r *ReportRepository) GetByIDForOwner(id, ownerID uint) (models.Report, error) {
	var report models.Report
	err := r.db.Where("id = ? AND user_id = ?", id, ownerID).First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Report{}, ErrReportNotFound
		}
		connEventHook(err)
		return models.Report{}, err
	}
	return report, nil
}

// Insert persists a new report; id and created_at come back store-assigned.
func (r *ReportRepository) Insert(report *models.Report) error {
	if err := r.db.Create(report).Error; err != nil {
		connEventHook(err)
		return err
	}
	return nil
}

// UpdateStatusAndSummary advances the status with a compare-and-swap against
// the expected current value. Summary uses COALESCE semantics: a nil summary
// keeps whatever is already stored, so a value written at COMPLETED is never
// cleared. Returns the refreshed row.
func (r *ReportRepository) UpdateStatusAndSummary(id, ownerID uint, from, to string, summary *string) (models.Report, error) {
	res := r.db.Model(&models.Report{}).
		Where("id = ? AND user_id = ? AND status = ?", id, ownerID, from).
		Updates(map[string]interface{}{
			"status":  to,
			"summary": gorm.Expr("COALESCE(?, summary)", summary),
		})
	if res.Error != nil {
		connEventHook(res.Error)
		return models.Report{}, res.Error
	}
	if res.RowsAffected == 0 {
		// Either the row is gone/foreign or a concurrent update won the race.
		if _, err := r.GetByIDForOwner(id, ownerID); err != nil {
			return models.Report{}, err
		}
		return models.Report{}, ErrStatusConflict
	}
	return r.GetByIDForOwner(id, ownerID)
}
