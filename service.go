package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"medreport/models"
	"medreport/pkg/intake"
	"medreport/pkg/lifecycle"
	"medreport/pkg/storage"
	"medreport/pkg/summarize"
)

// reportTypes is the closed set of accepted report categories.
var reportTypes = map[string]struct{}{
	"Blood Test": {},
	"Radiology":  {},
	"MRI":        {},
	"CT Scan":    {},
	"Ultrasound": {},
	"Pathology":  {},
	"ECG":        {},
	"Other":      {},
}

// ValidationError marks caller mistakes that map to a 400 response.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// ReportService composes the intake filter, storage adapter, repository,
// lifecycle rules and summarizer into the four public report operations.
// Identity resolution happens before any of these is called.
type ReportService struct {
	repo       *ReportRepository
	store      storage.Store
	filter     *intake.Filter
	summarizer summarize.Summarizer
	// localDir is the on-disk upload directory when the local backend is
	// active, empty otherwise; the OCR summarizer needs a real file path.
	localDir string
}

func NewReportService(repo *ReportRepository, store storage.Store, filter *intake.Filter, summarizer summarize.Summarizer, localDir string) *ReportService {
	return &ReportService{repo: repo, store: store, filter: filter, summarizer: summarizer, localDir: localDir}
}

func (s *ReportService) ListReports(owner models.User) ([]models.Report, error) {
	return s.repo.ListByOwner(owner.ID)
}

func (s *ReportService) GetReport(owner models.User, id uint) (models.Report, error) {
	return s.repo.GetByIDForOwner(id, owner.ID)
}

// CreateReport validates, stores the file, then inserts the record. The file
// and the record are created together: a failed store inserts nothing, and a
// failed insert removes the already-stored file.
func (s *ReportService) CreateReport(ctx context.Context, owner models.User, name, reportType, filename string, size int64, file io.Reader) (models.Report, error) {
	name = strings.TrimSpace(name)
	reportType = strings.TrimSpace(reportType)
	if name == "" || reportType == "" {
		return models.Report{}, validationErrf("name and type are required")
	}
	if _, ok := reportTypes[reportType]; !ok {
		return models.Report{}, validationErrf("unknown report type %q", reportType)
	}
	if err := s.filter.Validate(filename, size); err != nil {
		return models.Report{}, &ValidationError{msg: err.Error()}
	}

	storedName := intake.StoredName(filename)
	relPath, err := s.store.Save(ctx, storedName, file, size)
	if err != nil {
		return models.Report{}, err
	}

	report := models.Report{
		UserID:   owner.ID,
		Name:     name,
		Type:     reportType,
		FilePath: relPath,
		Status:   string(lifecycle.StatusUploaded),
	}
	if err := s.repo.Insert(&report); err != nil {
		// compensating cleanup: no orphaned file referencing a missing record
		if rmErr := s.store.Remove(ctx, relPath); rmErr != nil {
			log.Printf("cleanup of %s after failed insert also failed: %v", relPath, rmErr)
		}
		return models.Report{}, err
	}
	return report, nil
}

// UpdateStatus advances an owned report one step. When the target is
// COMPLETED the summarizer's text is persisted in the same update.
func (s *ReportService) UpdateStatus(owner models.User, id uint, rawStatus string) (models.Report, error) {
	target, err := lifecycle.Parse(rawStatus)
	if err != nil {
		return models.Report{}, err
	}
	report, err := s.repo.GetByIDForOwner(id, owner.ID)
	if err != nil {
		return models.Report{}, err
	}
	current, err := lifecycle.Parse(report.Status)
	if err != nil {
		return models.Report{}, fmt.Errorf("report %d has corrupt status %q", report.ID, report.Status)
	}
	if err := lifecycle.Validate(current, target); err != nil {
		return models.Report{}, err
	}

	var summary *string
	if target == lifecycle.StatusCompleted {
		text, err := s.summarizer.Summarize(summarize.Input{
			Name:     report.Name,
			Type:     report.Type,
			FilePath: s.artifactPath(report.FilePath),
		})
		if err != nil {
			return models.Report{}, fmt.Errorf("summarize report %d: %w", report.ID, err)
		}
		summary = &text
	}

	updated, err := s.repo.UpdateStatusAndSummary(id, owner.ID, string(current), string(target), summary)
	if err == ErrStatusConflict {
		// lost the race: recompute the transition error against the fresh row
		fresh, gerr := s.repo.GetByIDForOwner(id, owner.ID)
		if gerr != nil {
			return models.Report{}, gerr
		}
		freshStatus, perr := lifecycle.Parse(fresh.Status)
		if perr != nil {
			return models.Report{}, err
		}
		if verr := lifecycle.Validate(freshStatus, target); verr != nil {
			return models.Report{}, verr
		}
		return models.Report{}, err
	}
	return updated, err
}

// artifactPath maps a stored relative path to a readable local file path,
// or "" when the active backend keeps bytes elsewhere.
func (s *ReportService) artifactPath(relPath string) string {
	if s.localDir == "" {
		return ""
	}
	return filepath.Join(s.localDir, filepath.Base(relPath))
}
