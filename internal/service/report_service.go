package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	"github.com/noah-isme/sma-fee-ledger/internal/repository"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/export"
)

const (
	defaultDefaulterLimit = 5
	maxDefaulterLimit     = 100
)

// ReportKind names an exportable report.
type ReportKind string

const (
	ReportClassWise  ReportKind = "class-wise"
	ReportDefaulters ReportKind = "defaulters"
)

type reportRepository interface {
	Summary(ctx context.Context) (*models.FeeSummary, error)
	ClassWise(ctx context.Context) ([]models.ClassFeeSummary, error)
	Defaulters(ctx context.Context, limit int) ([]models.Defaulter, error)
	Distribution(ctx context.Context) (*repository.DueDistribution, error)
}

type extraFeeStatsSource interface {
	Stats(ctx context.Context) (*models.ExtraFeeStats, error)
}

type datasetExporter interface {
	Render(dataset export.Dataset, format ExportFormat, name, title string) (*ExportResult, error)
}

// ReportService computes read-only fee reports. Results are never cached.
type ReportService struct {
	repo      reportRepository
	extraFees extraFeeStatsSource
	exporter  datasetExporter
	logger    *zap.Logger
	now       func() time.Time
}

// NewReportService constructs a ReportService.
func NewReportService(repo reportRepository, extraFees extraFeeStatsSource, exporter datasetExporter, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exporter == nil {
		exporter = NewExportService(logger, nil, nil)
	}
	return &ReportService{repo: repo, extraFees: extraFees, exporter: exporter, logger: logger, now: time.Now}
}

// Summary returns school-wide totals.
func (s *ReportService) Summary(ctx context.Context) (*models.FeeSummary, error) {
	summary, err := s.repo.Summary(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee summary")
	}
	return summary, nil
}

// ClassWise returns totals per grade in sequence order.
func (s *ReportService) ClassWise(ctx context.Context) ([]models.ClassFeeSummary, error) {
	rows, err := s.repo.ClassWise(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class report")
	}
	return rows, nil
}

// Defaulters returns the students owing the most.
func (s *ReportService) Defaulters(ctx context.Context, limit int) ([]models.Defaulter, error) {
	if limit <= 0 {
		limit = defaultDefaulterLimit
	}
	if limit > maxDefaulterLimit {
		limit = maxDefaulterLimit
	}
	rows, err := s.repo.Defaulters(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load defaulters")
	}
	return rows, nil
}

// Dashboard combines the headline figures.
func (s *ReportService) Dashboard(ctx context.Context) (*models.Dashboard, error) {
	summary, err := s.Summary(ctx)
	if err != nil {
		return nil, err
	}
	dist, err := s.repo.Distribution(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load due distribution")
	}
	defaulters, err := s.Defaulters(ctx, defaultDefaulterLimit)
	if err != nil {
		return nil, err
	}
	dashboard := &models.Dashboard{
		Summary:       *summary,
		FullyPaid:     dist.FullyPaid,
		WithDues:      dist.WithDues,
		AverageDue:    dist.AverageDue,
		HighestDue:    dist.HighestDue,
		TopDefaulters: defaulters,
	}
	if s.extraFees != nil {
		stats, err := s.extraFees.Stats(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load extra fee stats")
		}
		dashboard.ExtraFees = *stats
	}
	if total := summary.TotalCollected + summary.TotalPending; total > 0 {
		dashboard.CollectionRate = float64(summary.TotalCollected) / float64(total) * 100
	}
	return dashboard, nil
}

// Export renders a report as CSV or PDF.
func (s *ReportService) Export(ctx context.Context, kind ReportKind, format ExportFormat) (*ExportResult, error) {
	var (
		dataset export.Dataset
		title   string
	)
	switch kind {
	case ReportClassWise:
		rows, err := s.ClassWise(ctx)
		if err != nil {
			return nil, err
		}
		title = "Class-wise Fee Report"
		dataset.Headers = []string{"Class", "Students", "Collected", "Pending"}
		for _, r := range rows {
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Class":     r.Class.String(),
				"Students":  strconv.Itoa(r.StudentCount),
				"Collected": strconv.FormatInt(r.TotalPaid, 10),
				"Pending":   strconv.FormatInt(r.TotalDue, 10),
			})
		}
	case ReportDefaulters:
		rows, err := s.Defaulters(ctx, maxDefaulterLimit)
		if err != nil {
			return nil, err
		}
		title = "Fee Defaulters"
		dataset.Headers = []string{"Name", "Class", "Phone", "Due"}
		for _, r := range rows {
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Name":  r.Name,
				"Class": r.Class.String(),
				"Phone": r.Phone,
				"Due":   strconv.FormatInt(r.DueFee, 10),
			})
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown report %q", kind))
	}
	name := fmt.Sprintf("%s-%s", kind, s.now().Format("20060102"))
	return s.exporter.Render(dataset, format, name, title)
}
