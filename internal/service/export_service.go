package service

import (
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/export"
)

// ExportFormat names a rendered report format.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportResult is a rendered document ready to be streamed.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders tabular datasets.
type ExportService struct {
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
}

// NewExportService constructs an ExportService; nil renderers default to the bundled exporters.
func NewExportService(logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{csv: csv, pdf: pdf, logger: logger}
}

// ParseExportFormat validates a requested format, defaulting to CSV.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(raw) {
	case "", ExportFormatCSV:
		return ExportFormatCSV, nil
	case ExportFormatPDF:
		return ExportFormatPDF, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", raw))
	}
}

// Render produces the document for dataset. name is used as file stem and PDF title.
func (s *ExportService) Render(dataset export.Dataset, format ExportFormat, name, title string) (*ExportResult, error) {
	var (
		payload []byte
		err     error
		result  = &ExportResult{}
	)
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
		result.ContentType = "text/csv"
	case ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
		result.ContentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", format))
	}
	if err != nil {
		s.logger.Warn("export render failed", zap.String("name", name), zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	result.Payload = payload
	result.Filename = fmt.Sprintf("%s.%s", name, format)
	return result, nil
}
