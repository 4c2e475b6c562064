package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/export"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type receiptRenderer interface {
	RenderReceipt(doc export.ReceiptDocument) ([]byte, error)
}

type tokenSigner interface {
	Generate(receiptNo, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (receiptNo, relPath string, expiresAt time.Time, err error)
}

// ReceiptIssuer renders and stores receipts, returning a download URL.
type ReceiptIssuer interface {
	IssueInstallmentReceipt(ctx context.Context, student *models.Student, inst models.Installment) (string, error)
	IssueExtraFeeReceipt(ctx context.Context, fee *models.ExtraFee, payment models.ExtraFeePayment, phone string) (string, error)
}

// ReceiptConfig tunes receipt rendering and download links.
type ReceiptConfig struct {
	PublicBaseURL string
	SchoolName    string
	Tagline       string
	IssueTimeout  time.Duration
	ResultTTL     time.Duration
}

// ReceiptDownload is an opened receipt ready to stream.
type ReceiptDownload struct {
	File      *os.File
	Filename  string
	ReceiptNo string
	ExpiresAt time.Time
}

// ReceiptService produces PDF receipts for installments and extra fee payments.
type ReceiptService struct {
	renderer receiptRenderer
	storage  fileStorage
	signer   tokenSigner
	logger   *zap.Logger
	cfg      ReceiptConfig
	now      func() time.Time
}

// NewReceiptService constructs a ReceiptService.
func NewReceiptService(storage fileStorage, signer tokenSigner, cfg ReceiptConfig, logger *zap.Logger, renderer receiptRenderer) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = export.NewPDFExporter()
	}
	if cfg.IssueTimeout <= 0 {
		cfg.IssueTimeout = 5 * time.Second
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 30 * 24 * time.Hour
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &ReceiptService{
		renderer: renderer,
		storage:  storage,
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// IssueInstallmentReceipt renders the receipt for one installment.
func (s *ReceiptService) IssueInstallmentReceipt(ctx context.Context, student *models.Student, inst models.Installment) (string, error) {
	if student == nil {
		return "", appErrors.Clone(appErrors.ErrReceiptFailed, "student required for receipt")
	}
	receiptNo := s.receiptNumber(inst.ID)
	doc := export.ReceiptDocument{
		ReceiptNo:   receiptNo,
		IssuedAt:    inst.PaidAt,
		StudentName: student.Name,
		Class:       student.Class.String(),
		Phone:       student.Phone,
		Description: "Tuition fee installment",
		Amount:      inst.Amount,
		Summary: []export.ReceiptLine{
			{Label: "Annual fee", Amount: student.TotalFee},
			{Label: "Paid to date", Amount: student.PaidFee},
			{Label: "Balance due", Amount: student.DueFee, Bold: true},
		},
	}
	return s.issue(ctx, path.Join("installments", student.ID, receiptNo+".pdf"), doc)
}

// IssueExtraFeeReceipt renders the receipt for a settled extra fee entry.
func (s *ReceiptService) IssueExtraFeeReceipt(ctx context.Context, fee *models.ExtraFee, payment models.ExtraFeePayment, phone string) (string, error) {
	if fee == nil {
		return "", appErrors.Clone(appErrors.ErrReceiptFailed, "extra fee required for receipt")
	}
	issuedAt := s.now().UTC()
	if payment.PaidDate != nil {
		issuedAt = *payment.PaidDate
	}
	receiptNo := s.receiptNumber(payment.ID)
	doc := export.ReceiptDocument{
		ReceiptNo:   receiptNo,
		IssuedAt:    issuedAt,
		StudentName: payment.StudentName,
		Class:       payment.StudentClass.String(),
		Phone:       phone,
		Description: fee.Title,
		Amount:      fee.Amount,
		Summary: []export.ReceiptLine{
			{Label: fee.Title, Amount: fee.Amount, Bold: true},
		},
	}
	return s.issue(ctx, path.Join("extra-fees", fee.ID, receiptNo+".pdf"), doc)
}

func (s *ReceiptService) issue(ctx context.Context, filename string, doc export.ReceiptDocument) (string, error) {
	doc.SchoolName = s.cfg.SchoolName
	doc.Tagline = s.cfg.Tagline

	ctx, cancel := context.WithTimeout(ctx, s.cfg.IssueTimeout)
	defer cancel()

	type outcome struct {
		url string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		url, err := s.render(filename, doc)
		done <- outcome{url: url, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", appErrors.Wrap(ctx.Err(), appErrors.ErrReceiptFailed.Code, appErrors.ErrReceiptFailed.Status, "receipt generation timed out")
	case res := <-done:
		if res.err != nil {
			return "", appErrors.Wrap(res.err, appErrors.ErrReceiptFailed.Code, appErrors.ErrReceiptFailed.Status, appErrors.ErrReceiptFailed.Message)
		}
		return res.url, nil
	}
}

func (s *ReceiptService) render(filename string, doc export.ReceiptDocument) (string, error) {
	payload, err := s.renderer.RenderReceipt(doc)
	if err != nil {
		return "", fmt.Errorf("render receipt: %w", err)
	}
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return "", fmt.Errorf("store receipt: %w", err)
	}
	token, _, err := s.signer.Generate(doc.ReceiptNo, relPath)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return fmt.Sprintf("%s/receipts/download/%s", s.cfg.PublicBaseURL, token), nil
}

// receiptNumber is <school initials>-<unix millis>-<short id>.
func (s *ReceiptService) receiptNumber(id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if short == "" {
		short = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if len(short) > 6 {
		short = short[:6]
	}
	return fmt.Sprintf("%s-%d-%s", schoolInitials(s.cfg.SchoolName), s.now().UnixMilli(), strings.ToUpper(short))
}

func schoolInitials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		r := []rune(word)[0]
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "RCPT"
	}
	return b.String()
}

// ResolveDownload validates token and opens the stored receipt.
func (s *ReceiptService) ResolveDownload(ctx context.Context, token string) (*ReceiptDownload, error) {
	receiptNo, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "receipt not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open receipt")
	}
	return &ReceiptDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		ReceiptNo: receiptNo,
		ExpiresAt: expiresAt,
	}, nil
}

// StartCleanup boots a goroutine that purges stored receipts older than the retention window.
func (s *ReceiptService) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired()
			}
		}
	}()
}

func (s *ReceiptService) cleanupExpired() {
	removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Sugar().Warnw("receipt cleanup failed", "error", err)
		return
	}
	if len(removed) > 0 {
		s.logger.Sugar().Infow("receipt cleanup", "removed", len(removed))
	}
}
