package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
)

type auditRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

// auditRecorder is what mutating services use to leave a trail after commit.
type auditRecorder interface {
	Record(ctx context.Context, actor *models.Principal, action models.AuditAction, studentName string, details map[string]interface{})
}

// AuditService appends and queries the administrative audit trail.
type AuditService struct {
	repo    auditRepository
	metrics *MetricsService
	logger  *zap.Logger
}

// NewAuditService constructs an AuditService.
func NewAuditService(repo auditRepository, metrics *MetricsService, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, metrics: metrics, logger: logger}
}

// Append validates the action against the closed set and persists the entry.
func (s *AuditService) Append(ctx context.Context, entry *models.AuditLog) error {
	if entry == nil {
		return appErrors.Clone(appErrors.ErrValidation, "audit entry is required")
	}
	if !entry.Action.Valid() {
		return appErrors.Clone(appErrors.ErrInvalidAction, fmt.Sprintf("unrecognised audit action %q", entry.Action))
	}
	if entry.AdminID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "audit entry requires an actor")
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
	}
	return nil
}

// Record writes an entry for a mutation that has already committed. Failures are logged and
// counted but never returned, so the caller's outcome stands.
func (s *AuditService) Record(ctx context.Context, actor *models.Principal, action models.AuditAction, studentName string, details map[string]interface{}) {
	if !actor.Valid() {
		s.logger.Error("audit entry dropped: missing actor", zap.String("action", string(action)))
		s.metrics.RecordAuditFailure()
		return
	}
	entry := &models.AuditLog{
		AdminID:   actor.ID,
		AdminName: actor.Name,
		Action:    action,
		IPAddress: actor.IP,
		CreatedAt: time.Now().UTC(),
	}
	if studentName != "" {
		entry.StudentName = &studentName
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			s.logger.Warn("audit details not serialisable", zap.String("action", string(action)), zap.Error(err))
		} else {
			entry.Details = raw
		}
	}
	// detached so a cancelled request does not lose the trail of a committed change
	if err := s.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("failed to record audit entry",
			zap.String("action", string(action)),
			zap.String("admin_id", actor.ID),
			zap.Error(err))
		s.metrics.RecordAuditFailure()
	}
}

// Query lists entries newest first.
func (s *AuditService) Query(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	if filter.Action != "" && !filter.Action.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidAction, fmt.Sprintf("unrecognised audit action %q", filter.Action))
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 50
	}
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	return logs, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}
