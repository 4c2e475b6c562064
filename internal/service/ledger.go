package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/events"
	"github.com/noah-isme/sma-fee-ledger/pkg/notify"
)

// LedgerCollaborators are the post-commit side effects shared by the ledger services.
// Nil members fall back to no-ops, except Audit which is required in production wiring.
type LedgerCollaborators struct {
	Audit    auditRecorder
	Receipts ReceiptIssuer
	Retries  receiptScheduler
	Events   events.Publisher
	Links    *notify.WhatsApp
	Metrics  *MetricsService
}

func (c LedgerCollaborators) withDefaults() LedgerCollaborators {
	if c.Audit == nil {
		c.Audit = nopAudit{}
	}
	if c.Events == nil {
		c.Events = events.NopPublisher{}
	}
	if c.Links == nil {
		c.Links = notify.NewWhatsApp("", "")
	}
	if c.Retries == nil {
		c.Retries = nopScheduler{}
	}
	return c
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, *models.Principal, models.AuditAction, string, map[string]interface{}) {
}

type nopScheduler struct{}

func (nopScheduler) ScheduleInstallment(string, string) {}
func (nopScheduler) ScheduleExtraFee(string, string)    {}

func requirePrincipal(actor *models.Principal) error {
	if !actor.Valid() {
		return appErrors.Clone(appErrors.ErrUnauthorized, "authenticated admin required")
	}
	return nil
}

func publishEvent(ctx context.Context, publisher events.Publisher, logger *zap.Logger, event events.Event) {
	if err := publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn("failed to publish ledger event", zap.String("type", event.Type), zap.String("entity_id", event.EntityID), zap.Error(err))
	}
}
