package models

import (
	"encoding/json"
	"time"
)

// AuditAction is one of the recognised administrative action kinds.
type AuditAction string

const (
	AuditActionAddedStudent        AuditAction = "Added student"
	AuditActionFeePayment          AuditAction = "Fee payment"
	AuditActionDeletedStudent      AuditAction = "Deleted student"
	AuditActionEditedStudent       AuditAction = "Edited student"
	AuditActionPromotedStudent     AuditAction = "Promoted student"
	AuditActionSentReminder        AuditAction = "Sent reminder"
	AuditActionLogin               AuditAction = "Login"
	AuditActionLogout              AuditAction = "Logout"
	AuditActionCreatedExtraFee     AuditAction = "Created extra fee"
	AuditActionDeletedExtraFee     AuditAction = "Deleted extra fee"
	AuditActionStartedNewYear      AuditAction = "Started new academic year"
	AuditActionRemovedFromExtraFee AuditAction = "Removed student from extra fee"
)

var auditActions = map[AuditAction]struct{}{
	AuditActionAddedStudent:        {},
	AuditActionFeePayment:          {},
	AuditActionDeletedStudent:      {},
	AuditActionEditedStudent:       {},
	AuditActionPromotedStudent:     {},
	AuditActionSentReminder:        {},
	AuditActionLogin:               {},
	AuditActionLogout:              {},
	AuditActionCreatedExtraFee:     {},
	AuditActionDeletedExtraFee:     {},
	AuditActionStartedNewYear:      {},
	AuditActionRemovedFromExtraFee: {},
}

// Valid reports whether a belongs to the closed action set.
func (a AuditAction) Valid() bool {
	_, ok := auditActions[a]
	return ok
}

// AuditLog is an immutable administrative audit entry. Entities are referenced by snapshot values only.
type AuditLog struct {
	ID          string          `db:"id" json:"id"`
	AdminID     string          `db:"admin_id" json:"admin_id"`
	AdminName   string          `db:"admin_name" json:"admin_name"`
	Action      AuditAction     `db:"action" json:"action"`
	StudentName *string         `db:"student_name" json:"student_name,omitempty"`
	Details     json.RawMessage `db:"details" json:"details,omitempty"`
	IPAddress   string          `db:"ip_address" json:"ip_address"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// AuditFilter narrows an audit query.
type AuditFilter struct {
	Action      AuditAction
	AdminID     string
	StudentName string
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}
