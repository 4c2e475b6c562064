package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
	"github.com/noah-isme/sma-fee-ledger/pkg/events"
)

func (f *ledgerFixture) extraFeeService() (*ExtraFeeService, *fakeExtraFeeRepo) {
	repo := newFakeExtraFeeRepo(f.students)
	return NewExtraFeeService(repo, f.students, nil, zap.NewNop(), f.collab), repo
}

func TestExtraFeeCampaignLifecycle(t *testing.T) {
	f := newLedgerFixture(t)
	svc, _ := f.extraFeeService()
	alice := f.students.seed("Alice", "9876543210", models.Class1st, 1000, 0)
	f.students.seed("Bob", "9876543211", models.Class2nd, 1000, 0)
	f.students.seed("Carol", "9876543212", models.Class3rd, 1000, 0)

	fee, err := svc.Create(context.Background(), testAdmin, models.CreateExtraFeeRequest{Title: "Picnic", Amount: 200})
	require.NoError(t, err)
	require.Len(t, fee.Payments, 3)
	assert.Equal(t, int64(0), fee.TotalCollected)
	assert.Equal(t, int64(600), fee.TotalPending)
	require.NotNil(t, fee.CreatedBy)
	assert.Equal(t, testAdmin.ID, *fee.CreatedBy)
	assert.Equal(t, "Office", fee.CreatedByName)

	res, err := svc.MarkPaid(context.Background(), testAdmin, fee.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, res.Payment.Paid)
	require.NotNil(t, res.Payment.PaidDate)
	assert.Equal(t, int64(200), res.ExtraFee.TotalCollected)
	assert.Equal(t, int64(400), res.ExtraFee.TotalPending)
	assert.NotEmpty(t, res.ReceiptURL)
	assert.True(t, strings.HasPrefix(res.WhatsAppLink, "https://wa.me/919876543210"))

	_, err = svc.MarkPaid(context.Background(), testAdmin, fee.ID, alice.ID)
	assertCode(t, err, appErrors.ErrAlreadyPaid)
	assert.Equal(t, appErrors.KindConflict, appErrors.KindOf(err))

	view, err := svc.Get(context.Background(), fee.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.PaidCount())
	entry, ok := view.Payment(alice.ID)
	require.True(t, ok)
	assert.Equal(t, res.ReceiptURL, entry.ReceiptURL)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveCampaigns)
	assert.Equal(t, int64(200), stats.TotalCollected)

	assert.Equal(t, []models.AuditAction{models.AuditActionCreatedExtraFee, models.AuditActionFeePayment}, f.audit.actions())
	assert.Equal(t, []string{events.TypeExtraFeeCreated, events.TypeExtraFeePaid}, f.publisher.types())
}

func TestExtraFeeCreateValidation(t *testing.T) {
	f := newLedgerFixture(t)
	svc, _ := f.extraFeeService()

	_, err := svc.Create(context.Background(), testAdmin, models.CreateExtraFeeRequest{Title: " ", Amount: 100})
	assertCode(t, err, appErrors.ErrValidation)

	_, err = svc.Create(context.Background(), testAdmin, models.CreateExtraFeeRequest{Title: "Trip", Amount: 0})
	assertCode(t, err, appErrors.ErrInvalidAmount)

	_, err = svc.Create(context.Background(), testAdmin, models.CreateExtraFeeRequest{Title: "Trip", Amount: 100})
	assertCode(t, err, appErrors.ErrNoActiveStudents)
	assert.Empty(t, f.audit.actions())
}

func TestExtraFeeSnapshotExcludesInactiveStudents(t *testing.T) {
	f := newLedgerFixture(t)
	svc, _ := f.extraFeeService()
	f.students.seed("Alice", "9876543210", models.Class1st, 1000, 0)
	gone := f.students.seed("Bob", "9876543211", models.Class2nd, 1000, 0)
	require.NoError(t, f.studentService().SoftDelete(context.Background(), testAdmin, gone.ID))

	fee, err := svc.Create(context.Background(), testAdmin, models.CreateExtraFeeRequest{Title: "Books", Amount: 50})
	require.NoError(t, err)
	require.Len(t, fee.Payments, 1)
	assert.Equal(t, "Alice", fee.Payments[0].StudentName)

	_, err = svc.MarkPaid(context.Background(), testAdmin, fee.ID, gone.ID)
	assertCode(t, err, appErrors.ErrNotFound)
}

func TestExtraFeeMarkPaidReceiptFailure(t *testing.T) {
	f := newLedgerFixture(t)
	f.receipts.err = appErrors.ErrReceiptFailed
	svc, _ := f.extraFeeService()
	alice := f.students.seed("Alice", "9876543210", models.Class1st, 1000, 0)

	fee, err := svc.Create(context.Background(), testAdmin, models.CreateExtraFeeRequest{Title: "Picnic", Amount: 200})
	require.NoError(t, err)

	res, err := svc.MarkPaid(context.Background(), testAdmin, fee.ID, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, res.ReceiptURL)
	assert.Equal(t, []string{fee.ID + ":" + alice.ID}, f.retries.extraFees)
}

func TestExtraFeeRemoveAndDelete(t *testing.T) {
	f := newLedgerFixture(t)
	svc, _ := f.extraFeeService()
	alice := f.students.seed("Alice", "9876543210", models.Class1st, 1000, 0)
	bob := f.students.seed("Bob", "9876543211", models.Class2nd, 1000, 0)

	fee, err := svc.Create(context.Background(), testAdmin, models.CreateExtraFeeRequest{Title: "Picnic", Amount: 200})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveStudent(context.Background(), testAdmin, fee.ID, bob.ID))
	assertCode(t, svc.RemoveStudent(context.Background(), testAdmin, fee.ID, bob.ID), appErrors.ErrNotFound)

	view, err := svc.Get(context.Background(), fee.ID)
	require.NoError(t, err)
	require.Len(t, view.Payments, 1)
	assert.Equal(t, alice.ID, view.Payments[0].StudentID)
	assert.Equal(t, int64(200), view.TotalPending)

	require.NoError(t, svc.SoftDelete(context.Background(), testAdmin, fee.ID))
	_, err = svc.Get(context.Background(), fee.ID)
	assertCode(t, err, appErrors.ErrNotFound)
	assertCode(t, svc.SoftDelete(context.Background(), testAdmin, fee.ID), appErrors.ErrNotFound)

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.Equal(t, []models.AuditAction{
		models.AuditActionCreatedExtraFee,
		models.AuditActionRemovedFromExtraFee,
		models.AuditActionDeletedExtraFee,
	}, f.audit.actions())
}

func TestExtraFeeReminderLink(t *testing.T) {
	f := newLedgerFixture(t)
	svc, _ := f.extraFeeService()
	alice := f.students.seed("Alice", "9876543210", models.Class1st, 1000, 0)

	fee, err := svc.Create(context.Background(), testAdmin, models.CreateExtraFeeRequest{Title: "Picnic", Amount: 200})
	require.NoError(t, err)

	link, err := svc.ReminderLink(context.Background(), testAdmin, fee.ID, alice.ID)
	require.NoError(t, err)
	assert.Contains(t, link.Message, "Picnic")
	assert.Equal(t, "9876543210", link.Phone)

	_, err = svc.MarkPaid(context.Background(), testAdmin, fee.ID, alice.ID)
	require.NoError(t, err)
	_, err = svc.ReminderLink(context.Background(), testAdmin, fee.ID, alice.ID)
	assertCode(t, err, appErrors.ErrAlreadyPaid)
}
