package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	"github.com/noah-isme/sma-fee-ledger/internal/repository"
	"github.com/noah-isme/sma-fee-ledger/pkg/events"
)

// fakeStudentRepo mirrors StudentRepository: Mutate serialises per student like SELECT ... FOR UPDATE.
type fakeStudentRepo struct {
	t        testing.TB
	mu       sync.Mutex
	rows     map[string]*models.Student
	locks    map[string]*sync.Mutex
	failNext map[string]error
	attached map[string]string
}

func newFakeStudentRepo(t testing.TB) *fakeStudentRepo {
	return &fakeStudentRepo{
		t:        t,
		rows:     make(map[string]*models.Student),
		locks:    make(map[string]*sync.Mutex),
		failNext: make(map[string]error),
		attached: make(map[string]string),
	}
}

func cloneStudent(s *models.Student) *models.Student {
	c := *s
	c.Installments = append([]models.Installment(nil), s.Installments...)
	return &c
}

func (f *fakeStudentRepo) seed(name, phone string, class models.ClassLevel, total, paid int64) *models.Student {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &models.Student{
		ID:            uuid.NewString(),
		Name:          name,
		Phone:         phone,
		Class:         class,
		TotalFee:      total,
		PaidFee:       paid,
		IsActive:      true,
		AdmissionDate: time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}
	st.Recompute()
	if paid > 0 {
		st.Installments = []models.Installment{{ID: uuid.NewString(), StudentID: st.ID, Amount: paid, PaidAt: time.Now().UTC(), Confirmed: true}}
	}
	f.rows[st.ID] = st
	f.locks[st.ID] = &sync.Mutex{}
	return cloneStudent(st)
}

func (f *fakeStudentRepo) get(id string) *models.Student {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.rows[id]; ok {
		assert.Truef(f.t, st.Balanced(), "student %s stored due %d, want %d", st.Name, st.DueFee, st.TotalFee-st.PaidFee)
		return cloneStudent(st)
	}
	return nil
}

func (f *fakeStudentRepo) duplicateLocked(name, phone string, class models.ClassLevel, excludeID string) bool {
	for _, st := range f.rows {
		if st.ID != excludeID && st.IsActive && st.Name == name && st.Phone == phone && st.Class == class {
			return true
		}
	}
	return false
}

func (f *fakeStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Student
	for _, st := range f.rows {
		if filter.Active != nil && st.IsActive != *filter.Active {
			continue
		}
		if filter.Class != "" && st.Class != filter.Class {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(st.Name), strings.ToLower(filter.Search)) && !strings.Contains(st.Phone, filter.Search) {
			continue
		}
		out = append(out, *cloneStudent(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)
	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (f *fakeStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if st := f.get(id); st != nil {
		return st, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStudentRepo) ExistsByIdentity(ctx context.Context, name, phone string, class models.ClassLevel, excludeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duplicateLocked(name, phone, class, excludeID), nil
}

func (f *fakeStudentRepo) Create(ctx context.Context, student *models.Student) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.duplicateLocked(student.Name, student.Phone, student.Class, "") {
		return repository.ErrDuplicate
	}
	student.ID = uuid.NewString()
	now := time.Now().UTC()
	student.CreatedAt, student.UpdatedAt = now, now
	if student.AdmissionDate.IsZero() {
		student.AdmissionDate = now
	}
	student.Recompute()
	f.rows[student.ID] = cloneStudent(student)
	f.locks[student.ID] = &sync.Mutex{}
	return nil
}

func (f *fakeStudentRepo) Mutate(ctx context.Context, id string, fn func(*models.Student) error) (*models.Student, error) {
	f.mu.Lock()
	lock, ok := f.locks[id]
	f.mu.Unlock()
	if !ok {
		return nil, sql.ErrNoRows
	}
	lock.Lock()
	defer lock.Unlock()

	locked := f.get(id)
	if err := fn(locked); err != nil {
		return nil, err
	}
	locked.Recompute()
	locked.UpdatedAt = time.Now().UTC()

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext[id]; err != nil {
		delete(f.failNext, id)
		return nil, err
	}
	if locked.IsActive && f.duplicateLocked(locked.Name, locked.Phone, locked.Class, locked.ID) {
		return nil, repository.ErrDuplicate
	}
	for i := range locked.Installments {
		if locked.Installments[i].ID == "" {
			locked.Installments[i].ID = uuid.NewString()
			locked.Installments[i].StudentID = locked.ID
		}
	}
	f.rows[id] = cloneStudent(locked)
	return locked, nil
}

func (f *fakeStudentRepo) AttachInstallmentReceipt(ctx context.Context, installmentID, receiptURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[installmentID] = receiptURL
	for _, st := range f.rows {
		for i := range st.Installments {
			if st.Installments[i].ID == installmentID {
				st.Installments[i].ReceiptURL = receiptURL
			}
		}
	}
	return nil
}

func (f *fakeStudentRepo) ListActive(ctx context.Context) ([]models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Student
	for _, st := range f.rows {
		if st.IsActive {
			c := *st
			c.Installments = nil
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class.Index() != out[j].Class.Index() {
			return out[i].Class.Index() > out[j].Class.Index()
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (f *fakeStudentRepo) Graduate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.rows[id]
	if !ok || !st.IsActive {
		return sql.ErrNoRows
	}
	if err := f.failNext[id]; err != nil {
		delete(f.failNext, id)
		return err
	}
	st.IsActive = false
	return nil
}

func (f *fakeStudentRepo) ResetForNewYear(ctx context.Context, id string, next models.ClassLevel, totalFee int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.rows[id]
	if !ok || !st.IsActive {
		return sql.ErrNoRows
	}
	if err := f.failNext[id]; err != nil {
		delete(f.failNext, id)
		return err
	}
	if f.duplicateLocked(st.Name, st.Phone, next, id) {
		return repository.ErrDuplicate
	}
	st.Class = next
	st.TotalFee = totalFee
	st.PaidFee = 0
	st.AnnualFeeLocked = false
	st.Installments = nil
	st.Recompute()
	return nil
}

// fakeExtraFeeRepo snapshots students from a fakeStudentRepo.
type fakeExtraFeeRepo struct {
	mu       sync.Mutex
	students *fakeStudentRepo
	fees     map[string]*models.ExtraFee
	order    []string
}

func newFakeExtraFeeRepo(students *fakeStudentRepo) *fakeExtraFeeRepo {
	return &fakeExtraFeeRepo{students: students, fees: make(map[string]*models.ExtraFee)}
}

func cloneFee(f *models.ExtraFee) *models.ExtraFee {
	c := *f
	c.Payments = append([]models.ExtraFeePayment(nil), f.Payments...)
	return &c
}

func (r *fakeExtraFeeRepo) Create(ctx context.Context, fee *models.ExtraFee) error {
	active, _ := r.students.ListActive(ctx)
	if len(active) == 0 {
		return repository.ErrNoActiveStudents
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	r.mu.Lock()
	defer r.mu.Unlock()
	fee.ID = uuid.NewString()
	fee.CreatedAt = time.Now().UTC()
	fee.UpdatedAt = fee.CreatedAt
	fee.Payments = nil
	for i, st := range active {
		fee.Payments = append(fee.Payments, models.ExtraFeePayment{
			ID:           uuid.NewString(),
			ExtraFeeID:   fee.ID,
			StudentID:    st.ID,
			StudentName:  st.Name,
			StudentClass: st.Class,
			Position:     i,
		})
	}
	r.fees[fee.ID] = cloneFee(fee)
	r.order = append(r.order, fee.ID)
	return nil
}

func (r *fakeExtraFeeRepo) List(ctx context.Context) ([]models.ExtraFeeSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ExtraFeeSummary
	for i := len(r.order) - 1; i >= 0; i-- {
		f, ok := r.fees[r.order[i]]
		if !ok || !f.IsActive {
			continue
		}
		out = append(out, models.ExtraFeeSummary{
			ID: f.ID, Title: f.Title, Amount: f.Amount, CreatedByName: f.CreatedByName, CreatedAt: f.CreatedAt,
			StudentCount: len(f.Payments), PaidCount: f.PaidCount(), TotalCollected: f.TotalCollected(), TotalPending: f.TotalPending(),
		})
	}
	return out, nil
}

func (r *fakeExtraFeeRepo) FindByID(ctx context.Context, id string) (*models.ExtraFee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fees[id]
	if !ok || !f.IsActive {
		return nil, sql.ErrNoRows
	}
	return cloneFee(f), nil
}

func (r *fakeExtraFeeRepo) MarkPaid(ctx context.Context, feeID, studentID string, paidAt time.Time) (*models.ExtraFeePayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fees[feeID]
	if !ok || !f.IsActive {
		return nil, sql.ErrNoRows
	}
	p, ok := f.Payment(studentID)
	if !ok {
		return nil, sql.ErrNoRows
	}
	if p.Paid {
		return nil, repository.ErrAlreadyPaid
	}
	p.Paid = true
	p.PaidDate = &paidAt
	out := *p
	return &out, nil
}

func (r *fakeExtraFeeRepo) AttachReceipt(ctx context.Context, paymentID, receiptURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.fees {
		for i := range f.Payments {
			if f.Payments[i].ID == paymentID {
				f.Payments[i].ReceiptURL = receiptURL
			}
		}
	}
	return nil
}

func (r *fakeExtraFeeRepo) RemovePayment(ctx context.Context, feeID, studentID string) (*models.ExtraFeePayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fees[feeID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	for i, p := range f.Payments {
		if p.StudentID == studentID {
			f.Payments = append(f.Payments[:i], f.Payments[i+1:]...)
			return &p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeExtraFeeRepo) SoftDelete(ctx context.Context, id string) (*models.ExtraFee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fees[id]
	if !ok || !f.IsActive {
		return nil, sql.ErrNoRows
	}
	f.IsActive = false
	return cloneFee(f), nil
}

func (r *fakeExtraFeeRepo) DeleteAll(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.fees))
	r.fees = make(map[string]*models.ExtraFee)
	r.order = nil
	return n, nil
}

func (r *fakeExtraFeeRepo) CountAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fees), nil
}

func (r *fakeExtraFeeRepo) Stats(ctx context.Context) (*models.ExtraFeeStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &models.ExtraFeeStats{}
	for _, f := range r.fees {
		if !f.IsActive {
			continue
		}
		stats.ActiveCampaigns++
		stats.TotalCollected += f.TotalCollected()
		stats.TotalPending += f.TotalPending()
	}
	return stats, nil
}

type fakeReceipts struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeReceipts) IssueInstallmentReceipt(ctx context.Context, student *models.Student, inst models.Installment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://fees.test/receipts/download/" + inst.ID, nil
}

func (f *fakeReceipts) IssueExtraFeeReceipt(ctx context.Context, fee *models.ExtraFee, payment models.ExtraFeePayment, phone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://fees.test/receipts/download/" + payment.ID, nil
}

type fakeScheduler struct {
	mu           sync.Mutex
	installments []string
	extraFees    []string
}

func (f *fakeScheduler) ScheduleInstallment(studentID, installmentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installments = append(f.installments, installmentID)
}

func (f *fakeScheduler) ScheduleExtraFee(feeID, studentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extraFees = append(f.extraFees, feeID+":"+studentID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

var errBoom = errors.New("boom")
