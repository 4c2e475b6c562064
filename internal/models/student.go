package models

import "time"

// Student is a learner's fee ledger: obligation, payments and installment history.
type Student struct {
	ID              string        `db:"id" json:"id"`
	Name            string        `db:"name" json:"name"`
	Phone           string        `db:"phone" json:"phone"`
	Class           ClassLevel    `db:"class" json:"class"`
	TotalFee        int64         `db:"total_fee" json:"total_fee"`
	PaidFee         int64         `db:"paid_fee" json:"paid_fee"`
	DueFee          int64         `db:"due_fee" json:"due_fee"`
	IsActive        bool          `db:"is_active" json:"is_active"`
	AnnualFeeLocked bool          `db:"annual_fee_locked" json:"annual_fee_locked"`
	AdmissionDate   time.Time     `db:"admission_date" json:"admission_date"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
	Installments    []Installment `db:"-" json:"installments"`
}

// Recompute derives DueFee from TotalFee and PaidFee. Every mutation path calls it before persisting.
func (s *Student) Recompute() {
	s.DueFee = s.TotalFee - s.PaidFee
}

// Balanced reports whether the stored due amount matches the derived one.
func (s *Student) Balanced() bool {
	return s.DueFee == s.TotalFee-s.PaidFee
}

// Installment is one recorded payment towards the annual fee.
type Installment struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	Amount     int64     `db:"amount" json:"amount"`
	PaidAt     time.Time `db:"paid_at" json:"paid_at"`
	Confirmed  bool      `db:"confirmed" json:"confirmed"`
	ReceiptURL string    `db:"receipt_url" json:"receipt_url"`
}

// PaymentStatus filters students by how much of the annual fee has been paid.
type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPartial PaymentStatus = "partial"
)

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search        string
	Class         ClassLevel
	PaymentStatus PaymentStatus
	Active        *bool
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// EnrollStudentRequest is the payload to register a new student.
type EnrollStudentRequest struct {
	Name          string     `json:"name" validate:"required,max=120"`
	Phone         string     `json:"phone" validate:"required,len=10,number"`
	Class         string     `json:"class" validate:"required"`
	TotalFee      int64      `json:"total_fee" validate:"required,gt=0"`
	AdmissionDate *time.Time `json:"admission_date"`
}

// UpdateStudentRequest edits profile fields; nil fields are left untouched.
type UpdateStudentRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=120"`
	Phone    *string `json:"phone" validate:"omitempty,len=10,number"`
	Class    *string `json:"class"`
	TotalFee *int64  `json:"total_fee" validate:"omitempty,gt=0"`
}

// InstallmentRequest records a manual payment.
type InstallmentRequest struct {
	Amount int64 `json:"amount"`
}

// InstallmentResult is returned after a payment is recorded.
type InstallmentResult struct {
	Student      *Student     `json:"student"`
	Installment  *Installment `json:"installment"`
	ReceiptURL   string       `json:"receipt_url"`
	WhatsAppLink string       `json:"whatsapp_link"`
}

// ImportResult summarises a CSV import run.
type ImportResult struct {
	Created int           `json:"created"`
	Failed  []ImportError `json:"failed,omitempty"`
}

// ImportError describes a rejected CSV row. Row is 1-based and excludes the header.
type ImportError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ReminderLink carries a pre-filled messaging deep link.
type ReminderLink struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	Link    string `json:"link"`
}
