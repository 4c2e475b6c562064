package models

import "time"

// ExtraFee is an ad-hoc fee campaign snapshotted across the active students at creation time.
type ExtraFee struct {
	ID            string            `db:"id" json:"id"`
	Title         string            `db:"title" json:"title"`
	Amount        int64             `db:"amount" json:"amount"`
	CreatedBy     *string           `db:"created_by" json:"created_by,omitempty"`
	CreatedByName string            `db:"created_by_name" json:"created_by_name"`
	IsActive      bool              `db:"is_active" json:"is_active"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
	Payments      []ExtraFeePayment `db:"-" json:"payments"`
}

// ExtraFeePayment is one student's obligation within a campaign.
type ExtraFeePayment struct {
	ID           string     `db:"id" json:"id"`
	ExtraFeeID   string     `db:"extra_fee_id" json:"extra_fee_id"`
	StudentID    string     `db:"student_id" json:"student_id"`
	StudentName  string     `db:"student_name" json:"student_name"`
	StudentClass ClassLevel `db:"student_class" json:"student_class"`
	Paid         bool       `db:"paid" json:"paid"`
	PaidDate     *time.Time `db:"paid_date" json:"paid_date,omitempty"`
	ReceiptURL   string     `db:"receipt_url" json:"receipt_url"`
	Position     int        `db:"position" json:"-"`
}

// PaidCount counts settled payments.
func (f *ExtraFee) PaidCount() int {
	n := 0
	for _, p := range f.Payments {
		if p.Paid {
			n++
		}
	}
	return n
}

// TotalCollected is paid count times amount.
func (f *ExtraFee) TotalCollected() int64 {
	return int64(f.PaidCount()) * f.Amount
}

// TotalPending is unpaid count times amount.
func (f *ExtraFee) TotalPending() int64 {
	return int64(len(f.Payments)-f.PaidCount()) * f.Amount
}

// Payment returns the entry for studentID.
func (f *ExtraFee) Payment(studentID string) (*ExtraFeePayment, bool) {
	for i := range f.Payments {
		if f.Payments[i].StudentID == studentID {
			return &f.Payments[i], true
		}
	}
	return nil, false
}

// ExtraFeeView adds derived totals for API responses.
type ExtraFeeView struct {
	*ExtraFee
	TotalCollected int64 `json:"total_collected"`
	TotalPending   int64 `json:"total_pending"`
}

// NewExtraFeeView computes the derived totals.
func NewExtraFeeView(f *ExtraFee) ExtraFeeView {
	return ExtraFeeView{ExtraFee: f, TotalCollected: f.TotalCollected(), TotalPending: f.TotalPending()}
}

// ExtraFeeSummary is a list row: campaign header plus aggregated counts.
type ExtraFeeSummary struct {
	ID             string    `db:"id" json:"id"`
	Title          string    `db:"title" json:"title"`
	Amount         int64     `db:"amount" json:"amount"`
	CreatedByName  string    `db:"created_by_name" json:"created_by_name"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	StudentCount   int       `db:"student_count" json:"student_count"`
	PaidCount      int       `db:"paid_count" json:"paid_count"`
	TotalCollected int64     `db:"total_collected" json:"total_collected"`
	TotalPending   int64     `db:"total_pending" json:"total_pending"`
}

// ExtraFeeStats aggregates all active campaigns.
type ExtraFeeStats struct {
	ActiveCampaigns int   `db:"active_campaigns" json:"active_campaigns"`
	TotalCollected  int64 `db:"total_collected" json:"total_collected"`
	TotalPending    int64 `db:"total_pending" json:"total_pending"`
}

// CreateExtraFeeRequest is the payload to create a campaign.
type CreateExtraFeeRequest struct {
	Title  string `json:"title" validate:"required,max=200"`
	Amount int64  `json:"amount"`
}

// ExtraFeePaymentResult is returned after a campaign payment is marked.
type ExtraFeePaymentResult struct {
	ExtraFee     ExtraFeeView     `json:"extra_fee"`
	Payment      *ExtraFeePayment `json:"payment"`
	ReceiptURL   string           `json:"receipt_url"`
	WhatsAppLink string           `json:"whatsapp_link"`
}
