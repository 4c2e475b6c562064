package models

// FeeSummary is the school-wide position across active students.
type FeeSummary struct {
	TotalStudents  int   `db:"total_students" json:"total_students"`
	TotalCollected int64 `db:"total_collected" json:"total_collected"`
	TotalPending   int64 `db:"total_pending" json:"total_pending"`
}

// ClassFeeSummary aggregates one grade.
type ClassFeeSummary struct {
	Class        ClassLevel `db:"class" json:"class"`
	StudentCount int        `db:"student_count" json:"student_count"`
	TotalPaid    int64      `db:"total_paid" json:"total_paid"`
	TotalDue     int64      `db:"total_due" json:"total_due"`
}

// Defaulter is an active student with an outstanding balance.
type Defaulter struct {
	ID     string     `db:"id" json:"id"`
	Name   string     `db:"name" json:"name"`
	Phone  string     `db:"phone" json:"phone"`
	Class  ClassLevel `db:"class" json:"class"`
	DueFee int64      `db:"due_fee" json:"due_fee"`
}

// Dashboard combines the headline figures shown on the admin home screen.
type Dashboard struct {
	Summary        FeeSummary    `json:"summary"`
	ExtraFees      ExtraFeeStats `json:"extra_fees"`
	FullyPaid      int           `json:"fully_paid"`
	WithDues       int           `json:"with_dues"`
	AverageDue     int64         `json:"average_due"`
	HighestDue     int64         `json:"highest_due"`
	TopDefaulters  []Defaulter   `json:"top_defaulters"`
	CollectionRate float64       `json:"collection_rate"`
}

// RolloverStats previews what the next academic year rollover will touch.
type RolloverStats struct {
	ActiveStudents   int                `json:"active_students"`
	Graduating       int                `json:"graduating"`
	Promoting        int                `json:"promoting"`
	ClassCounts      map[ClassLevel]int `json:"class_counts"`
	ExtraFeeCount    int                `json:"extra_fee_count"`
	RequiredFeeGrade []ClassLevel       `json:"required_fee_grades"`
}

// RolloverRequest maps each promoted grade to its new annual fee.
type RolloverRequest struct {
	ClassFees map[string]int64 `json:"class_fees"`
}

// RolloverResult reports the outcome of a rollover run.
type RolloverResult struct {
	Processed        int   `json:"processed"`
	Promoted         int   `json:"promoted"`
	Graduated        int   `json:"graduated"`
	ExtraFeesDeleted int64 `json:"extra_fees_deleted"`
}
