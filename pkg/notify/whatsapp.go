// Package notify derives outbound messaging deep links. Nothing here performs I/O.
package notify

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// WhatsApp builds wa.me links for a fixed country calling code.
type WhatsApp struct {
	countryCode string
	schoolName  string
}

// NewWhatsApp constructs a link builder; countryCode is digits only, e.g. "91".
func NewWhatsApp(countryCode, schoolName string) *WhatsApp {
	return &WhatsApp{countryCode: digitsOnly(countryCode), schoolName: schoolName}
}

// Link returns the deep link for phone and message.
func (w *WhatsApp) Link(phone, message string) string {
	number := digitsOnly(phone)
	if w.countryCode != "" && len(number) == 10 {
		number = w.countryCode + number
	}
	return fmt.Sprintf("https://wa.me/%s?text=%s", number, url.QueryEscape(message))
}

// PaymentConfirmation is the message sent after an installment is recorded.
func (w *WhatsApp) PaymentConfirmation(studentName, class string, amount, dueFee int64, receiptURL string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nFee Payment Successful!\n\n", w.schoolName)
	fmt.Fprintf(&b, "Student: %s\nClass: %s\nAmount Paid: Rs %d\nBalance Due: Rs %d\nDate: %s\n", studentName, class, amount, dueFee, at.Format("02/01/2006"))
	if receiptURL != "" {
		fmt.Fprintf(&b, "\nDownload Receipt (valid for 24 hours):\n%s\n", receiptURL)
	}
	b.WriteString("\nThank you!\n- Fee Department")
	return b.String()
}

// ExtraFeeConfirmation is the message sent after an extra fee is marked paid.
func (w *WhatsApp) ExtraFeeConfirmation(studentName, class, feeTitle string, amount int64, receiptURL string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nExtra Fee Payment Successful!\n\n", w.schoolName)
	fmt.Fprintf(&b, "Student: %s\nClass: %s\nFee Type: %s\nAmount Paid: Rs %d\nDate: %s\n", studentName, class, feeTitle, amount, at.Format("02/01/2006"))
	if receiptURL != "" {
		fmt.Fprintf(&b, "\nDownload Receipt (valid for 24 hours):\n%s\n", receiptURL)
	}
	b.WriteString("\nThank you!\n- Fee Department")
	return b.String()
}

// DueReminder asks for the outstanding annual fee.
func (w *WhatsApp) DueReminder(studentName, class string, dueFee int64) string {
	return fmt.Sprintf("%s\n\nFee Reminder\n\nStudent: %s\nClass: %s\nPending Amount: Rs %d\n\nPlease complete the payment at the earliest.\n\nThank you\nFee Department",
		w.schoolName, studentName, class, dueFee)
}

// ExtraFeeReminder asks for an unpaid extra fee.
func (w *WhatsApp) ExtraFeeReminder(studentName, class, feeTitle string, amount int64) string {
	return fmt.Sprintf("%s\n\nExtra Fee Reminder\n\nStudent: %s\nClass: %s\nFee Type: %s\nAmount: Rs %d\n\nPlease complete the payment at the earliest.\n\nThank you\nFee Department",
		w.schoolName, studentName, class, feeTitle, amount)
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
