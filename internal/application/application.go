package application

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// PurposeHomePurchase is the only loan purpose the intake flow collects today.
const PurposeHomePurchase = "home_purchase"

// Data is the structured mortgage application accumulated during intake.
// Every field is optional: nil means "not collected yet". Once a field is set
// by the conversation it is only cleared by an explicit reset.
type Data struct {
	HomePrice          *float64 `json:"home_price,omitempty"`
	LoanAmount         *float64 `json:"loan_amount,omitempty"`
	DownPaymentPercent *float64 `json:"down_payment_percent,omitempty"`
	DownPayment        *float64 `json:"down_payment,omitempty"`
	AnnualIncome       *float64 `json:"annual_income,omitempty"`
	ApplicantName      *string  `json:"applicant_name,omitempty"`
	Email              *string  `json:"email,omitempty"`
	IDLastFour         *string  `json:"id_last_four,omitempty"`
	Purpose            *string  `json:"purpose,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// Clone returns a deep copy of d. The copy shares no pointers with d.
func (d Data) Clone() Data {
	return Data{
		HomePrice:          cloneFloat(d.HomePrice),
		LoanAmount:         cloneFloat(d.LoanAmount),
		DownPaymentPercent: cloneFloat(d.DownPaymentPercent),
		DownPayment:        cloneFloat(d.DownPayment),
		AnnualIncome:       cloneFloat(d.AnnualIncome),
		ApplicantName:      cloneString(d.ApplicantName),
		Email:              cloneString(d.Email),
		IDLastFour:         cloneString(d.IDLastFour),
		Purpose:            cloneString(d.Purpose),
	}
}

// Completeness scores how much of the application has been collected. Each of
// the four collection groups (home price, down payment, income, personal
// info) contributes 25 points; a group only counts when all of its fields are
// present.
func (d Data) Completeness() int {
	score := 0
	if d.HomePrice != nil && d.LoanAmount != nil {
		score += 25
	}
	if d.DownPaymentPercent != nil && d.DownPayment != nil {
		score += 25
	}
	if d.AnnualIncome != nil {
		score += 25
	}
	if d.ApplicantName != nil && d.Email != nil && d.IDLastFour != nil {
		score += 25
	}
	return score
}

// IsComplete reports whether every collection group is present.
func (d Data) IsComplete() bool {
	return d.Completeness() == 100
}

// RequestedAmount is the loan amount the applicant asked for, or zero when it
// has not been collected.
func (d Data) RequestedAmount() float64 {
	return value(d.LoanAmount)
}

// LoanToValue returns the financed share of the home price as a ratio in
// [0, 1]. It returns 0 when the home price is unknown.
func (d Data) LoanToValue() float64 {
	price := value(d.HomePrice)
	if price <= 0 {
		return 0
	}
	return (value(d.LoanAmount) - value(d.DownPayment)) / price
}

// Render formats the application as the single text payload shared by every
// assessment stage.
func (d Data) Render() string {
	var b strings.Builder
	b.WriteString("## Mortgage application\n\n")
	writeField(&b, "Applicant", stringOrUnknown(d.ApplicantName))
	writeField(&b, "Email", stringOrUnknown(d.Email))
	if d.IDLastFour != nil {
		writeField(&b, "ID (last four)", "***-**-"+*d.IDLastFour)
	} else {
		writeField(&b, "ID (last four)", "unknown")
	}
	writeField(&b, "Purpose", stringOrUnknown(d.Purpose))
	writeField(&b, "Home price", money(d.HomePrice))
	writeField(&b, "Loan amount", money(d.LoanAmount))
	if d.DownPaymentPercent != nil {
		writeField(&b, "Down payment", fmt.Sprintf("%s (%s%%)", money(d.DownPayment),
			humanize.FtoaWithDigits(*d.DownPaymentPercent, 2)))
	} else {
		writeField(&b, "Down payment", money(d.DownPayment))
	}
	writeField(&b, "Annual income", money(d.AnnualIncome))
	return b.String()
}

// Money formats an amount in dollars with thousands separators and cents.
func Money(v float64) string {
	return "$" + humanize.FormatFloat("#,###.##", v)
}

func writeField(b *strings.Builder, label, val string) {
	fmt.Fprintf(b, "- %s: %s\n", label, val)
}

func money(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return Money(*v)
}

func stringOrUnknown(v *string) string {
	if v == nil || *v == "" {
		return "unknown"
	}
	return *v
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
