// Package voucher persists vouchers and drives their lifecycle:
// draft → reviewed → confirmed → voided, with delete allowed from draft
// and red-letter reversal from confirmed. Every monetary effect on the
// balance index flows through a confirm in this package.
package voucher

import (
	"github.com/shopspring/decimal"

	"github.com/coalton-labs/ledgerd/internal/core/coa"
)

// Statuses.
const (
	StatusDraft     = "draft"
	StatusReviewed  = "reviewed"
	StatusConfirmed = "confirmed"
	StatusVoided    = "voided"
)

// Entry types.
const (
	EntryTypeNormal     = "normal"
	EntryTypeAdjustment = "adjustment"
)

// BalanceTolerance is the maximum admissible |Σdebits − Σcredits|.
var BalanceTolerance = decimal.New(1, -2)

// Entry is one posted line of a voucher.
type Entry struct {
	ID            int64            `json:"id"`
	LineNo        int              `json:"line_no"`
	AccountCode   string           `json:"account_code"`
	AccountName   string           `json:"account_name,omitempty"`
	Description   string           `json:"description,omitempty"`
	Debit         decimal.Decimal  `json:"debit_amount"`
	Credit        decimal.Decimal  `json:"credit_amount"`
	CurrencyCode  string           `json:"currency_code,omitempty"`
	FXRate        decimal.Decimal  `json:"fx_rate"`
	ForeignDebit  decimal.Decimal  `json:"foreign_debit"`
	ForeignCredit decimal.Decimal  `json:"foreign_credit"`
	Dims          coa.DimensionSet `json:"dims"`
}

// Voucher is a persisted voucher with its entries.
type Voucher struct {
	ID             int64   `json:"id"`
	VoucherNo      string  `json:"voucher_no,omitempty"`
	Date           string  `json:"date"`
	Period         string  `json:"period"`
	Description    string  `json:"description,omitempty"`
	Status         string  `json:"status"`
	EntryType      string  `json:"entry_type"`
	SourceTemplate string  `json:"source_template,omitempty"`
	SourceEventID  string  `json:"source_event_id,omitempty"`
	VoidReason     string  `json:"void_reason,omitempty"`
	VoidOf         int64   `json:"void_of,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
	ReviewedAt     string  `json:"reviewed_at,omitempty"`
	ConfirmedAt    string  `json:"confirmed_at,omitempty"`
	VoidedAt       string  `json:"voided_at,omitempty"`
	Entries        []Entry `json:"entries"`
}

// Totals returns the voucher's debit and credit sums.
func (v *Voucher) Totals() (debit, credit decimal.Decimal) {
	for _, e := range v.Entries {
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	return debit, credit
}

// EntryRequest is one requested line.
type EntryRequest struct {
	AccountCode   string           `json:"account"`
	Description   string           `json:"description,omitempty"`
	Debit         decimal.Decimal  `json:"debit,omitempty"`
	Credit        decimal.Decimal  `json:"credit,omitempty"`
	CurrencyCode  string           `json:"currency,omitempty"`
	FXRate        decimal.Decimal  `json:"fx_rate,omitempty"`
	ForeignDebit  decimal.Decimal  `json:"foreign_debit,omitempty"`
	ForeignCredit decimal.Decimal  `json:"foreign_credit,omitempty"`
	Dims          coa.DimensionSet `json:"dims,omitempty"`
}

// Request is a normalized voucher submission.
type Request struct {
	Date           string         `json:"date"`
	Description    string         `json:"description,omitempty"`
	EntryType      string         `json:"entry_type,omitempty"`
	SourceTemplate string         `json:"source_template,omitempty"`
	SourceEventID  string         `json:"source_event_id,omitempty"`
	Entries        []EntryRequest `json:"entries"`
}

// Totals returns the request's debit and credit sums.
func (r *Request) Totals() (debit, credit decimal.Decimal) {
	for _, e := range r.Entries {
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	return debit, credit
}

// Filter narrows Lookup results; zero values match everything.
type Filter struct {
	Period    string `json:"period,omitempty"`
	Status    string `json:"status,omitempty"`
	VoucherNo string `json:"voucher_no,omitempty"`
}
