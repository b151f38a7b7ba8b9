package voucher

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/balance"
	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/core/period"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Service drives the voucher lifecycle. Every public method is atomic:
// the voucher write and all derived balance writes share one transaction.
type Service struct {
	db       *ledgerdb.DB
	log      *zap.Logger
	accounts *coa.Store
	periods  *period.Store
	balances *balance.Engine
}

// NewService wires the voucher service over one ledger file.
func NewService(db *ledgerdb.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	accounts := coa.NewStore(db.Handle())
	return &Service{
		db:       db,
		log:      log,
		accounts: accounts,
		periods:  period.NewStore(db.Handle()),
		balances: balance.NewEngine(accounts),
	}
}

// Balances exposes the balance engine sharing this service's chart store.
func (s *Service) Balances() *balance.Engine { return s.balances }

// Submit validates a request and persists it as a draft. A request whose
// source_event_id was already seen returns the prior voucher unchanged.
func (s *Service) Submit(ctx context.Context, req Request) (*Voucher, error) {
	if req.SourceEventID != "" {
		prior, err := NewStore(s.db.Handle()).GetByEventID(ctx, req.SourceEventID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}
	var out *Voucher
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		v, err := s.submitTx(ctx, tx, req)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("voucher submitted", zap.Int64("id", out.ID), zap.String("period", out.Period))
	return out, nil
}

// SubmitAuto submits, reviews, and confirms in one transaction, the
// single-writer fast path used by sub-ledgers and templates.
func (s *Service) SubmitAuto(ctx context.Context, req Request) (*Voucher, error) {
	if req.SourceEventID != "" {
		prior, err := NewStore(s.db.Handle()).GetByEventID(ctx, req.SourceEventID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}
	var out *Voucher
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		v, err := s.submitTx(ctx, tx, req)
		if err != nil {
			return err
		}
		now := timestamp()
		store := NewStore(tx)
		if err := store.setStatus(ctx, v.ID, StatusReviewed, ", reviewed_at = ?", now); err != nil {
			return err
		}
		v.Status = StatusReviewed
		v.ReviewedAt = now
		if err := s.confirmTx(ctx, tx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("voucher recorded",
		zap.Int64("id", out.ID), zap.String("voucher_no", out.VoucherNo))
	return out, nil
}

// SubmitAutoTx is SubmitAuto inside an existing transaction, for callers
// that batch several vouchers atomically (closing, revaluation).
func (s *Service) SubmitAutoTx(ctx context.Context, tx *sql.Tx, req Request) (*Voucher, error) {
	if req.SourceEventID != "" {
		prior, err := NewStore(tx).GetByEventID(ctx, req.SourceEventID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}
	v, err := s.submitTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	now := timestamp()
	if err := NewStore(tx).setStatus(ctx, v.ID, StatusReviewed, ", reviewed_at = ?", now); err != nil {
		return nil, err
	}
	v.Status = StatusReviewed
	v.ReviewedAt = now
	if err := s.confirmTx(ctx, tx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) submitTx(ctx context.Context, tx *sql.Tx, req Request) (*Voucher, error) {
	p, err := period.Of(req.Date)
	if err != nil {
		return nil, err
	}
	entryType := req.EntryType
	if entryType == "" {
		entryType = EntryTypeNormal
	}
	if entryType != EntryTypeNormal && entryType != EntryTypeAdjustment {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidInput, "unknown entry type %q", entryType)
	}

	if err := checkBalanced(req.Totals()); err != nil {
		return nil, err
	}
	if err := s.periods.WithExecutor(tx).Admit(ctx, p, entryType); err != nil {
		return nil, err
	}

	accounts := s.accounts.WithExecutor(tx)
	entries := make([]Entry, 0, len(req.Entries))
	for _, er := range req.Entries {
		if er.Debit.IsNegative() || er.Credit.IsNegative() {
			return nil, ledgererr.Validation(ledgererr.CodeInvalidInput,
				"entry amounts must be non-negative")
		}
		acct, err := accounts.RequireEnabled(ctx, er.AccountCode)
		if err != nil {
			return nil, err
		}
		if err := accounts.ValidateDimensions(ctx, er.Dims); err != nil {
			return nil, err
		}
		rate := er.FXRate
		if rate.IsZero() {
			rate = decimal.NewFromInt(1)
		}
		entries = append(entries, Entry{
			AccountCode:   acct.Code,
			AccountName:   acct.Name,
			Description:   er.Description,
			Debit:         er.Debit.Round(2),
			Credit:        er.Credit.Round(2),
			CurrencyCode:  er.CurrencyCode,
			FXRate:        rate,
			ForeignDebit:  er.ForeignDebit,
			ForeignCredit: er.ForeignCredit,
			Dims:          er.Dims,
		})
	}

	v := &Voucher{
		Date:           req.Date,
		Period:         p,
		Description:    req.Description,
		Status:         StatusDraft,
		EntryType:      entryType,
		SourceTemplate: req.SourceTemplate,
		SourceEventID:  req.SourceEventID,
		Entries:        entries,
	}
	if _, err := NewStore(tx).Insert(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Review moves a draft to reviewed.
func (s *Service) Review(ctx context.Context, id int64) (*Voucher, error) {
	return s.transition(ctx, id, StatusDraft, StatusReviewed, ", reviewed_at = ?")
}

// Unreview returns a reviewed voucher to draft.
func (s *Service) Unreview(ctx context.Context, id int64) (*Voucher, error) {
	var out *Voucher
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		store := NewStore(tx)
		v, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if v.Status != StatusReviewed {
			return ledgererr.State(ledgererr.CodeVoucherNotReviewed,
				fmt.Sprintf("voucher %d is %s, not reviewed", id, v.Status)).
				WithDetail("voucher_id", id).
				WithDetail("status", v.Status)
		}
		if err := store.setStatus(ctx, id, StatusDraft, ", reviewed_at = NULL"); err != nil {
			return err
		}
		v.Status = StatusDraft
		v.ReviewedAt = ""
		out = v
		return nil
	})
	return out, err
}

// Confirm posts a reviewed voucher: allocates the voucher number and
// applies its entries to the balance index, atomically.
func (s *Service) Confirm(ctx context.Context, id int64) (*Voucher, error) {
	var out *Voucher
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		v, err := NewStore(tx).Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.confirmTx(ctx, tx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("voucher confirmed",
		zap.Int64("id", out.ID), zap.String("voucher_no", out.VoucherNo))
	return out, nil
}

func (s *Service) confirmTx(ctx context.Context, tx *sql.Tx, v *Voucher) error {
	if v.Status != StatusReviewed {
		return ledgererr.State(ledgererr.CodeVoucherNotReviewed,
			fmt.Sprintf("voucher %d is %s, not reviewed", v.ID, v.Status)).
			WithDetail("voucher_id", v.ID).
			WithDetail("status", v.Status)
	}
	if err := checkBalanced(v.Totals()); err != nil {
		return err
	}
	if err := s.periods.WithExecutor(tx).Admit(ctx, v.Period, v.EntryType); err != nil {
		return err
	}

	store := NewStore(tx)
	no := v.VoucherNo
	if no == "" {
		allocated, err := store.NextVoucherNo(ctx, v.Date)
		if err != nil {
			return err
		}
		no = allocated
	}
	now := timestamp()
	if err := store.setStatus(ctx, v.ID, StatusConfirmed,
		", voucher_no = ?, confirmed_at = ?", no, now); err != nil {
		return err
	}
	v.Status = StatusConfirmed
	v.VoucherNo = no
	v.ConfirmedAt = now

	return s.balances.Apply(ctx, tx, postingsOf(v))
}

// Void cancels a confirmed voucher by emitting a confirmed red-letter
// reversal with debits and credits swapped, and returns the reversal.
// The original stays visible, flagged voided.
func (s *Service) Void(ctx context.Context, id int64, reason string) (*Voucher, error) {
	var out *Voucher
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		v, err := s.VoidTx(ctx, tx, id, reason)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("voucher voided", zap.Int64("original", id),
		zap.Int64("reversal", out.ID), zap.String("reason", reason))
	return out, nil
}

// VoidTx is Void inside an existing transaction, for callers that void
// several vouchers atomically (period reopen).
func (s *Service) VoidTx(ctx context.Context, tx *sql.Tx, id int64, reason string) (*Voucher, error) {
	store := NewStore(tx)
	orig, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusConfirmed {
		return nil, ledgererr.State(ledgererr.CodeVoidConfirmed,
			fmt.Sprintf("voucher %d is %s; only confirmed vouchers can be voided", id, orig.Status)).
			WithDetail("voucher_id", id).
			WithDetail("status", orig.Status)
	}

	// Reversal entry type follows the period: a closed period rejects the
	// void outright, an adjustment period admits it as adjustment.
	per, err := s.periods.WithExecutor(tx).Ensure(ctx, orig.Period)
	if err != nil {
		return nil, err
	}
	entryType := EntryTypeNormal
	switch per.Status {
	case period.StatusClosed:
		return nil, ledgererr.State(ledgererr.CodePeriodClosed,
			fmt.Sprintf("period %s is closed; reopen before voiding", orig.Period)).
			WithDetail("period", orig.Period)
	case period.StatusAdjustment:
		entryType = EntryTypeAdjustment
	}

	reversal := &Voucher{
		Date:        orig.Date,
		Period:      orig.Period,
		Description: fmt.Sprintf("Red-letter reversal of %s: %s", orig.VoucherNo, reason),
		Status:      StatusDraft,
		EntryType:   entryType,
		VoidOf:      orig.ID,
	}
	for _, e := range orig.Entries {
		reversal.Entries = append(reversal.Entries, Entry{
			AccountCode:   e.AccountCode,
			AccountName:   e.AccountName,
			Description:   e.Description,
			Debit:         e.Credit,
			Credit:        e.Debit,
			CurrencyCode:  e.CurrencyCode,
			FXRate:        e.FXRate,
			ForeignDebit:  e.ForeignCredit,
			ForeignCredit: e.ForeignDebit,
			Dims:          e.Dims,
		})
	}
	if _, err := store.Insert(ctx, reversal); err != nil {
		return nil, err
	}
	now := timestamp()
	if err := store.setStatus(ctx, reversal.ID, StatusReviewed, ", reviewed_at = ?", now); err != nil {
		return nil, err
	}
	reversal.Status = StatusReviewed
	if err := s.confirmTx(ctx, tx, reversal); err != nil {
		return nil, err
	}
	if err := store.InsertVoidLink(ctx, orig.ID, reversal.ID, reason); err != nil {
		return nil, err
	}
	if err := store.setStatus(ctx, orig.ID, StatusVoided,
		", void_reason = ?, voided_at = ?", reason, now); err != nil {
		return nil, err
	}
	return reversal, nil
}

// Delete removes a draft. Any other status is rejected.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		store := NewStore(tx)
		v, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if v.Status != StatusDraft {
			return ledgererr.State(ledgererr.CodeVoucherNotDraft,
				fmt.Sprintf("voucher %d is %s; only drafts can be deleted", id, v.Status)).
				WithDetail("voucher_id", id).
				WithDetail("status", v.Status)
		}
		return store.Delete(ctx, id)
	})
}

// Get fetches one voucher with entries.
func (s *Service) Get(ctx context.Context, id int64) (*Voucher, error) {
	return NewStore(s.db.Handle()).Get(ctx, id)
}

// Lookup lists vouchers matching the filter.
func (s *Service) Lookup(ctx context.Context, f Filter) ([]*Voucher, error) {
	return NewStore(s.db.Handle()).Lookup(ctx, f)
}

func (s *Service) transition(ctx context.Context, id int64, from, to, extra string) (*Voucher, error) {
	var out *Voucher
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		store := NewStore(tx)
		v, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if v.Status != from {
			return ledgererr.State(ledgererr.CodeVoucherNotDraft,
				fmt.Sprintf("voucher %d is %s, not %s", id, v.Status, from)).
				WithDetail("voucher_id", id).
				WithDetail("status", v.Status)
		}
		now := timestamp()
		if err := store.setStatus(ctx, id, to, extra, now); err != nil {
			return err
		}
		v.Status = to
		out = v
		return nil
	})
	return out, err
}

// checkBalanced enforces |Σdebits − Σcredits| ≤ tolerance with the
// computed totals in the error details.
func checkBalanced(debit, credit decimal.Decimal) error {
	diff := debit.Sub(credit)
	if diff.Abs().LessThanOrEqual(BalanceTolerance) {
		return nil
	}
	return ledgererr.Validation(ledgererr.CodeNotBalanced,
		"voucher debits and credits do not balance").
		WithDetail("debit_total", debit.String()).
		WithDetail("credit_total", credit.String()).
		WithDetail("difference", diff.String())
}

func postingsOf(v *Voucher) []balance.Posting {
	postings := make([]balance.Posting, 0, len(v.Entries))
	for _, e := range v.Entries {
		postings = append(postings, balance.Posting{
			AccountCode:   e.AccountCode,
			Period:        v.Period,
			Dims:          e.Dims,
			Debit:         e.Debit,
			Credit:        e.Credit,
			CurrencyCode:  e.CurrencyCode,
			ForeignDebit:  e.ForeignDebit,
			ForeignCredit: e.ForeignCredit,
		})
	}
	return postings
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
