package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hangarshare/backend-hangar/internal/money"
	"github.com/hangarshare/backend-hangar/internal/payment"
	"github.com/hangarshare/backend-hangar/internal/pricing"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("repo: not found")

// Intents persists payment intents with a transition audit trail.
type Intents struct {
	Pool *pgxpool.Pool
}

const intentColumns = `id, state, subject_kind, subject_id, owner_id, payer_id,
	base_amount, tax_amount, booking_fee, processing_fee, total_amount, currency,
	COALESCE(charge_ref, ''), COALESCE(client_secret, ''), COALESCE(failure_code, ''),
	created_at, updated_at`

// CreateIntent inserts a fresh draft intent and its initial audit row.
func (r Intents) CreateIntent(ctx context.Context, intent payment.Intent) (payment.Intent, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return payment.Intent{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO payment_intents (
			id, state, subject_kind, subject_id, owner_id, payer_id,
			base_amount, tax_amount, booking_fee, processing_fee, total_amount, currency,
			charge_ref, client_secret, failure_code
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			NULLIF($13, ''), NULLIF($14, ''), NULLIF($15, ''))
		RETURNING `+intentColumns,
		intent.ID, intent.State, intent.SubjectKind, intent.SubjectID, intent.OwnerID, intent.PayerID,
		intent.Quote.Base.Amount, intent.Quote.Tax.Amount, intent.Quote.BookingFee.Amount,
		intent.Quote.ProcessingFee.Amount, intent.Quote.Total.Amount, intent.Quote.Total.Currency,
		intent.ChargeRef, intent.ClientSecret, intent.FailureCode,
	)
	stored, err := scanIntent(row)
	if err != nil {
		return payment.Intent{}, fmt.Errorf("insert intent: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO payment_intent_events (intent_id, from_state, to_state)
		VALUES ($1, '', $2)`,
		stored.ID, stored.State,
	); err != nil {
		return payment.Intent{}, fmt.Errorf("insert intent event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return payment.Intent{}, err
	}
	return stored, nil
}

// GetIntent loads an intent by id.
func (r Intents) GetIntent(ctx context.Context, id uuid.UUID) (payment.Intent, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
	intent, err := scanIntent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Intent{}, fmt.Errorf("%w: intent %s", ErrNotFound, id)
	}
	return intent, err
}

// GetIntentByChargeRef loads an intent by its gateway charge reference.
func (r Intents) GetIntentByChargeRef(ctx context.Context, chargeRef string) (payment.Intent, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE charge_ref = $1`, chargeRef)
	intent, err := scanIntent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Intent{}, fmt.Errorf("%w: charge %s", ErrNotFound, chargeRef)
	}
	return intent, err
}

// UpdateIntent stores the mutable fields and records the state transition when
// the state changed.
func (r Intents) UpdateIntent(ctx context.Context, intent payment.Intent) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var previous string
	if err := tx.QueryRow(ctx,
		`SELECT state FROM payment_intents WHERE id = $1 FOR UPDATE`, intent.ID,
	).Scan(&previous); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: intent %s", ErrNotFound, intent.ID)
		}
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE payment_intents
		SET state = $2,
			charge_ref = NULLIF($3, ''),
			client_secret = NULLIF($4, ''),
			failure_code = NULLIF($5, ''),
			updated_at = now()
		WHERE id = $1`,
		intent.ID, intent.State, intent.ChargeRef, intent.ClientSecret, intent.FailureCode,
	); err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	if previous != string(intent.State) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO payment_intent_events (intent_id, from_state, to_state)
			VALUES ($1, $2, $3)`,
			intent.ID, previous, intent.State,
		); err != nil {
			return fmt.Errorf("insert intent event: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func scanIntent(row pgx.Row) (payment.Intent, error) {
	var (
		intent   payment.Intent
		base     int64
		tax      int64
		booking  int64
		procFee  int64
		total    int64
		currency string
	)
	err := row.Scan(
		&intent.ID, &intent.State, &intent.SubjectKind, &intent.SubjectID, &intent.OwnerID, &intent.PayerID,
		&base, &tax, &booking, &procFee, &total, &currency,
		&intent.ChargeRef, &intent.ClientSecret, &intent.FailureCode,
		&intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		return payment.Intent{}, err
	}
	intent.Quote = pricing.Quote{
		Base:          money.Money{Amount: base, Currency: currency},
		Tax:           money.Money{Amount: tax, Currency: currency},
		BookingFee:    money.Money{Amount: booking, Currency: currency},
		ProcessingFee: money.Money{Amount: procFee, Currency: currency},
		Total:         money.Money{Amount: total, Currency: currency},
	}
	return intent, nil
}
