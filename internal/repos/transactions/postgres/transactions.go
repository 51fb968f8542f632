package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Zimbwa03/NerdX-sub004/internal/infra/pgutils"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/transactions"
)

var _ transactions.Transactions = (*transactionsRepo)(nil)

const entryColumns = `
	id, transaction_id, user_id, kind, action, platform, delta,
	balance_before, balance_after, description, related_transaction_id, created_at`

type transactionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *transactionsRepo {
	return &transactionsRepo{db: db}
}

func (r *transactionsRepo) Insert(ctx context.Context, tx *sql.Tx, e *transactions.Entry) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO credit_transactions (
			transaction_id, user_id, kind, action, platform, delta,
			balance_before, balance_after, description, related_transaction_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`,
		e.TransactionID,
		e.UserID,
		string(e.Kind),
		e.Action,
		e.Platform,
		e.Delta,
		e.BalanceBefore,
		e.BalanceAfter,
		e.Description,
		nullString(e.RelatedTransactionID),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if pgutils.IsUniqueViolation(err, "credit_transactions_transaction_id_key") {
			return transactions.ErrDuplicateTransaction
		}

		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func (r *transactionsRepo) GetByTransactionID(ctx context.Context, tx *sql.Tx, transactionID string) (transactions.Entry, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM credit_transactions
		WHERE transaction_id = $1
	`, transactionID)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transactions.Entry{}, transactions.ErrTransactionNotFound
		}

		return transactions.Entry{}, fmt.Errorf("get transaction: %w", err)
	}

	return e, nil
}

// ListByUser returns the newest entries first.
func (r *transactionsRepo) ListByUser(ctx context.Context, userID string, limit int) ([]transactions.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]transactions.Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, e)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (transactions.Entry, error) {
	var (
		e       transactions.Entry
		kind    string
		related sql.NullString
	)

	err := s.Scan(
		&e.ID,
		&e.TransactionID,
		&e.UserID,
		&kind,
		&e.Action,
		&e.Platform,
		&e.Delta,
		&e.BalanceBefore,
		&e.BalanceAfter,
		&e.Description,
		&related,
		&e.CreatedAt,
	)
	if err != nil {
		return transactions.Entry{}, err
	}

	e.Kind = transactions.Kind(kind)
	e.RelatedTransactionID = related.String

	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
