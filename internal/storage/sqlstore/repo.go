package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"sync/atomic"

	"review_hub/internal/domain"
)

// maxRowsPerStatement keeps multi-row INSERTs under every engine's
// placeholder limit (SQLite is the tightest at 32766).
const maxRowsPerStatement = 1000

var errConsumed = errors.New("review sequence already consumed")

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// Repo implements domain.ReviewRepository on database/sql. It owns no
// connection of its own: writes run in a pooled transaction, every stream
// checks out a dedicated *sql.Conn and returns it when iteration ends.
type Repo struct {
	db *sql.DB
	d  Dialect
}

func New(db *sql.DB, d Dialect) *Repo { return &Repo{db: db, d: d} }

func (r *Repo) DB() *sql.DB      { return r.db }
func (r *Repo) Dialect() Dialect { return r.d }
func (r *Repo) Close() error     { return r.db.Close() }

// EnsureSchema creates tables and indexes if missing. Safe to call on every start.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range r.d.schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return &domain.StorageError{Op: "ensure schema", Key: r.d.Name, Err: err}
		}
	}
	return nil
}

// InsertBatch writes reviews and accounts in one transaction. Existing keys
// are left untouched; the result counts only rows that were new.
func (r *Repo) InsertBatch(ctx context.Context, reviews []domain.Review, accounts []domain.Account) (domain.BatchResult, error) {
	var res domain.BatchResult
	if len(reviews) == 0 && len(accounts) == 0 {
		return res, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, &domain.StorageError{Op: "begin batch", Err: err}
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	for start := 0; start < len(reviews); start += maxRowsPerStatement {
		chunk := reviews[start:min(start+maxRowsPerStatement, len(reviews))]
		args := make([]any, 0, len(chunk)*reviewParams)
		for _, rv := range chunk {
			args = append(args,
				rv.ReviewID,
				rv.BusinessID,
				valStr(rv.BusinessName),
				rv.ReviewerID,
				rv.Rating,
				r.d.dateArg(rv.ReviewDate),
				valStr(rv.Title),
				valStr(rv.Text),
				valStr(rv.IPAddress),
			)
		}
		n, err := execAffected(ctx, tx, r.d.insertReviewsSQL(len(chunk)), args)
		if err != nil {
			return domain.BatchResult{}, &domain.StorageError{Op: "insert reviews", Key: chunk[0].ReviewID, Err: err}
		}
		res.ReviewsInserted += n
	}

	for start := 0; start < len(accounts); start += maxRowsPerStatement {
		chunk := accounts[start:min(start+maxRowsPerStatement, len(accounts))]
		args := make([]any, 0, len(chunk)*accountParams)
		for _, a := range chunk {
			args = append(args, a.ReviewerID, a.DisplayName, valStr(a.Email), valStr(a.Country))
		}
		n, err := execAffected(ctx, tx, r.d.insertAccountsSQL(len(chunk)), args)
		if err != nil {
			return domain.BatchResult{}, &domain.StorageError{Op: "insert accounts", Key: chunk[0].ReviewerID, Err: err}
		}
		res.AccountsInserted += n
	}

	if err := tx.Commit(); err != nil {
		return domain.BatchResult{}, &domain.StorageError{Op: "commit batch", Err: err}
	}
	return res, nil
}

// KnownReviewIDs looks ids up in chunks and returns the subset already stored.
func (r *Repo) KnownReviewIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	known := make(map[string]bool)
	for start := 0; start < len(ids); start += maxRowsPerStatement {
		chunk := ids[start:min(start+maxRowsPerStatement, len(ids))]
		if err := r.lookupIDs(ctx, chunk, known); err != nil {
			return nil, &domain.StorageError{Op: "lookup review ids", Key: chunk[0], Err: err}
		}
	}
	return known, nil
}

func (r *Repo) lookupIDs(ctx context.Context, ids []string, into map[string]bool) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, r.d.knownReviewIDsSQL(len(ids)), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		into[id] = true
	}
	return rows.Err()
}

func execAffected(ctx context.Context, tx *sql.Tx, q string, args []any) (int64, error) {
	out, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return out.RowsAffected()
}

// StreamReviews returns a lazy, single-use sequence. The query runs when the
// caller starts ranging; rows and the connection are released when the range
// ends for any reason, including an early break or a cancelled ctx.
func (r *Repo) StreamReviews(ctx context.Context, f domain.ReviewFilter) iter.Seq2[domain.Review, error] {
	var used atomic.Bool
	return func(yield func(domain.Review, error) bool) {
		if used.Swap(true) {
			yield(domain.Review{}, errConsumed)
			return
		}
		op := "stream reviews by " + string(f.Field)

		q, err := r.d.selectReviewsSQL(f.Field)
		if err != nil {
			yield(domain.Review{}, &domain.StorageError{Op: op, Key: f.Value, Err: err})
			return
		}

		conn, err := r.db.Conn(ctx)
		if err != nil {
			yield(domain.Review{}, &domain.StorageError{Op: op, Key: f.Value, Err: err})
			return
		}
		defer conn.Close()

		rows, err := conn.QueryContext(ctx, q, f.Value)
		if err != nil {
			yield(domain.Review{}, &domain.StorageError{Op: op, Key: f.Value, Err: err})
			return
		}
		defer rows.Close()

		for rows.Next() {
			rv, err := scanReview(rows)
			if err != nil {
				yield(domain.Review{}, &domain.StorageError{Op: op, Key: f.Value, Err: err})
				return
			}
			if !yield(rv, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Review{}, &domain.StorageError{Op: op, Key: f.Value, Err: err})
		}
	}
}

func scanReview(rows *sql.Rows) (domain.Review, error) {
	var (
		rv                        domain.Review
		businessName, title, text sql.NullString
		ip                        sql.NullString
	)
	if err := rows.Scan(
		&rv.ReviewID,
		&rv.BusinessID,
		&businessName,
		&rv.ReviewerID,
		&rv.Rating,
		&rv.ReviewDate,
		&title,
		&text,
		&ip,
	); err != nil {
		return domain.Review{}, err
	}
	rv.BusinessName = nullStr(businessName)
	rv.Title = nullStr(title)
	rv.Text = nullStr(text)
	rv.IPAddress = nullStr(ip)
	return rv, nil
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func (r *Repo) GetAccount(ctx context.Context, reviewerID string) (domain.Account, error) {
	var (
		a              domain.Account
		email, country sql.NullString
	)
	err := r.db.QueryRowContext(ctx, r.d.getAccountSQL(), reviewerID).
		Scan(&a.ReviewerID, &a.DisplayName, &email, &country)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, &domain.StorageError{Op: "get account", Key: reviewerID, Err: err}
	}
	a.Email = nullStr(email)
	a.Country = nullStr(country)
	return a, nil
}

// Counts reports total reviews and accounts currently stored.
func (r *Repo) Counts(ctx context.Context) (reviews, accounts int64, err error) {
	if err = r.db.QueryRowContext(ctx, countReviewsSQL).Scan(&reviews); err != nil {
		return 0, 0, &domain.StorageError{Op: "count reviews", Err: err}
	}
	if err = r.db.QueryRowContext(ctx, countAccountsSQL).Scan(&accounts); err != nil {
		return 0, 0, &domain.StorageError{Op: "count accounts", Err: err}
	}
	return reviews, accounts, nil
}
