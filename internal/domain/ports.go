package domain

import (
	"context"
	"iter"
	"time"
)

type ReviewRepository interface {
	// Write path: insert-or-ignore keyed by review_id / reviewer_id.
	InsertBatch(ctx context.Context, reviews []Review, accounts []Account) (BatchResult, error)
	// KnownReviewIDs reports which of ids are already stored.
	KnownReviewIDs(ctx context.Context, ids []string) (map[string]bool, error)

	// Read paths
	StreamReviews(ctx context.Context, f ReviewFilter) iter.Seq2[Review, error]
	GetAccount(ctx context.Context, reviewerID string) (Account, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// RowSource yields raw rows in file order and io.EOF at the end.
// A *ValidationError rejects the current row only; any other error is fatal.
type RowSource interface {
	Next() (RawRow, error)
}

// RawRow is one input record keyed by its original column names.
// Columns keeps the header order; when two headers mean the same field the
// earlier column wins.
type RawRow struct {
	Line    int
	Columns []string
	Fields  map[string]string
}

type FilterField string

const (
	ByBusiness FilterField = "business_id"
	ByReviewer FilterField = "reviewer_id"
)

type ReviewFilter struct {
	Field FilterField
	Value string
}

type BatchResult struct {
	ReviewsInserted  int64
	AccountsInserted int64
}

type LoadSummary struct {
	RunID            string         `json:"run_id"`
	RowsSeen         int            `json:"rows_seen"`
	RowsAccepted     int            `json:"rows_accepted"`
	RowsRejected     int            `json:"rows_rejected"`
	ReviewsInserted  int64          `json:"reviews_inserted"`
	AccountsInserted int64          `json:"accounts_inserted"`
	Rejections       map[string]int `json:"rejections"`
	Duration         time.Duration  `json:"duration"`
}
