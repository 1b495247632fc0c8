package app

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"review_hub/internal/adapters/observability"
	"review_hub/internal/domain"
)

const DefaultBatchSize = 500

// LoaderService normalizes rows from a RowSource and writes them with
// insert-or-ignore semantics. Running it twice over the same source is a
// no-op the second time. Two loads must not run against one store at once.
type LoaderService struct {
	repo      domain.ReviewRepository
	batchSize int
}

func NewLoaderService(r domain.ReviewRepository, batchSize int) *LoaderService {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &LoaderService{repo: r, batchSize: batchSize}
}

// Load consumes src to EOF. Rejected rows are counted in the summary and
// never returned as errors; a source or storage failure aborts the run and
// is returned together with the counts gathered so far.
func (s *LoaderService) Load(ctx context.Context, src domain.RowSource) (domain.LoadSummary, error) {
	start := time.Now()
	sum := domain.LoadSummary{RunID: uuid.NewString(), Rejections: map[string]int{}}
	l := log.With().Str("run_id", sum.RunID).Logger()
	l.Info().Int("batch_size", s.batchSize).Msg("load starting")

	b := newBatch(s.batchSize)
	flush := func() error {
		if b.empty() {
			return nil
		}
		known, err := s.repo.KnownReviewIDs(ctx, b.ids())
		if err != nil {
			return err
		}
		res, err := s.repo.InsertBatch(ctx, b.reviews, b.accountsFor(known))
		if err != nil {
			return err
		}
		sum.ReviewsInserted += res.ReviewsInserted
		sum.AccountsInserted += res.AccountsInserted
		observability.ObserveInserted("review", res.ReviewsInserted)
		observability.ObserveInserted("account", res.AccountsInserted)
		l.Debug().
			Int("reviews", len(b.reviews)).
			Int64("reviews_inserted", res.ReviewsInserted).
			Int64("accounts_inserted", res.AccountsInserted).
			Msg("batch written")
		b.reset()
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				sum.RowsSeen++
				s.reject(l, &sum, ve)
				continue
			}
			var su *domain.SourceUnavailableError
			if !errors.As(err, &su) {
				err = &domain.SourceUnavailableError{Location: "row source", Err: err}
			}
			sum.Duration = time.Since(start)
			l.Error().Err(err).Int("rows_seen", sum.RowsSeen).Msg("source read failed")
			return sum, err
		}

		sum.RowsSeen++
		rv, acc, err := NormalizeRow(row)
		if err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				s.reject(l, &sum, ve)
				continue
			}
			return sum, err
		}
		sum.RowsAccepted++
		observability.ObserveIngestRow("accepted")

		b.add(rv, acc)
		if b.full() {
			if err := flush(); err != nil {
				sum.Duration = time.Since(start)
				l.Error().Err(err).Int("rows_seen", sum.RowsSeen).Msg("batch write failed")
				return sum, err
			}
		}
	}
	if err := flush(); err != nil {
		sum.Duration = time.Since(start)
		l.Error().Err(err).Int("rows_seen", sum.RowsSeen).Msg("batch write failed")
		return sum, err
	}

	sum.Duration = time.Since(start)
	l.Info().
		Int("rows_seen", sum.RowsSeen).
		Int("rows_accepted", sum.RowsAccepted).
		Int("rows_rejected", sum.RowsRejected).
		Int64("reviews_inserted", sum.ReviewsInserted).
		Int64("accounts_inserted", sum.AccountsInserted).
		Dur("duration", sum.Duration).
		Msg("load completed")
	return sum, nil
}

func (s *LoaderService) reject(l zerolog.Logger, sum *domain.LoadSummary, ve *domain.ValidationError) {
	sum.RowsRejected++
	sum.Rejections[ve.Reason]++
	observability.ObserveIngestRow("rejected")
	observability.ObserveRejection(ve.Reason)
	l.Warn().
		Int("line", ve.Line).
		Str("field", ve.Field).
		Str("reason", ve.Reason).
		Str("value", ve.Value).
		Msg("row rejected")
}

// batch buffers accepted rows. A duplicate review_id keeps the first
// occurrence, and the duplicate row contributes nothing, not even its account.
type batch struct {
	size     int
	reviews  []domain.Review
	accounts []domain.Account // accounts[i] came from the row of reviews[i]
	seen     map[string]struct{}
}

func newBatch(size int) *batch {
	b := &batch{size: size}
	b.reset()
	return b
}

func (b *batch) add(rv domain.Review, acc domain.Account) {
	if _, ok := b.seen[rv.ReviewID]; ok {
		return
	}
	b.seen[rv.ReviewID] = struct{}{}
	b.reviews = append(b.reviews, rv)
	b.accounts = append(b.accounts, acc)
}

func (b *batch) ids() []string {
	out := make([]string, len(b.reviews))
	for i, rv := range b.reviews {
		out[i] = rv.ReviewID
	}
	return out
}

// accountsFor returns one account per reviewer, taken from the first row
// whose review is not already stored. Rows whose review was loaded earlier
// are duplicates and must not introduce a reviewer.
func (b *batch) accountsFor(known map[string]bool) []domain.Account {
	out := make([]domain.Account, 0, len(b.accounts))
	picked := make(map[string]struct{}, len(b.accounts))
	for i, rv := range b.reviews {
		if known[rv.ReviewID] {
			continue
		}
		acc := b.accounts[i]
		if _, ok := picked[acc.ReviewerID]; ok {
			continue
		}
		picked[acc.ReviewerID] = struct{}{}
		out = append(out, acc)
	}
	return out
}

func (b *batch) full() bool  { return len(b.reviews) >= b.size }
func (b *batch) empty() bool { return len(b.reviews) == 0 }

func (b *batch) reset() {
	b.reviews = make([]domain.Review, 0, b.size)
	b.accounts = make([]domain.Account, 0, b.size)
	b.seen = make(map[string]struct{}, b.size)
}
