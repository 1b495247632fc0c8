package app

import (
	"context"
	"iter"
	"time"

	"github.com/rs/zerolog/log"

	"review_hub/internal/domain"
)

type QueryService struct {
	repo     domain.ReviewRepository
	cache    domain.Cache // optional
	cacheTTL time.Duration
}

func NewQueryService(r domain.ReviewRepository, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{repo: r, cache: c, cacheTTL: ttl}
}

// ReviewsByBusiness yields reviews newest first, review_id ascending on ties.
// The sequence is lazy and can be ranged over once.
func (s *QueryService) ReviewsByBusiness(ctx context.Context, businessID string) iter.Seq2[domain.Review, error] {
	return s.repo.StreamReviews(ctx, domain.ReviewFilter{Field: domain.ByBusiness, Value: businessID})
}

func (s *QueryService) ReviewsByReviewer(ctx context.Context, reviewerID string) iter.Seq2[domain.Review, error] {
	return s.repo.StreamReviews(ctx, domain.ReviewFilter{Field: domain.ByReviewer, Value: reviewerID})
}

// AccountByReviewer returns domain.ErrNotFound for unknown reviewers.
// Accounts are never rewritten by a load, so a cached copy cannot go stale.
func (s *QueryService) AccountByReviewer(ctx context.Context, reviewerID string) (domain.Account, error) {
	key := "account:" + reviewerID
	if s.cache != nil {
		var a domain.Account
		ok, err := s.cache.Get(ctx, key, &a)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		} else if ok {
			return a, nil
		}
	}

	a, err := s.repo.GetAccount(ctx, reviewerID)
	if err != nil {
		return domain.Account{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, a, int(s.cacheTTL.Seconds())); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache set failed")
		}
	}
	return a, nil
}
