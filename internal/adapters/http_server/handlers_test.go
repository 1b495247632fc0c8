package httpserver_test

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "review_hub/internal/adapters/http_server"
	"review_hub/internal/app"
	"review_hub/internal/domain"
	"review_hub/internal/storage/sqlstore"
)

func strp(s string) *string { return &s }

func newTestServer(t *testing.T, repo domain.ReviewRepository, opt httpserver.Options, flushEvery int) *httptest.Server {
	t.Helper()
	s := httpserver.New(opt)
	s.MountHandlers(&httpserver.Handlers{Q: app.NewQueryService(repo, nil, 0), FlushEvery: flushEvery})
	ts := httptest.NewServer(s.Mux())
	t.Cleanup(ts.Close)
	return ts
}

func seededSQLite(t *testing.T) *sqlstore.Repo {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "api.db") + "?_pragma=busy_timeout(5000)"
	repo, err := sqlstore.Open(ctx, "sqlite", dsn, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.EnsureSchema(ctx))

	may1 := domain.NewDate(2023, time.May, 1)
	reviews := []domain.Review{
		{ReviewID: "r2", BusinessID: "b1", BusinessName: strp("Bakery"), ReviewerID: "u1", Rating: 4, ReviewDate: may1, Title: strp("Nice"), Text: strp("Good, \"fresh\" bread")},
		{ReviewID: "r1", BusinessID: "b1", BusinessName: strp("Bakery"), ReviewerID: "u2", Rating: 5, ReviewDate: may1},
		{ReviewID: "r3", BusinessID: "b1", BusinessName: strp("Bakery"), ReviewerID: "u1", Rating: 2, ReviewDate: domain.NewDate(2023, time.January, 1), IPAddress: strp("10.1.1.1")},
		{ReviewID: "r4", BusinessID: "b2", ReviewerID: "u1", Rating: 3, ReviewDate: domain.NewDate(2022, time.June, 9)},
	}
	accounts := []domain.Account{
		{ReviewerID: "u1", DisplayName: "Ann", Email: strp("ann@example.com"), Country: strp("DK")},
		{ReviewerID: "u2", DisplayName: "Bo"},
	}
	_, err = repo.InsertBatch(ctx, reviews, accounts)
	require.NoError(t, err)
	return repo
}

func get(t *testing.T, url string, hdr map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestBusinessReviews_CSV(t *testing.T) {
	ts := newTestServer(t, seededSQLite(t), httpserver.Options{}, 0)

	res := get(t, ts.URL+"/business/b1/reviews", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", res.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="b1_reviews.csv"`, res.Header.Get("Content-Disposition"))

	recs, err := csv.NewReader(res.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, "review_id", recs[0][0])
	// newest first, review_id ascending on equal dates
	assert.Equal(t, []string{"r1", "r2", "r3"}, []string{recs[1][0], recs[2][0], recs[3][0]})
	assert.Equal(t, []string{"r2", "b1", "Bakery", "u1", "4", "2023-05-01", "Nice", "Good, \"fresh\" bread", ""}, recs[2])
	assert.Equal(t, "10.1.1.1", recs[3][8])
}

func TestReviewerReviews_JSONByAccept(t *testing.T) {
	ts := newTestServer(t, seededSQLite(t), httpserver.Options{}, 0)

	res := get(t, ts.URL+"/user/u1/reviews", map[string]string{"Accept": "application/json"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
	assert.Empty(t, res.Header.Get("Content-Disposition"))

	var got []domain.Review
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Len(t, got, 3)
	assert.Equal(t, "r2", got[0].ReviewID)
	assert.Equal(t, "r3", got[1].ReviewID)
	assert.Equal(t, "r4", got[2].ReviewID)
	assert.Nil(t, got[2].BusinessName)
	assert.Equal(t, "2022-06-09", got[2].ReviewDate.String())
}

func TestReviews_FormatParamWinsAndIsValidated(t *testing.T) {
	ts := newTestServer(t, seededSQLite(t), httpserver.Options{}, 0)

	res := get(t, ts.URL+"/user/u2/reviews?format=csv", map[string]string{"Accept": "application/json"})
	assert.Equal(t, "text/csv; charset=utf-8", res.Header.Get("Content-Type"))

	res = get(t, ts.URL+"/user/u2/reviews?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "application/problem+json", res.Header.Get("Content-Type"))
}

func TestReviews_UnknownIDIsEmpty200(t *testing.T) {
	ts := newTestServer(t, seededSQLite(t), httpserver.Options{}, 0)

	res := get(t, ts.URL+"/business/nobody/reviews", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "review_id,business_id,business_name,reviewer_id,rating,review_date,review_title,review_text,review_ip_address\n", string(body))

	res = get(t, ts.URL+"/business/nobody/reviews?format=json", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err = io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body))
}

func TestAccount(t *testing.T) {
	ts := newTestServer(t, seededSQLite(t), httpserver.Options{}, 0)

	res := get(t, ts.URL+"/user/u1/account", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var acc map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&acc))
	assert.Equal(t, "Ann", acc["display_name"])
	assert.Equal(t, "ann@example.com", acc["email_address"])
	etag := res.Header.Get("ETag")
	require.NotEmpty(t, etag)

	res = get(t, ts.URL+"/user/u1/account", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, res.StatusCode)

	res = get(t, ts.URL+"/user/ghost/account", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "application/problem+json", res.Header.Get("Content-Type"))
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t, &fakeRepo{}, httpserver.Options{}, 0)

	res := get(t, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = get(t, ts.URL+"/", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var msg map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&msg))
	assert.NotEmpty(t, msg["message"])
}

// ---- streaming behaviour with a controllable repository ----

type fakeRepo struct {
	stream func(ctx context.Context, f domain.ReviewFilter) iter.Seq2[domain.Review, error]
}

func (f *fakeRepo) InsertBatch(context.Context, []domain.Review, []domain.Account) (domain.BatchResult, error) {
	return domain.BatchResult{}, nil
}

func (f *fakeRepo) KnownReviewIDs(context.Context, []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (f *fakeRepo) StreamReviews(ctx context.Context, flt domain.ReviewFilter) iter.Seq2[domain.Review, error] {
	if f.stream == nil {
		return func(func(domain.Review, error) bool) {}
	}
	return f.stream(ctx, flt)
}

func (f *fakeRepo) GetAccount(context.Context, string) (domain.Account, error) {
	return domain.Account{}, domain.ErrNotFound
}

func review(i int) domain.Review {
	return domain.Review{
		ReviewID: fmt.Sprintf("r%06d", i), BusinessID: "big", ReviewerID: "u",
		Rating: 1 + i%5, ReviewDate: domain.NewDate(2024, time.February, 1),
	}
}

// gated yields total rows but stops after the first `before` until release
// is closed (or the request is cancelled).
func gated(total, before int, release <-chan struct{}) func(context.Context, domain.ReviewFilter) iter.Seq2[domain.Review, error] {
	return func(ctx context.Context, _ domain.ReviewFilter) iter.Seq2[domain.Review, error] {
		return func(yield func(domain.Review, error) bool) {
			for i := 0; i < total; i++ {
				if i == before {
					select {
					case <-release:
					case <-ctx.Done():
						yield(domain.Review{}, ctx.Err())
						return
					}
				}
				if !yield(review(i), nil) {
					return
				}
			}
		}
	}
}

func TestStream_BeginsBeforeResultIsFetched(t *testing.T) {
	const total = 100_000
	release := make(chan struct{})
	ts := newTestServer(t, &fakeRepo{stream: gated(total, 1000, release)}, httpserver.Options{}, 256)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/business/big/reviews", nil)
	require.NoError(t, err)

	type firstRead struct {
		res   *http.Response
		br    *bufio.Reader
		lines int
		err   error
	}
	done := make(chan firstRead, 1)
	go func() {
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- firstRead{err: err}
			return
		}
		br := bufio.NewReader(res.Body)
		n := 0
		for ; n < 500; n++ {
			if _, err := br.ReadString('\n'); err != nil {
				done <- firstRead{res: res, err: err}
				return
			}
		}
		done <- firstRead{res: res, br: br, lines: n}
	}()

	var fr firstRead
	select {
	case fr = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("no rows received while the query was still pending")
	}
	require.NoError(t, fr.err)
	defer fr.res.Body.Close()
	assert.Equal(t, http.StatusOK, fr.res.StatusCode)
	assert.Equal(t, 500, fr.lines)

	close(release)
	rest := 0
	for {
		_, err := fr.br.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		rest++
	}
	assert.Equal(t, total+1, fr.lines+rest) // header + every row
}

func TestStream_ErrorBeforeFirstRowIs500(t *testing.T) {
	repo := &fakeRepo{stream: func(context.Context, domain.ReviewFilter) iter.Seq2[domain.Review, error] {
		return func(yield func(domain.Review, error) bool) {
			yield(domain.Review{}, &domain.StorageError{Op: "stream reviews by business_id", Key: "b1", Err: errors.New("db down")})
		}
	}}
	ts := newTestServer(t, repo, httpserver.Options{}, 0)

	res := get(t, ts.URL+"/business/b1/reviews", nil)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "application/problem+json", res.Header.Get("Content-Type"))
	body, _ := io.ReadAll(res.Body)
	assert.NotContains(t, string(body), "db down")
}

func TestStream_MidStreamErrorTruncatesBody(t *testing.T) {
	repo := &fakeRepo{stream: func(context.Context, domain.ReviewFilter) iter.Seq2[domain.Review, error] {
		return func(yield func(domain.Review, error) bool) {
			for i := 0; i < 10; i++ {
				if !yield(review(i), nil) {
					return
				}
			}
			yield(domain.Review{}, errors.New("connection lost"))
		}
	}}
	ts := newTestServer(t, repo, httpserver.Options{}, 1)

	res := get(t, ts.URL+"/business/big/reviews?format=json", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	assert.Error(t, err, "a truncated stream must not look like a clean EOF")
	assert.True(t, strings.HasPrefix(string(body), "[{"))
	assert.False(t, strings.HasSuffix(string(body), "]\n"))
}

func TestStream_SaturationReturns503(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	ts := newTestServer(t, &fakeRepo{stream: gated(10, 1, release)}, httpserver.Options{MaxStreams: 1}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/business/big/reviews", nil)
	require.NoError(t, err)
	first, err := http.DefaultClient.Do(req) // returns once headers are flushed
	require.NoError(t, err)
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	res := get(t, ts.URL+"/user/u/reviews", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "1", res.Header.Get("Retry-After"))
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, &fakeRepo{}, httpserver.Options{RateLimitRPS: 1}, 0)

	first := get(t, ts.URL+"/user/u/account", nil)
	assert.Equal(t, http.StatusNotFound, first.StatusCode)

	second := get(t, ts.URL+"/user/u/account", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	// health is outside the limited group
	assert.Equal(t, http.StatusOK, get(t, ts.URL+"/healthz", nil).StatusCode)
}
