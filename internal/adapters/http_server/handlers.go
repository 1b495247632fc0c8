package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"review_hub/internal/adapters/observability"
	"review_hub/internal/app"
	"review_hub/internal/domain"
	"review_hub/internal/export"
)

const defaultFlushEvery = 256

type Handlers struct {
	Q          *app.QueryService
	FlushEvery int // rows between flushes; <= 0 means 256
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/", h.root)
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Group(func(r chi.Router) {
		if s.opt.RateLimitRPS > 0 {
			r.Use(RateLimit(s.opt.RateLimitRPS))
		}
		r.With(StreamSlots(s.streams)).Get("/business/{business_id}/reviews", h.businessReviews)
		r.With(StreamSlots(s.streams)).Get("/user/{reviewer_id}/reviews", h.reviewerReviews)
		r.With(Timeout(s.opt.AccountTimeout)).Get("/user/{reviewer_id}/account", h.account)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeQueryError logs the backend detail and sends the client a generic 500.
func writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	ev := reqLogger(r).Error().Err(err)
	var se *domain.StorageError
	if errors.As(err, &se) {
		ev = ev.Str("op", se.Op).Str("key", se.Key)
	}
	ev.Msg("query failed")
	writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "the request could not be completed")
}

func reqLogger(r *http.Request) *zerolog.Logger {
	l := log.With().Str("request_id", chimw.GetReqID(r.Context())).Str("route", routeOf(r)).Logger()
	return &l
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func (h *Handlers) root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Welcome to the review API"})
}

func (h *Handlers) account(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reviewer_id")
	acc, err := h.Q.AccountByReviewer(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "reviewer not found")
		return
	}
	if err != nil {
		writeQueryError(w, r, err)
		return
	}

	etag, body := calcETagAndBody(acc)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write account body")
	}
}

func (h *Handlers) businessReviews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "business_id")
	h.stream(w, r, id, func(ctx context.Context) iter.Seq2[domain.Review, error] {
		return h.Q.ReviewsByBusiness(ctx, id)
	})
}

func (h *Handlers) reviewerReviews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reviewer_id")
	h.stream(w, r, id, func(ctx context.Context) iter.Seq2[domain.Review, error] {
		return h.Q.ReviewsByReviewer(ctx, id)
	})
}

// negotiate: ?format wins, then Accept, then CSV.
func negotiate(r *http.Request) (export.Format, error) {
	if v := r.URL.Query().Get("format"); v != "" {
		return export.ParseFormat(v)
	}
	accept := strings.ToLower(r.Header.Get("Accept"))
	if strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/csv") {
		return export.JSON, nil
	}
	return export.CSV, nil
}

// stream writes the export as it is produced. Nothing is sent until the query
// has produced its first row (or finished empty), so early failures still
// get a proper status. After that a failure can only abort the connection.
func (h *Handlers) stream(w http.ResponseWriter, r *http.Request, id string, open func(context.Context) iter.Seq2[domain.Review, error]) {
	format, err := negotiate(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid format", err.Error())
		return
	}
	flushEvery := h.FlushEvery
	if flushEvery <= 0 {
		flushEvery = defaultFlushEvery
	}

	ctx := r.Context()
	rows := 0
	counted := func(yield func(domain.Review, error) bool) {
		for rv, err := range open(ctx) {
			if err == nil {
				rows++
			}
			if !yield(rv, err) {
				return
			}
		}
	}
	defer func() { observability.ObserveStreamRows(string(format), rows) }()

	rc := http.NewResponseController(w)
	started := false
	chunks := 0
	for chunk, err := range export.Chunks(format, counted) {
		if err != nil {
			if !started {
				writeQueryError(w, r, err)
				return
			}
			if ctx.Err() != nil {
				observability.ObserveStreamAbort("client")
				return
			}
			ev := reqLogger(r).Error().Err(err).Int("rows_sent", rows)
			var se *domain.StorageError
			if errors.As(err, &se) {
				ev = ev.Str("op", se.Op).Str("key", se.Key)
			}
			ev.Msg("stream aborted")
			observability.ObserveStreamAbort("storage")
			panic(http.ErrAbortHandler)
		}

		if !started {
			started = true
			w.Header().Set("Content-Type", format.ContentType())
			if format == export.CSV {
				w.Header().Set("Content-Disposition", `attachment; filename="`+safeFilename(id)+`_reviews.csv"`)
			}
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
		}
		if len(chunk) == 0 {
			continue
		}
		if _, err := w.Write(chunk); err != nil {
			observability.ObserveStreamAbort("client")
			reqLogger(r).Debug().Err(err).Int("rows_sent", rows).Msg("client went away")
			return
		}
		if chunks%flushEvery == 0 {
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				observability.ObserveStreamAbort("client")
				return
			}
		}
		chunks++
	}
	_ = rc.Flush()
}

// safeFilename keeps the id usable inside a quoted Content-Disposition value.
func safeFilename(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '\\' || r == '/' || unicode.IsControl(r):
			return '_'
		}
		return r
	}, id)
}
