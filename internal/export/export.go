// Package export turns a review sequence into the bytes of a CSV or JSON
// response body, one chunk at a time.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"review_hub/internal/domain"
)

type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
)

// Columns is the CSV header, in output order.
var Columns = []string{
	"review_id",
	"business_id",
	"business_name",
	"reviewer_id",
	"rating",
	"review_date",
	"review_title",
	"review_text",
	"review_ip_address",
}

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case CSV:
		return CSV, nil
	case JSON:
		return JSON, nil
	}
	return "", fmt.Errorf("unsupported format %q (want csv or json)", s)
}

func (f Format) ContentType() string {
	if f == JSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

type encoder interface {
	header() ([]byte, error)
	row(domain.Review) ([]byte, error)
	trailer() []byte
}

// Chunks yields the header, one chunk per review and the trailer. The first
// element is the header unless the query fails before producing a row, in
// which case it is that error and nothing has been emitted yet. Any later
// error ends the sequence after a partial body.
func Chunks(f Format, seq iter.Seq2[domain.Review, error]) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		next, stop := iter.Pull2(seq)
		defer stop()

		rv, err, ok := next()
		if err != nil {
			yield(nil, err)
			return
		}

		enc := newEncoder(f)
		h, err := enc.header()
		if !yield(h, err) || err != nil {
			return
		}
		for ok {
			b, err := enc.row(rv)
			if !yield(b, err) || err != nil {
				return
			}
			rv, err, ok = next()
			if err != nil {
				yield(nil, err)
				return
			}
		}
		yield(enc.trailer(), nil)
	}
}

func newEncoder(f Format) encoder {
	if f == JSON {
		return &jsonEncoder{}
	}
	e := &csvEncoder{}
	e.w = csv.NewWriter(&e.buf)
	return e
}

type csvEncoder struct {
	buf bytes.Buffer
	w   *csv.Writer
}

func (e *csvEncoder) write(rec []string) ([]byte, error) {
	e.buf.Reset()
	if err := e.w.Write(rec); err != nil {
		return nil, err
	}
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		return nil, err
	}
	return bytes.Clone(e.buf.Bytes()), nil
}

func (e *csvEncoder) header() ([]byte, error) { return e.write(Columns) }

func (e *csvEncoder) row(r domain.Review) ([]byte, error) {
	return e.write([]string{
		r.ReviewID,
		r.BusinessID,
		deref(r.BusinessName),
		r.ReviewerID,
		strconv.Itoa(r.Rating),
		r.ReviewDate.String(),
		deref(r.Title),
		deref(r.Text),
		deref(r.IPAddress),
	})
}

func (e *csvEncoder) trailer() []byte { return nil }

// jsonEncoder writes one array; null optional fields stay null.
type jsonEncoder struct {
	n int
}

func (e *jsonEncoder) header() ([]byte, error) { return []byte("["), nil }

func (e *jsonEncoder) row(r domain.Review) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	if e.n > 0 {
		b = append([]byte(","), b...)
	}
	e.n++
	return b, nil
}

func (e *jsonEncoder) trailer() []byte { return []byte("]\n") }

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
