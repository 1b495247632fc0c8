package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"review_hub/internal/domain"
)

// CSVSource reads rows one at a time; the file is never held in memory.
type CSVSource struct {
	r        *csv.Reader
	header   []string
	location string
	closer   io.Closer
}

// NewCSV reads the header row from r. A missing or unreadable header makes
// the whole source unavailable.
func NewCSV(r io.Reader, location string) (*CSVSource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // short/long rows are judged by the normalizer
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("no header row")
		}
		return nil, &domain.SourceUnavailableError{Location: location, Err: fmt.Errorf("read header: %w", err)}
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	s := &CSVSource{r: cr, header: header, location: location}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

func (s *CSVSource) Header() []string { return append([]string(nil), s.header...) }

// Next returns the next row, io.EOF at the end, a *domain.ValidationError for
// a record that cannot be parsed, or a *domain.SourceUnavailableError when the
// underlying reader fails.
func (s *CSVSource) Next() (domain.RawRow, error) {
	rec, err := s.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return domain.RawRow{}, io.EOF
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return domain.RawRow{}, &domain.ValidationError{
				Line: pe.Line, Field: "record", Reason: domain.ReasonMalformedRecord, Value: pe.Err.Error(),
			}
		}
		return domain.RawRow{}, &domain.SourceUnavailableError{Location: s.location, Err: err}
	}

	line, _ := s.r.FieldPos(0)
	fields := make(map[string]string, len(s.header))
	for i, h := range s.header {
		if _, dup := fields[h]; dup || i >= len(rec) {
			continue
		}
		fields[h] = rec[i]
	}
	return domain.RawRow{Line: line, Columns: s.header, Fields: fields}, nil
}

func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
