package export_test

import (
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_hub/internal/domain"
	"review_hub/internal/export"
)

func strp(s string) *string { return &s }

func seqOf(rows []domain.Review, tail error) iter.Seq2[domain.Review, error] {
	return func(yield func(domain.Review, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
		if tail != nil {
			yield(domain.Review{}, tail)
		}
	}
}

// collect concatenates chunks and returns the first error seen.
func collect(f export.Format, seq iter.Seq2[domain.Review, error]) (string, int, error) {
	var (
		sb     strings.Builder
		chunks int
	)
	for b, err := range export.Chunks(f, seq) {
		if err != nil {
			return sb.String(), chunks, err
		}
		sb.Write(b)
		chunks++
	}
	return sb.String(), chunks, nil
}

var sampleRows = []domain.Review{
	{
		ReviewID: "r1", BusinessID: "b1", BusinessName: strp("Cafe, \"Central\""),
		ReviewerID: "u1", Rating: 5, ReviewDate: domain.NewDate(2023, time.March, 2),
		Title: strp("Great"), Text: strp("line one\nline two"), IPAddress: strp("10.0.0.1"),
	},
	{
		ReviewID: "r2", BusinessID: "b1", ReviewerID: "u2", Rating: 3,
		ReviewDate: domain.NewDate(2023, time.January, 15),
	},
}

func TestParseFormat(t *testing.T) {
	f, err := export.ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, export.JSON, f)

	f, err = export.ParseFormat("csv")
	require.NoError(t, err)
	assert.Equal(t, export.CSV, f)

	_, err = export.ParseFormat("xml")
	assert.Error(t, err)
}

func TestChunks_CSV(t *testing.T) {
	body, _, err := collect(export.CSV, seqOf(sampleRows, nil))
	require.NoError(t, err)

	want := "review_id,business_id,business_name,reviewer_id,rating,review_date,review_title,review_text,review_ip_address\n" +
		"r1,b1,\"Cafe, \"\"Central\"\"\",u1,5,2023-03-02,Great,\"line one\nline two\",10.0.0.1\n" +
		"r2,b1,,u2,3,2023-01-15,,,\n"
	assert.Equal(t, want, body)
}

func TestChunks_CSVEmptyIsHeaderOnly(t *testing.T) {
	body, _, err := collect(export.CSV, seqOf(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, strings.Join(export.Columns, ",")+"\n", body)
}

func TestChunks_JSON(t *testing.T) {
	body, _, err := collect(export.JSON, seqOf(sampleRows, nil))
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0]["review_id"])
	assert.Equal(t, "2023-03-02", got[0]["review_date"])
	assert.EqualValues(t, 5, got[0]["rating"])
	assert.Nil(t, got[1]["business_name"])
	assert.Contains(t, got[1], "review_text")
}

func TestChunks_JSONEmptyIsEmptyArray(t *testing.T) {
	body, _, err := collect(export.JSON, seqOf(nil, nil))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", body)
}

func TestChunks_ErrorBeforeFirstRowEmitsNothing(t *testing.T) {
	boom := errors.New("query failed")
	body, chunks, err := collect(export.CSV, seqOf(nil, boom))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, body)
	assert.Zero(t, chunks)
}

func TestChunks_ErrorMidStreamAfterPartialBody(t *testing.T) {
	boom := errors.New("connection reset")
	body, chunks, err := collect(export.JSON, seqOf(sampleRows[:1], boom))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, chunks) // "[" and the first row
	assert.True(t, strings.HasPrefix(body, "[{"))
	assert.False(t, strings.HasSuffix(body, "]\n"))
}

func TestChunks_EarlyBreakStopsSource(t *testing.T) {
	stopped := false
	seq := func(yield func(domain.Review, error) bool) {
		defer func() { stopped = true }()
		for i := 0; ; i++ {
			if !yield(sampleRows[i%2], nil) {
				return
			}
		}
	}
	n := 0
	for _, err := range export.Chunks(export.CSV, seq) {
		require.NoError(t, err)
		if n++; n == 5 {
			break
		}
	}
	assert.True(t, stopped)
}
