package app

import (
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"review_hub/internal/domain"
)

/********** alias registry (single source of truth) **********/

// Keys are compacted header names: lower case, letters and digits only,
// so "Review Id", "Review_Id" and "review-id" all match "reviewid".
var columnAliases = map[string][]string{
	"review_id":     {"reviewid"},
	"business_id":   {"businessid"},
	"business_name": {"businessname"},
	"reviewer_id":   {"reviewerid", "userid"},
	"reviewer_name": {"reviewername", "displayname", "username"},
	"rating":        {"reviewrating", "rating"},
	"review_date":   {"reviewdate", "date"},
	"review_title":  {"reviewtitle", "title"},
	"review_text":   {"reviewcontent", "reviewtext", "content", "text"},
	"review_ip":     {"reviewipaddress", "ipaddress"},
	"email":         {"emailaddress", "email"},
	"country":       {"reviewercountry", "country"},
}

// dateLayouts are tried in order; the first successful parse wins.
var dateLayouts = []string{
	domain.ISODate,
	"1/2/2006", // MM/DD/YYYY, zero padding optional
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

/********** tiny helpers **********/

func compactKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// rowView indexes a raw row by compacted header name.
type rowView map[string]string

// newRowView walks the columns in header order, so the first non-empty
// column wins when two headers compact to the same key. Rows without a
// column list fall back to sorted names.
func newRowView(row domain.RawRow) rowView {
	cols := row.Columns
	if len(cols) == 0 {
		cols = slices.Sorted(maps.Keys(row.Fields))
	}
	v := make(rowView, len(cols))
	for _, k := range cols {
		ck := compactKey(k)
		if cur, ok := v[ck]; ok && strings.TrimSpace(cur) != "" {
			continue
		}
		v[ck] = row.Fields[k]
	}
	return v
}

// field returns the first non-empty trimmed value for a named alias set.
func (v rowView) field(key string) string {
	for _, a := range columnAliases[key] {
		if s := strings.TrimSpace(v[a]); s != "" {
			return s
		}
	}
	return ""
}

func (v rowView) optional(key string) *string {
	return ptrStr(v.field(key))
}

func ptrStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

/********** normalizer **********/

// NormalizeRow validates and coerces one raw row into a Review and the
// Account fragment it implies. It has no side effects.
func NormalizeRow(row domain.RawRow) (domain.Review, domain.Account, error) {
	v := newRowView(row)
	reject := func(field, reason, value string) (domain.Review, domain.Account, error) {
		return domain.Review{}, domain.Account{}, &domain.ValidationError{
			Line: row.Line, Field: field, Reason: reason, Value: value,
		}
	}

	ids := [3]string{v.field("review_id"), v.field("business_id"), v.field("reviewer_id")}
	for i, name := range [3]string{"review_id", "business_id", "reviewer_id"} {
		if ids[i] == "" {
			return reject(name, domain.ReasonMissingField, "")
		}
	}

	rawRating := v.field("rating")
	rating, reason := NormalizeRating(rawRating)
	if reason != "" {
		return reject("rating", reason, rawRating)
	}

	rawDate := v.field("review_date")
	date, ok := NormalizeDate(rawDate)
	if !ok {
		return reject("review_date", domain.ReasonInvalidDate, rawDate)
	}

	rv := domain.Review{
		ReviewID:     ids[0],
		BusinessID:   ids[1],
		BusinessName: v.optional("business_name"),
		ReviewerID:   ids[2],
		Rating:       rating,
		ReviewDate:   date,
		Title:        v.optional("review_title"),
		Text:         v.optional("review_text"),
		IPAddress:    v.optional("review_ip"),
	}
	acc := domain.Account{
		ReviewerID:  ids[2],
		DisplayName: v.field("reviewer_name"),
		Email:       v.optional("email"),
		Country:     v.optional("country"),
	}
	return rv, acc, nil
}

// NormalizeRating returns the rating or a rejection reason. Whole-valued
// decimals ("4.0") are accepted; fractions and anything outside 1..5 are not.
func NormalizeRating(s string) (int, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, domain.ReasonInvalidRating
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, domain.ReasonInvalidRating
		}
		if f < 1 || f > 5 {
			return 0, domain.ReasonRatingOutOfRange
		}
		n = int(f)
	}
	if n < 1 || n > 5 {
		return 0, domain.ReasonRatingOutOfRange
	}
	return n, ""
}

// NormalizeDate parses s against dateLayouts and keeps the calendar day as written.
func NormalizeDate(s string) (domain.Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Date{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.DateOf(t), true
		}
	}
	return domain.Date{}, false
}
