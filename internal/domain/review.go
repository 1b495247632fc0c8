package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ISODate is the canonical layout for review dates in storage and output.
const ISODate = "2006-01-02"

type Review struct {
	ReviewID     string  `json:"review_id"`
	BusinessID   string  `json:"business_id"`
	BusinessName *string `json:"business_name"`
	ReviewerID   string  `json:"reviewer_id"`
	Rating       int     `json:"rating"` // 1..5
	ReviewDate   Date    `json:"review_date"`
	Title        *string `json:"review_title"`
	Text         *string `json:"review_text"`
	IPAddress    *string `json:"review_ip_address"`
}

// Account is derived from review rows, one per reviewer_id.
type Account struct {
	ReviewerID  string  `json:"reviewer_id"`
	DisplayName string  `json:"display_name"`
	Email       *string `json:"email_address"`
	Country     *string `json:"country"`
}

// Date is a calendar day without time of day or zone.
type Date struct{ t time.Time }

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf keeps the calendar day of t as seen in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

func ParseISODate(s string) (Date, error) {
	t, err := time.Parse(ISODate, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool    { return d.t.IsZero() }
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	if d.t.IsZero() {
		return ""
	}
	return d.t.Format(ISODate)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	p, err := ParseISODate(s)
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// Value stores dates as ISO text; every supported dialect coerces it into its date column.
func (d Date) Value() (driver.Value, error) {
	if d.t.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan accepts what the drivers hand back for a date column: time.Time
// (mysql with parseTime, pgx) or ISO text (sqlite, mysql without parseTime).
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = DateOf(v)
		return nil
	case string:
		return d.scanText(v)
	case []byte:
		return d.scanText(string(v))
	default:
		return fmt.Errorf("domain.Date: cannot scan %T", src)
	}
}

func (d *Date) scanText(s string) error {
	if len(s) > len(ISODate) {
		s = s[:len(ISODate)]
	}
	p, err := ParseISODate(s)
	if err != nil {
		return fmt.Errorf("domain.Date: %w", err)
	}
	*d = p
	return nil
}
