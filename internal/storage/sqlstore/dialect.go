package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"review_hub/internal/domain"
)

// Dialect holds the per-engine SQL the repo needs.
type Dialect struct {
	Name   string // mysql|postgres|sqlite
	Driver string // database/sql driver name

	schema           []string
	reviewsConflict  string
	accountsConflict string
	numbered         bool // $1, $2 … instead of ?
}

var dialects = map[string]Dialect{
	"mysql": {
		Name: "mysql", Driver: "mysql",
		schema:          mysqlSchema,
		reviewsConflict: mysqlReviewsOnDup, accountsConflict: mysqlAccountsOnDup,
	},
	"postgres": {
		Name: "postgres", Driver: "pgx",
		schema:          postgresSchema,
		reviewsConflict: reviewsOnConflict, accountsConflict: accountsOnConflict,
		numbered: true,
	},
	"sqlite": {
		Name: "sqlite", Driver: "sqlite",
		schema:          sqliteSchema,
		reviewsConflict: reviewsOnConflict, accountsConflict: accountsOnConflict,
	},
}

// DialectFor accepts a dialect or driver name ("pgx" and "postgresql" map to postgres).
func DialectFor(name string) (Dialect, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "pgx", "postgresql":
		return dialects["postgres"], nil
	case "sqlite3":
		return dialects["sqlite"], nil
	default:
		if d, ok := dialects[n]; ok {
			return d, nil
		}
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q (want mysql, postgres or sqlite)", name)
}

func (d Dialect) placeholder(i int) string {
	if d.numbered {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// valuesList renders "(?,?,…),(?,?,…)" for rows × cols parameters.
func (d Dialect) valuesList(rows, cols int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(",")
			}
			b.WriteString(d.placeholder(n))
			n++
		}
		b.WriteString(")")
	}
	return b.String()
}

func (d Dialect) insertReviewsSQL(rows int) string {
	return insertReviewsPrefix + d.valuesList(rows, reviewParams) + d.reviewsConflict
}

func (d Dialect) insertAccountsSQL(rows int) string {
	return insertAccountsPrefix + d.valuesList(rows, accountParams) + d.accountsConflict
}

func (d Dialect) selectReviewsSQL(f domain.FilterField) (string, error) {
	switch f {
	case domain.ByBusiness, domain.ByReviewer:
		return fmt.Sprintf(selectReviewsSQL, string(f), d.placeholder(1)), nil
	}
	return "", fmt.Errorf("unsupported review filter %q", f)
}

func (d Dialect) knownReviewIDsSQL(n int) string {
	return fmt.Sprintf(knownReviewIDsSQL, d.valuesList(1, n))
}

func (d Dialect) getAccountSQL() string {
	return fmt.Sprintf(getAccountSQL, d.placeholder(1))
}

// dateArg binds a review date. pgx wants a time.Time for DATE parameters;
// the others take ISO text.
func (d Dialect) dateArg(v domain.Date) any {
	if d.Name == "postgres" {
		return v.Time()
	}
	return v.String()
}
