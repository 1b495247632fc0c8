package sqlstore

// Column order shared by every INSERT and SELECT in this package.
const reviewColumns = "review_id, business_id, business_name, reviewer_id, rating, review_date, review_title, review_text, review_ip_address"
const accountColumns = "reviewer_id, display_name, email_address, country"

const (
	reviewParams  = 9
	accountParams = 4
)

// -----------------------------------------------------------------------------
// SCHEMA
// -----------------------------------------------------------------------------

// The unique keys below are the conflict targets for insert-or-ignore.
// Ids compare and sort byte for byte on every engine: MySQL's default
// collation folds case and accents, Postgres follows the server locale.
// reviewer_id on reviews is a soft reference: no foreign key, either side may
// be written first.

var mysqlSchema = []string{`
CREATE TABLE IF NOT EXISTS reviews (
  review_id         VARCHAR(191) COLLATE utf8mb4_bin NOT NULL,
  business_id       VARCHAR(191) COLLATE utf8mb4_bin NOT NULL,
  business_name     VARCHAR(512) NULL,
  reviewer_id       VARCHAR(191) COLLATE utf8mb4_bin NOT NULL,
  rating            TINYINT      NOT NULL,
  review_date       DATE         NOT NULL,
  review_title      TEXT         NULL,
  review_text       MEDIUMTEXT   NULL,
  review_ip_address VARCHAR(64)  NULL,
  created_at        TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (review_id),
  KEY idx_reviews_business (business_id, review_date DESC, review_id),
  KEY idx_reviews_reviewer (reviewer_id, review_date DESC, review_id),
  CONSTRAINT chk_reviews_rating CHECK (rating BETWEEN 1 AND 5)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS accounts (
  reviewer_id   VARCHAR(191) COLLATE utf8mb4_bin NOT NULL,
  display_name  VARCHAR(512) NOT NULL DEFAULT '',
  email_address VARCHAR(320) NULL,
  country       VARCHAR(128) NULL,
  created_at    TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (reviewer_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var postgresSchema = []string{`
CREATE TABLE IF NOT EXISTS reviews (
  review_id         TEXT        COLLATE "C" PRIMARY KEY,
  business_id       TEXT        COLLATE "C" NOT NULL,
  business_name     TEXT,
  reviewer_id       TEXT        COLLATE "C" NOT NULL,
  rating            SMALLINT    NOT NULL CHECK (rating BETWEEN 1 AND 5),
  review_date       DATE        NOT NULL,
  review_title      TEXT,
  review_text       TEXT,
  review_ip_address TEXT,
  created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_business ON reviews (business_id, review_date DESC, review_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_reviewer ON reviews (reviewer_id, review_date DESC, review_id)`, `
CREATE TABLE IF NOT EXISTS accounts (
  reviewer_id   TEXT        COLLATE "C" PRIMARY KEY,
  display_name  TEXT        NOT NULL DEFAULT '',
  email_address TEXT,
  country       TEXT,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
}

// review_date is TEXT in SQLite; ISO dates sort correctly as strings.
var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS reviews (
  review_id         TEXT    NOT NULL PRIMARY KEY,
  business_id       TEXT    NOT NULL,
  business_name     TEXT,
  reviewer_id       TEXT    NOT NULL,
  rating            INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
  review_date       TEXT    NOT NULL,
  review_title      TEXT,
  review_text       TEXT,
  review_ip_address TEXT,
  created_at        TEXT    NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_business ON reviews (business_id, review_date DESC, review_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_reviewer ON reviews (reviewer_id, review_date DESC, review_id)`, `
CREATE TABLE IF NOT EXISTS accounts (
  reviewer_id   TEXT NOT NULL PRIMARY KEY,
  display_name  TEXT NOT NULL DEFAULT '',
  email_address TEXT,
  country       TEXT,
  created_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
}

// -----------------------------------------------------------------------------
// WRITES (insert-or-ignore)
// -----------------------------------------------------------------------------

const insertReviewsPrefix = "INSERT INTO reviews\n  (" + reviewColumns + ")\nVALUES "
const insertAccountsPrefix = "INSERT INTO accounts\n  (" + accountColumns + ")\nVALUES "

// A self-assignment keeps MySQL strict about every other error (unlike
// INSERT IGNORE) and reports 0 affected rows for an existing key.
const mysqlReviewsOnDup = "\nON DUPLICATE KEY UPDATE review_id = review_id"
const mysqlAccountsOnDup = "\nON DUPLICATE KEY UPDATE reviewer_id = reviewer_id"

const reviewsOnConflict = "\nON CONFLICT (review_id) DO NOTHING"
const accountsOnConflict = "\nON CONFLICT (reviewer_id) DO NOTHING"

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

// %s is the filter column, %s the placeholder. Both come from this package,
// never from request input.
const selectReviewsSQL = `
SELECT ` + reviewColumns + `
FROM reviews
WHERE %s = %s
ORDER BY review_date DESC, review_id ASC`

const getAccountSQL = `
SELECT ` + accountColumns + `
FROM accounts
WHERE reviewer_id = %s`

// %s is a parenthesised placeholder list.
const knownReviewIDsSQL = `SELECT review_id FROM reviews WHERE review_id IN %s`

const countReviewsSQL = `SELECT COUNT(*) FROM reviews`
const countAccountsSQL = `SELECT COUNT(*) FROM accounts`
