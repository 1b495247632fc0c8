package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Open connects with the named driver and waits up to wait for the database
// to answer a ping, retrying with exponential backoff. Containers commonly
// start the app before the database accepts connections.
func Open(ctx context.Context, driver, dsn string, wait time.Duration) (*Repo, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open %s: %w", d.Name, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = wait
	ping := func() error { return db.PingContext(ctx) }
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Str("driver", d.Name).Dur("retry_in", next).Msg("database not ready")
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(bo, ctx), notify); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}

	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, d), nil
}
