package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-rails/loginkit/core"
)

// SigninLog persists sign-in events to Postgres. It implements
// core.SigninLogger; writes are best-effort and never fail the login path.
//
// Expected schema:
//
//	CREATE TABLE login_signins (
//	    id          uuid PRIMARY KEY,
//	    occurred_at timestamptz NOT NULL,
//	    method      text NOT NULL,
//	    username    text NOT NULL DEFAULT '',
//	    succeeded   boolean NOT NULL,
//	    error_kind  text NOT NULL DEFAULT '',
//	    source_ip   text NOT NULL DEFAULT ''
//	);
type SigninLog struct {
	pool *pgxpool.Pool
}

func NewSigninLog(pool *pgxpool.Pool) *SigninLog {
	return &SigninLog{pool: pool}
}

func (l *SigninLog) RecordSignin(ctx context.Context, ev core.SigninEvent) {
	if l == nil || l.pool == nil {
		return
	}
	_, _ = l.pool.Exec(ctx,
		`INSERT INTO login_signins (id, occurred_at, method, username, succeeded, error_kind, source_ip)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.OccurredAt, string(ev.Method), ev.Username, ev.Succeeded, string(ev.ErrorKind), ev.SourceIP)
}

// PurgeOlderThan deletes sign-in rows older than cutoff, at most batch rows
// per call, and returns how many were removed.
func (l *SigninLog) PurgeOlderThan(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 500
	}
	tag, err := l.pool.Exec(ctx,
		`DELETE FROM login_signins
		 WHERE id IN (
		     SELECT id FROM login_signins WHERE occurred_at < $1 LIMIT $2
		 )`,
		cutoff, batch)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
