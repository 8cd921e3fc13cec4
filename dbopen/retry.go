package dbopen

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Attempts bounds how often Exec runs a statement that keeps finding the
// database locked.
const Attempts = 3

// IsBusy reports whether err is SQLite refusing a write because another
// connection holds the lock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Exec runs query, retrying with a linear backoff (100ms, 200ms) while the
// database is busy. Other errors return immediately.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var err error
	for i := 1; i <= Attempts; i++ {
		var res sql.Result
		res, err = db.ExecContext(ctx, query, args...)
		if err == nil || !IsBusy(err) || i == Attempts {
			return res, err
		}
		t := time.NewTimer(time.Duration(i) * 100 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, err
}
