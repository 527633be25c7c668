package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var remoteSchemes = []string{"libsql://", "http://", "https://", "ws://", "wss://"}

// IsRemote reports whether dsn points at a libsql server rather than a local sqlite file.
func IsRemote(dsn string) bool {
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(dsn, scheme) {
			return true
		}
	}
	return false
}

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

// OpenDB opens the release database and applies Schema to it.
//
// dsn is either a path to a local sqlite file (created along with its parent
// directories if missing), ":memory:", or a libsql url.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, wrapOpenDB(fmt.Errorf("a path was not specified"))
	}

	var database *sql.DB
	var err error
	if IsRemote(dsn) {
		database, err = sql.Open("libsql", dsn)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
	} else {
		if dsn != ":memory:" {
			err = os.MkdirAll(filepath.Dir(dsn), 0777)
			if err != nil {
				return nil, wrapOpenDB(err)
			}
		}
		database, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
		// see this stackoverflow post for information on why the following
		// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
		database.SetMaxOpenConns(1)
		if dsn != ":memory:" {
			_, err = database.ExecContext(ctx, "PRAGMA journal_mode=WAL")
			if err != nil {
				database.Close()
				return nil, wrapOpenDB(err)
			}
		}
	}

	_, err = database.ExecContext(ctx, Schema)
	if err != nil {
		database.Close()
		return nil, wrapOpenDB(fmt.Errorf("apply schema: %w", err))
	}
	return database, nil
}
