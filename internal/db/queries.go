package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Release is a row of the releases table, times are unix seconds.
type Release struct {
	ID           int64
	Identity     string
	Tag          string
	Title        string
	Artist       string
	Artwork      string
	Link         string
	Tags         string
	DiscoveredAt int64
	SentAt       sql.NullInt64
	Blacklisted  bool
}

const releaseColumns = `id, identity, tag, title, artist, artwork, link, tags, discovered_at, sent_at, blacklisted`

func scanRelease(row interface{ Scan(...any) error }) (Release, error) {
	var r Release
	err := row.Scan(
		&r.ID,
		&r.Identity,
		&r.Tag,
		&r.Title,
		&r.Artist,
		&r.Artwork,
		&r.Link,
		&r.Tags,
		&r.DiscoveredAt,
		&r.SentAt,
		&r.Blacklisted,
	)
	return r, err
}

func scanReleases(rows *sql.Rows) ([]Release, error) {
	defer rows.Close()
	var items []Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const releaseExists = `select exists(select 1 from releases where identity = ?)`

func (q *Queries) ReleaseExists(ctx context.Context, identity string) (bool, error) {
	row := q.db.QueryRowContext(ctx, releaseExists, identity)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const getRelease = `select ` + releaseColumns + ` from releases where identity = ?`

func (q *Queries) GetRelease(ctx context.Context, identity string) (Release, error) {
	row := q.db.QueryRowContext(ctx, getRelease, identity)
	return scanRelease(row)
}

const createRelease = `insert into releases (
    identity, tag, title, artist, artwork, link, tags, discovered_at, sent_at, blacklisted
) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
on conflict(identity) do nothing`

type CreateReleaseParams struct {
	Identity     string
	Tag          string
	Title        string
	Artist       string
	Artwork      string
	Link         string
	Tags         string
	DiscoveredAt int64
	SentAt       sql.NullInt64
	Blacklisted  bool
}

// CreateRelease returns the number of rows inserted, 0 means the identity was already present.
func (q *Queries) CreateRelease(ctx context.Context, arg CreateReleaseParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, createRelease,
		arg.Identity,
		arg.Tag,
		arg.Title,
		arg.Artist,
		arg.Artwork,
		arg.Link,
		arg.Tags,
		arg.DiscoveredAt,
		arg.SentAt,
		arg.Blacklisted,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markReleaseSent = `update releases set sent_at = ? where identity = ? and sent_at is null`

type MarkReleaseSentParams struct {
	SentAt   int64
	Identity string
}

// MarkReleaseSent returns the number of rows updated, already sent rows are never touched.
func (q *Queries) MarkReleaseSent(ctx context.Context, arg MarkReleaseSentParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markReleaseSent, arg.SentAt, arg.Identity)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listUnsentReleases = `select ` + releaseColumns + ` from releases
where sent_at is null and blacklisted = 0
order by discovered_at asc, id asc`

func (q *Queries) ListUnsentReleases(ctx context.Context) ([]Release, error) {
	rows, err := q.db.QueryContext(ctx, listUnsentReleases)
	if err != nil {
		return nil, err
	}
	return scanReleases(rows)
}

const listRecentReleases = `select ` + releaseColumns + ` from releases
order by discovered_at desc, id desc
limit ?`

func (q *Queries) ListRecentReleases(ctx context.Context, limit int64) ([]Release, error) {
	rows, err := q.db.QueryContext(ctx, listRecentReleases, limit)
	if err != nil {
		return nil, err
	}
	return scanReleases(rows)
}

const deleteReleasesBefore = `delete from releases where discovered_at < ?`

func (q *Queries) DeleteReleasesBefore(ctx context.Context, before int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteReleasesBefore, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countReleases = `select
    count(*),
    count(sent_at),
    coalesce(sum(blacklisted), 0)
from releases`

type CountReleasesRow struct {
	Total       int64
	Sent        int64
	Blacklisted int64
}

func (q *Queries) CountReleases(ctx context.Context) (CountReleasesRow, error) {
	row := q.db.QueryRowContext(ctx, countReleases)
	var i CountReleasesRow
	err := row.Scan(&i.Total, &i.Sent, &i.Blacklisted)
	return i, err
}
