package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS leads (
	id                UUID PRIMARY KEY,
	identity          TEXT NOT NULL UNIQUE,
	display_name      TEXT NOT NULL DEFAULT '',
	follower_count    BIGINT NOT NULL DEFAULT 0,
	following_count   BIGINT NOT NULL DEFAULT 0,
	verified          BOOLEAN NOT NULL DEFAULT FALSE,
	private           BOOLEAN NOT NULL DEFAULT FALSE,
	profile_image_url TEXT NOT NULL DEFAULT '',
	niches            TEXT[] NOT NULL DEFAULT '{}',
	source            TEXT NOT NULL DEFAULT '',
	first_seen        TIMESTAMPTZ NOT NULL,
	last_seen         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS leads_niches_idx ON leads USING GIN (niches);
`

// The insert path reports whether the row was new through xmax, which is
// zero only for rows created by this statement.
const upsertSQL = `
INSERT INTO leads (id, identity, display_name, follower_count, following_count, verified, private,
                   profile_image_url, niches, source, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
        CASE WHEN $9::text = '' THEN '{}'::text[] ELSE ARRAY[$9::text] END,
        $10, $11, $11)
ON CONFLICT (identity) DO UPDATE SET
	display_name      = EXCLUDED.display_name,
	follower_count    = EXCLUDED.follower_count,
	following_count   = EXCLUDED.following_count,
	verified          = EXCLUDED.verified,
	private           = EXCLUDED.private,
	profile_image_url = CASE WHEN EXCLUDED.profile_image_url <> '' THEN EXCLUDED.profile_image_url ELSE leads.profile_image_url END,
	source            = CASE WHEN EXCLUDED.source <> '' THEN EXCLUDED.source ELSE leads.source END,
	niches            = CASE WHEN $9::text = '' OR $9::text = ANY(leads.niches) THEN leads.niches ELSE array_append(leads.niches, $9::text) END,
	last_seen         = EXCLUDED.last_seen
RETURNING (xmax = 0) AS inserted`

const selectColumns = `id::text, identity, display_name, follower_count, following_count, verified, private,
	profile_image_url, niches, source, first_seen, last_seen`

// PostgresStore persists leads in a single table with a unique identity.
type PostgresStore struct {
	pool    *pgxpool.Pool
	nowFunc func() time.Time
}

// OpenPostgres connects to dsn and makes sure the schema exists.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("PG_DSN parse: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("PG connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PG ping: %w", err)
	}

	s := &PostgresStore{pool: pool, nowFunc: time.Now}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logrus.Infof("Connected to postgres lead store (max %d conns)", maxConns)
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("error creating schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, c types.Candidate) (UpsertResult, error) {
	if c.Identity == "" {
		return 0, &StoreError{Identity: c.Identity, Err: ErrInvalidIdentity}
	}

	var inserted bool
	err := s.pool.QueryRow(ctx, upsertSQL,
		types.LeadKey(c.Identity), c.Identity, c.DisplayName, c.FollowerCount, c.FollowingCount,
		c.Verified, c.Private, c.ProfileImageURL, c.Niche, c.Source, s.nowFunc().UTC(),
	).Scan(&inserted)
	if err != nil {
		return 0, &StoreError{Identity: c.Identity, Err: err}
	}
	if inserted {
		return Inserted, nil
	}
	return Updated, nil
}

func (s *PostgresStore) Get(ctx context.Context, identity string) (types.LeadRecord, bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM leads WHERE identity = $1`, identity)
	if err != nil {
		return types.LeadRecord{}, false, fmt.Errorf("error querying lead: %w", err)
	}
	recs, err := collectLeads(rows)
	if err != nil {
		return types.LeadRecord{}, false, err
	}
	if len(recs) == 0 {
		return types.LeadRecord{}, false, nil
	}
	return recs[0], true, nil
}

func (s *PostgresStore) ListByNiche(ctx context.Context, niche string) ([]types.LeadRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM leads WHERE $1 = ANY(niches) ORDER BY follower_count DESC, identity`, niche)
	if err != nil {
		return nil, fmt.Errorf("error listing leads: %w", err)
	}
	return collectLeads(rows)
}

func (s *PostgresStore) CountByNiche(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT n, COUNT(*) FROM leads, unnest(niches) AS n GROUP BY n`)
	if err != nil {
		return nil, fmt.Errorf("error counting leads: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var niche string
		var n int64
		if err := rows.Scan(&niche, &n); err != nil {
			return nil, fmt.Errorf("error scanning count: %w", err)
		}
		counts[niche] = int(n)
	}
	return counts, rows.Err()
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func collectLeads(rows pgx.Rows) ([]types.LeadRecord, error) {
	defer rows.Close()
	var out []types.LeadRecord
	for rows.Next() {
		var (
			rec types.LeadRecord
			id  string
		)
		err := rows.Scan(&id, &rec.Identity, &rec.DisplayName, &rec.FollowerCount, &rec.FollowingCount,
			&rec.Verified, &rec.Private, &rec.ProfileImageURL, &rec.Niches, &rec.Source,
			&rec.FirstSeen, &rec.LastSeen)
		if err != nil {
			return nil, fmt.Errorf("error scanning lead: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("error parsing lead id: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
