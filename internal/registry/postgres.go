package registry

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/EternisAI/wg-provisioner/internal/clients"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	selectClients = `SELECT identity, address, public_key, private_key, expires_at, plan, warning_flags, expired, created_at
		FROM clients`

	deleteMissingClients = `DELETE FROM clients WHERE NOT (identity = ANY($1))`

	upsertClient = `INSERT INTO clients (identity, address, public_key, private_key, expires_at, plan, warning_flags, expired, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identity) DO UPDATE SET
			address = EXCLUDED.address,
			public_key = EXCLUDED.public_key,
			private_key = EXCLUDED.private_key,
			expires_at = EXCLUDED.expires_at,
			plan = EXCLUDED.plan,
			warning_flags = EXCLUDED.warning_flags,
			expired = EXCLUDED.expired,
			created_at = EXCLUDED.created_at`
)

// PostgresStore keeps the registry in the clients table. A snapshot save runs in
// one transaction, which gives the same all-or-nothing guarantee as the file store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Load reports query failures instead of degrading to an empty registry: an
// unreachable database is not a first run, and saving an empty snapshot over it
// would drop every client.
func (s *PostgresStore) Load(ctx context.Context) (clients.Snapshot, error) {
	rows, err := s.pool.Query(ctx, selectClients)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	snapshot := clients.Snapshot{}
	for rows.Next() {
		var (
			rec     clients.Record
			address string
			flags   []int32
		)
		if err := rows.Scan(&rec.Identity, &address, &rec.PublicKey, &rec.PrivateKey,
			&rec.ExpiresAt, &rec.Plan, &flags, &rec.Expired, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		rec.Address, err = netip.ParseAddr(address)
		if err != nil {
			return nil, fmt.Errorf("client %s has invalid address %q: %w", rec.Identity, address, err)
		}
		rec.ExpiresAt = rec.ExpiresAt.UTC()
		rec.CreatedAt = rec.CreatedAt.UTC()
		if len(flags) > 0 {
			rec.WarningFlags = make(clients.WarningFlags, len(flags))
			for i, f := range flags {
				rec.WarningFlags[i] = int(f)
			}
		}
		snapshot[rec.Identity] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read clients: %w", err)
	}
	return snapshot, nil
}

func (s *PostgresStore) Save(ctx context.Context, snapshot clients.Snapshot) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ids := make([]string, 0, len(snapshot))
		for id := range snapshot {
			ids = append(ids, id)
		}
		if _, err := tx.Exec(ctx, deleteMissingClients, ids); err != nil {
			return fmt.Errorf("failed to delete removed clients: %w", err)
		}

		batch := &pgx.Batch{}
		for id, rec := range snapshot {
			flags := make([]int32, len(rec.WarningFlags))
			for i, f := range rec.WarningFlags {
				flags[i] = int32(f)
			}
			batch.Queue(upsertClient, id, rec.Address.String(), rec.PublicKey, rec.PrivateKey,
				rec.ExpiresAt.UTC(), rec.Plan, flags, rec.Expired, orNow(rec.CreatedAt))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to upsert clients: %w", err)
		}
		return nil
	})
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC().Truncate(time.Second)
	}
	return t.UTC()
}
