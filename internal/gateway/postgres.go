package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osoko/pressline/model"
)

// PgGateway is a PostgreSQL-backed Gateway using pgx/v5. Each namespace maps
// to its own artifacts_<namespace> table with no cross-table constraints.
//
// When tombstone mode is on, Delete flips deleted_at instead of removing the
// row; every read path filters on deleted_at IS NULL, so a tombstoned
// artifact is observably identical to a deleted one.
type PgGateway struct {
	pool      *pgxpool.Pool
	namespace string
	table     string
	tombstone bool
	record    OpsRecorder
}

// NewPgGateway creates a PostgreSQL gateway for one namespace.
func NewPgGateway(pool *pgxpool.Pool, namespace string, tombstone bool, record OpsRecorder) (*PgGateway, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	return &PgGateway{
		pool:      pool,
		namespace: namespace,
		table:     "artifacts_" + namespace,
		tombstone: tombstone,
		record:    record,
	}, nil
}

// EnsureSchema creates the artifact table for each namespace if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, namespaces ...string) error {
	for _, ns := range namespaces {
		if err := ValidateNamespace(ns); err != nil {
			return err
		}
		_, err := pool.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS artifacts_%s (
				id         TEXT PRIMARY KEY,
				payload    JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				deleted_at TIMESTAMPTZ
			)`, ns))
		if err != nil {
			return fmt.Errorf("create artifact table for %q: %w", ns, err)
		}
	}
	return nil
}

// Namespace returns the bound module namespace.
func (g *PgGateway) Namespace() string {
	return g.namespace
}

// Save upserts the payload under id. A replayed save revives a tombstoned
// row so the step converges on the same ref.
func (g *PgGateway) Save(ctx context.Context, id string, payload any) (model.ArtifactRef, error) {
	g.recordOp("save")

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal artifact %q: %w", id, err)
	}

	_, err = g.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payload, created_at, deleted_at)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload, deleted_at = NULL`, g.table),
		id, data, time.Now().UTC(),
	)
	if err != nil {
		return "", model.NewRecoverableError("", fmt.Sprintf("insert artifact %q", id), err)
	}
	return model.NewArtifactRef(g.namespace, id), nil
}

// Load decodes the artifact behind ref into out.
func (g *PgGateway) Load(ctx context.Context, ref model.ArtifactRef, out any) error {
	g.recordOp("load")

	if err := checkBoundary(g.namespace, ref); err != nil {
		return err
	}

	var data []byte
	err := g.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT payload FROM %s
		WHERE id = $1 AND deleted_at IS NULL`, g.table),
		ref.ID(),
	).Scan(&data)
	if err == pgx.ErrNoRows {
		return model.NewNotFoundError(fmt.Sprintf("artifact %q not found", ref))
	}
	if err != nil {
		return model.NewRecoverableError("", fmt.Sprintf("query artifact %q", ref), err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal artifact %q: %w", ref, err)
	}
	return nil
}

// Delete removes the artifact behind ref, or tombstones it when configured.
// Absent artifacts are a no-op.
func (g *PgGateway) Delete(ctx context.Context, ref model.ArtifactRef) (bool, error) {
	g.recordOp("delete")

	if err := checkBoundary(g.namespace, ref); err != nil {
		return false, err
	}

	var query string
	if g.tombstone {
		query = fmt.Sprintf(`
			UPDATE %s SET deleted_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL`, g.table)
	} else {
		query = fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, g.table)
	}

	tag, err := g.pool.Exec(ctx, query, ref.ID())
	if err != nil {
		return false, model.NewRecoverableError("", fmt.Sprintf("delete artifact %q", ref), err)
	}
	return tag.RowsAffected() > 0, nil
}

// Refs lists refs of all live artifacts, sorted by ID.
func (g *PgGateway) Refs(ctx context.Context) ([]model.ArtifactRef, error) {
	g.recordOp("refs")

	rows, err := g.pool.Query(ctx, fmt.Sprintf(`
		SELECT id FROM %s
		WHERE deleted_at IS NULL
		ORDER BY id`, g.table))
	if err != nil {
		return nil, model.NewRecoverableError("", "list artifacts", err)
	}
	defer rows.Close()

	var refs []model.ArtifactRef
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan artifact id: %w", err)
		}
		refs = append(refs, model.NewArtifactRef(g.namespace, id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return refs, nil
}

// HealthCheck pings the backing pool.
func (g *PgGateway) HealthCheck(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

func (g *PgGateway) recordOp(op string) {
	if g.record != nil {
		g.record(g.namespace, op)
	}
}
