package chain

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository encapsulates DB operations for the linked-function graph.
type Repository interface {
	ListEdges(ctx context.Context, tenantID shared.TenantID, primaryCode string) ([]Edge, error)
	CreateEdge(ctx context.Context, edge Edge) (Edge, error)
	DeleteEdge(ctx context.Context, tenantID shared.TenantID, id shared.EdgeID) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed graph repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) ListEdges(ctx context.Context, tenantID shared.TenantID, primaryCode string) ([]Edge, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, primary_code, secondary_code, exec_order, created_at
FROM linked_functions WHERE tenant_id=$1 AND primary_code=$2 ORDER BY exec_order ASC`,
		tenantID, primaryCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.TenantID, &e.PrimaryCode, &e.SecondaryCode, &e.Order, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range edges {
		mappings, err := r.loadMappings(ctx, edges[i].ID)
		if err != nil {
			return nil, err
		}
		edges[i].Mappings = mappings
	}
	return edges, nil
}

func (r *repository) loadMappings(ctx context.Context, edgeID shared.EdgeID) ([]ParameterMapping, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, edge_id, origin, dest_entity, dest_field
FROM parameter_mappings WHERE edge_id=$1 ORDER BY id ASC`, edgeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ParameterMapping
	for rows.Next() {
		var m ParameterMapping
		if err := rows.Scan(&m.ID, &m.EdgeID, &m.Origin, &m.DestEntity, &m.DestField); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repository) CreateEdge(ctx context.Context, edge Edge) (Edge, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Edge{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`INSERT INTO linked_functions (tenant_id, primary_code, secondary_code, exec_order)
VALUES ($1,$2,$3,$4) RETURNING id, created_at`,
		edge.TenantID, edge.PrimaryCode, edge.SecondaryCode, edge.Order).
		Scan(&edge.ID, &edge.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "uq_linked_functions_order" {
				return Edge{}, ErrDuplicateOrder
			}
			return Edge{}, ErrDuplicateEdge
		}
		return Edge{}, err
	}
	for i := range edge.Mappings {
		m := &edge.Mappings[i]
		m.EdgeID = edge.ID
		if err := tx.QueryRow(ctx,
			`INSERT INTO parameter_mappings (edge_id, origin, dest_entity, dest_field)
VALUES ($1,$2,$3,$4) RETURNING id`,
			m.EdgeID, m.Origin, m.DestEntity, m.DestField).Scan(&m.ID); err != nil {
			return Edge{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Edge{}, err
	}
	return edge, nil
}

func (r *repository) DeleteEdge(ctx context.Context, tenantID shared.TenantID, id shared.EdgeID) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM linked_functions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEdgeNotFound
	}
	return nil
}
