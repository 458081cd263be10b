package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/levelhq/level-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside runtime images that do not ship the .sql file.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore persists dataset snapshots for durability across restarts.
// The engine is fully functional without it; every caller treats a nil store
// as "persistence disabled".
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("[DB] Connected to PostgreSQL for snapshot persistence")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity for health reporting.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("[DB] Snapshot schema initialized")
	return nil
}

// SaveSnapshot persists a completed dataset: the dataset row, its immutable
// cluster registry, and the current adjustments, all in one transaction.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, ds *models.DatasetState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	datasetSQL := `
		INSERT INTO datasets (dataset_id, total_points, noise_count, text_column, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dataset_id) DO UPDATE
		SET total_points = EXCLUDED.total_points, noise_count = EXCLUDED.noise_count;
	`
	_, err = tx.Exec(ctx, datasetSQL, ds.ID, ds.TotalPoints, ds.NoiseCount, ds.TextColumn, ds.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert dataset: %v", err)
	}

	clusterSQL := `
		INSERT INTO clusters (dataset_id, cluster_id, position, sample_count, label, description, color)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dataset_id, cluster_id) DO UPDATE
		SET label = EXCLUDED.label, description = EXCLUDED.description;
	`
	for _, c := range ds.Clusters {
		_, err = tx.Exec(ctx, clusterSQL, ds.ID, c.ID, c.Position, c.SampleCount, c.Label, c.Description, c.Color)
		if err != nil {
			return fmt.Errorf("failed to upsert cluster %d: %v", c.ID, err)
		}
	}

	for clusterID, adj := range ds.Adjustments {
		if err := upsertAdjustment(ctx, tx, ds.ID, clusterID, adj); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// SaveAdjustments upserts the current adjustment state after an adjust or
// reset call. Called outside the store's lock; a write that loses a race
// with a newer one is harmless because the newest call always runs last
// per dataset.
func (s *PostgresStore) SaveAdjustments(ctx context.Context, datasetID string, adjustments map[int]models.Adjustment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for clusterID, adj := range adjustments {
		if err := upsertAdjustment(ctx, tx, datasetID, clusterID, adj); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func upsertAdjustment(ctx context.Context, tx pgx.Tx, datasetID string, clusterID int, adj models.Adjustment) error {
	sql := `
		INSERT INTO adjustments (dataset_id, cluster_id, selected_count, weight, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (dataset_id, cluster_id) DO UPDATE
		SET selected_count = EXCLUDED.selected_count,
		    weight = EXCLUDED.weight,
		    updated_at = NOW();
	`
	_, err := tx.Exec(ctx, sql, datasetID, clusterID, adj.SelectedCount, adj.Weight)
	if err != nil {
		return fmt.Errorf("failed to upsert adjustment for cluster %d: %v", clusterID, err)
	}
	return nil
}

// DeleteDataset removes a dataset and its dependent rows.
func (s *PostgresStore) DeleteDataset(ctx context.Context, datasetID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM datasets WHERE dataset_id = $1`, datasetID)
	return err
}
