package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"

	"ecm/internal/errs"
	"ecm/pkg/types"
)

// ReplaceClusters atomically replaces the entire cluster set: every
// existing cluster is deleted (cascading chunks.cluster_id to NULL), the
// new clusters are inserted, and each chunk is reassigned to the cluster
// that claims it in assignments. Re-clustering is all-or-nothing — there
// is no partial cluster set visible mid-maintenance-run.
func ReplaceClusters(ctx context.Context, w *WriteTx, clusters []*types.Cluster, assignments map[string]string) error {
	if _, err := w.ExecContext(ctx, `UPDATE chunks SET cluster_id = NULL`); err != nil {
		return errs.StorageError(err, "clearing cluster assignments")
	}
	if _, err := w.ExecContext(ctx, `DELETE FROM clusters`); err != nil {
		return errs.StorageError(err, "clearing clusters")
	}

	for _, c := range clusters {
		if err := c.Validate(); err != nil {
			return errs.InputError("invalid cluster: %v", err)
		}
		_, err := w.ExecContext(ctx, `
			INSERT INTO clusters (id, label, centroid, size, lambda_birth, lambda_death, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Label, encodeCentroid(c.Centroid), c.Size, c.LambdaBirth, c.LambdaDeath, c.UpdatedAt,
		)
		if err != nil {
			return errs.StorageError(err, "inserting cluster %s", c.ID)
		}
	}

	for chunkID, clusterID := range assignments {
		if _, err := w.ExecContext(ctx, `UPDATE chunks SET cluster_id = ? WHERE id = ?`, clusterID, chunkID); err != nil {
			return errs.StorageError(err, "assigning chunk %s to cluster %s", chunkID, clusterID)
		}
	}
	return nil
}

// GetCluster fetches a single cluster by id.
func GetCluster(ctx context.Context, q queryer, id string) (*types.Cluster, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, label, centroid, size, lambda_birth, lambda_death, updated_at
		FROM clusters WHERE id = ?`, id)
	var (
		c        types.Cluster
		centroid []byte
	)
	if err := row.Scan(&c.ID, &c.Label, &centroid, &c.Size, &c.LambdaBirth, &c.LambdaDeath, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFoundError("cluster %s", id)
		}
		return nil, errs.StorageError(err, "fetching cluster %s", id)
	}
	c.Centroid = decodeCentroid(centroid)
	return &c, nil
}

// AllClusters returns every stored cluster.
func AllClusters(ctx context.Context, q queryer) ([]*types.Cluster, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, label, centroid, size, lambda_birth, lambda_death, updated_at FROM clusters`)
	if err != nil {
		return nil, errs.StorageError(err, "listing clusters")
	}
	defer rows.Close()

	var clusters []*types.Cluster
	for rows.Next() {
		var (
			c        types.Cluster
			centroid []byte
		)
		if err := rows.Scan(&c.ID, &c.Label, &centroid, &c.Size, &c.LambdaBirth, &c.LambdaDeath, &c.UpdatedAt); err != nil {
			return nil, errs.StorageError(err, "scanning cluster")
		}
		c.Centroid = decodeCentroid(centroid)
		clusters = append(clusters, &c)
	}
	return clusters, rows.Err()
}

// GetClusterCount returns the number of stored clusters.
func GetClusterCount(ctx context.Context, q queryer) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM clusters`).Scan(&n); err != nil {
		return 0, errs.StorageError(err, "counting clusters")
	}
	return n, nil
}

// AllClusters is the *Store-bound convenience form of the package
// function.
func (s *Store) AllClusters(ctx context.Context) ([]*types.Cluster, error) {
	return AllClusters(ctx, s.db)
}

// InsertClusterRaw inserts a single cluster row for archive import.
// Unlike ReplaceClusters it does not clear the existing cluster set
// first, so import can replay an exported cluster set onto an empty (or
// merge onto an existing) store without a full reclustering pass.
func InsertClusterRaw(ctx context.Context, w *WriteTx, c *types.Cluster) error {
	if err := c.Validate(); err != nil {
		return errs.InputError("invalid cluster: %v", err)
	}
	_, err := w.ExecContext(ctx, `
		INSERT OR IGNORE INTO clusters (id, label, centroid, size, lambda_birth, lambda_death, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Label, encodeCentroid(c.Centroid), c.Size, c.LambdaBirth, c.LambdaDeath, c.UpdatedAt,
	)
	if err != nil {
		return errs.StorageError(err, "inserting cluster %s", c.ID)
	}
	return nil
}

func encodeCentroid(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeCentroid(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
