package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecm/internal/errs"
	"ecm/pkg/types"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// InsertChunk writes a chunk within an open write transaction. Re-inserting
// a chunk with the same content-addressed id is a no-op (idempotent
// ingestion): it uses INSERT OR IGNORE rather than failing on conflict.
func InsertChunk(ctx context.Context, w *WriteTx, c *types.Chunk) error {
	if err := c.Validate(); err != nil {
		return errs.InputError("invalid chunk: %v", err)
	}
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return errs.InputError("marshalling chunk metadata: %v", err)
	}
	var lastTurnAt sql.NullTime
	if !c.LastTurnAt.IsZero() {
		lastTurnAt = sql.NullTime{Time: c.LastTurnAt, Valid: true}
	}
	_, err = w.ExecContext(ctx, `
		INSERT OR IGNORE INTO chunks
			(id, session_slug, session_id, turn_index_start, turn_index_end,
			 role, text, created_at, last_turn_at, vector_clock, cluster_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionSlug, c.SessionID, c.TurnIndexStart, c.TurnIndexEnd,
		string(c.Role), c.Text, c.CreatedAt, lastTurnAt, c.VectorClock, c.ClusterID, string(meta),
	)
	if err != nil {
		return errs.StorageError(err, "inserting chunk %s", c.ID)
	}
	return nil
}

// GetChunk fetches a single chunk by id, using q (either the pooled *sql.DB
// for a plain read or an in-flight *WriteTx for a read-your-writes lookup).
func GetChunk(ctx context.Context, q queryer, id string) (*types.Chunk, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, session_slug, session_id, turn_index_start, turn_index_end,
		       role, text, created_at, last_turn_at, vector_clock, cluster_id, metadata
		FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFoundError("chunk %s", id)
	}
	if err != nil {
		return nil, errs.StorageError(err, "fetching chunk %s", id)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (*types.Chunk, error) {
	var (
		c          types.Chunk
		role       string
		clusterID  sql.NullString
		lastTurnAt sql.NullTime
		meta       string
	)
	if err := row.Scan(&c.ID, &c.SessionSlug, &c.SessionID, &c.TurnIndexStart, &c.TurnIndexEnd,
		&role, &c.Text, &c.CreatedAt, &lastTurnAt, &c.VectorClock, &clusterID, &meta); err != nil {
		return nil, err
	}
	c.Role = types.Role(role)
	if clusterID.Valid {
		v := clusterID.String
		c.ClusterID = &v
	}
	if lastTurnAt.Valid {
		c.LastTurnAt = lastTurnAt.Time
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	return &c, nil
}

// DeleteChunk removes a chunk; ON DELETE CASCADE/SET NULL handles its
// edges and cluster membership, and the chunks_fts trigger drops its
// keyword-index row.
func DeleteChunk(ctx context.Context, w *WriteTx, id string) error {
	if _, err := w.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id); err != nil {
		return errs.StorageError(err, "deleting chunk %s", id)
	}
	return nil
}

// UpdateChunkCluster assigns (or clears, with clusterID == nil) a chunk's
// cluster membership.
func UpdateChunkCluster(ctx context.Context, w *WriteTx, chunkID string, clusterID *string) error {
	if _, err := w.ExecContext(ctx, `UPDATE chunks SET cluster_id = ? WHERE id = ?`, clusterID, chunkID); err != nil {
		return errs.StorageError(err, "updating cluster for chunk %s", chunkID)
	}
	return nil
}

// GetChunkCount returns the total number of stored chunks.
func GetChunkCount(ctx context.Context, q queryer) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, errs.StorageError(err, "counting chunks")
	}
	return n, nil
}

// GetSessionIDs returns the distinct session ids that have at least one
// stored chunk, ordered by the most recent chunk's creation time.
func GetSessionIDs(ctx context.Context, q queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT session_id FROM chunks
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, errs.StorageError(err, "listing session ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.StorageError(err, "scanning session id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSessionIDsForProjects returns the distinct session ids belonging to
// any of the given project (session_slug) values, the lookup retrieval's
// project filter needs before it can restrict candidates by session id.
func GetSessionIDsForProjects(ctx context.Context, q queryer, projects []string) ([]string, error) {
	if len(projects) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(projects))
	args := make([]interface{}, len(projects))
	for i, p := range projects {
		placeholders[i] = "?"
		args[i] = p
	}
	query := fmt.Sprintf(`
		SELECT DISTINCT session_id FROM chunks
		WHERE session_slug IN (%s)`, strings.Join(placeholders, ","))
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.StorageError(err, "listing session ids for projects")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.StorageError(err, "scanning session id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetPredecessorSessionTail returns the most recently created chunk
// belonging to a different session in the same project, created before
// before, or NotFound if there is none — the candidate for the
// first-chunk-of-a-continued-session cross_session link.
func GetPredecessorSessionTail(ctx context.Context, q queryer, sessionSlug, sessionID string, before time.Time) (*types.Chunk, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, session_slug, session_id, turn_index_start, turn_index_end,
		       role, text, created_at, last_turn_at, vector_clock, cluster_id, metadata
		FROM chunks
		WHERE session_slug = ? AND session_id != ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT 1`, sessionSlug, sessionID, before)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFoundError("predecessor session tail for project %s", sessionSlug)
	}
	if err != nil {
		return nil, errs.StorageError(err, "fetching predecessor session tail for project %s", sessionSlug)
	}
	return c, nil
}

// GetChunk is the *Store-bound convenience form of the package function.
func (s *Store) GetChunk(ctx context.Context, id string) (*types.Chunk, error) {
	return GetChunk(ctx, s.db, id)
}

// GetSessionIDsForProjects is the *Store-bound convenience form of the
// package function.
func (s *Store) GetSessionIDsForProjects(ctx context.Context, projects []string) ([]string, error) {
	return GetSessionIDsForProjects(ctx, s.db, projects)
}

// GetPredecessorSessionTail is the *Store-bound convenience form of the
// package function.
func (s *Store) GetPredecessorSessionTail(ctx context.Context, sessionSlug, sessionID string, before time.Time) (*types.Chunk, error) {
	return GetPredecessorSessionTail(ctx, s.db, sessionSlug, sessionID, before)
}

// ChunksForCluster returns every chunk currently assigned to clusterID, the
// input to recomputing a cluster's centroid.
func ChunksForCluster(ctx context.Context, q queryer, clusterID string) ([]*types.Chunk, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, session_slug, session_id, turn_index_start, turn_index_end,
		       role, text, created_at, last_turn_at, vector_clock, cluster_id, metadata
		FROM chunks WHERE cluster_id = ?`, clusterID)
	if err != nil {
		return nil, errs.StorageError(err, "listing chunks for cluster %s", clusterID)
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, errs.StorageError(err, "scanning chunk")
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunksByFilePath returns every stored chunk (other than excludeChunkID)
// whose metadata.file_paths overlaps any of filePaths, the candidate set for
// code_reference edge detection. File paths live only inside the chunk's
// opaque metadata JSON blob, so the lookup goes through SQLite's json_each
// table-valued function rather than a dedicated column.
func GetChunksByFilePath(ctx context.Context, q queryer, filePaths []string, excludeChunkID string) ([]*types.Chunk, error) {
	if len(filePaths) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(filePaths))
	queryArgs := make([]interface{}, 0, len(filePaths)+1)
	queryArgs = append(queryArgs, excludeChunkID)
	for i, p := range filePaths {
		placeholders[i] = "?"
		queryArgs = append(queryArgs, p)
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT id, session_slug, session_id, turn_index_start, turn_index_end,
		       role, text, created_at, last_turn_at, vector_clock, cluster_id, metadata
		FROM chunks
		WHERE id != ? AND id IN (
			SELECT chunks.id FROM chunks, json_each(chunks.metadata, '$.file_paths')
			WHERE json_each.value IN (%s)
		)`, strings.Join(placeholders, ","))

	rows, err := q.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, errs.StorageError(err, "listing chunks by file path")
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, errs.StorageError(err, "scanning chunk")
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunksByFilePath is the *Store-bound convenience form of the package
// function.
func (s *Store) GetChunksByFilePath(ctx context.Context, filePaths []string, excludeChunkID string) ([]*types.Chunk, error) {
	return GetChunksByFilePath(ctx, s.db, filePaths, excludeChunkID)
}

// AllChunkIDsCreatedBefore supports TTL-driven maintenance sweeps.
func AllChunkIDsCreatedBefore(ctx context.Context, q queryer, cutoff time.Time) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM chunks WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, errs.StorageError(err, "listing chunks older than %s", cutoff)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.StorageError(err, "scanning chunk id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
