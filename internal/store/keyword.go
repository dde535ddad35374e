package store

import (
	"context"
	"strings"
	"unicode"

	"ecm/internal/errs"
)

// KeywordHit is one BM25 match from the keyword index.
type KeywordHit struct {
	ChunkID string
	Score   float64 // higher is better
}

// reservedFTS5 are bare FTS5 query operators that must not reach the
// engine unquoted, since a stray "or"/"near" in user text would otherwise
// be parsed as a boolean operator instead of a search term.
var reservedFTS5 = map[string]bool{
	"and": true, "or": true, "not": true, "near": true,
}

// sanitizeFTS5Query tokenises q and rebuilds it as a sequence of
// double-quoted terms, stripping FTS5 metacharacters and bare boolean
// operators so arbitrary chunk text can be used as a query without a
// syntax error or unintended operator injection.
func sanitizeFTS5Query(q string) string {
	fields := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	var terms []string
	for _, f := range fields {
		lower := strings.ToLower(f)
		if reservedFTS5[lower] {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, "")+`"`)
	}
	return strings.Join(terms, " ")
}

// SearchKeyword runs a BM25 keyword search over the chunk text, returning
// up to limit hits ordered by descending score (score is the negated
// bm25() value, since SQLite's bm25() returns lower-is-better).
func SearchKeyword(ctx context.Context, q queryer, query string, limit int) ([]KeywordHit, error) {
	sanitized := sanitizeFTS5Query(query)
	if sanitized == "" {
		return nil, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, -bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score DESC, id ASC
		LIMIT ?`, sanitized, limit)
	if err != nil {
		return nil, errs.StorageError(err, "keyword search for %q", query)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, errs.StorageError(err, "scanning keyword hit")
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchKeyword is the *Store-bound convenience form of the package
// function.
func (s *Store) SearchKeyword(ctx context.Context, query string, limit int) ([]KeywordHit, error) {
	return SearchKeyword(ctx, s.db, query, limit)
}

// SearchKeywordInSessions is the *Store-bound convenience form of the
// package function.
func (s *Store) SearchKeywordInSessions(ctx context.Context, query string, sessionIDs []string, limit int) ([]KeywordHit, error) {
	return SearchKeywordInSessions(ctx, s.db, query, sessionIDs, limit)
}

// SearchKeywordInSessions restricts the keyword search to chunks belonging
// to one of sessionIDs, for project-scoped retrieval.
func SearchKeywordInSessions(ctx context.Context, q queryer, query string, sessionIDs []string, limit int) ([]KeywordHit, error) {
	sanitized := sanitizeFTS5Query(query)
	if sanitized == "" || len(sessionIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sessionIDs)), ",")
	args := make([]interface{}, 0, len(sessionIDs)+2)
	args = append(args, sanitized)
	for _, id := range sessionIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, `
		SELECT f.id, -bm25(chunks_fts) AS score
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.id
		WHERE chunks_fts MATCH ? AND c.session_id IN (`+placeholders+`)
		ORDER BY score DESC, f.id ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, errs.StorageError(err, "scoped keyword search for %q", query)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, errs.StorageError(err, "scanning keyword hit")
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
