// Package ingest implements the incremental ingestion pipeline
// (component E): discover transcript files, group their turns into
// chunks, embed and link them, and persist everything transactionally
// alongside a resumable per-session checkpoint.
package ingest

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// sessionIdentity derives the (project slug, session id) pair a
// transcript file belongs to: the immediate parent directory names the
// project, the file's base name with its extension stripped names the
// session. `transcripts/alfarrabio/2026-07-12-refactor.jsonl` ingests
// into project "alfarrabio", session "2026-07-12-refactor".
func sessionIdentity(path string) (projectSlug, sessionID string) {
	dir := filepath.Dir(path)
	projectSlug = filepath.Base(dir)
	base := filepath.Base(path)
	sessionID = strings.TrimSuffix(base, filepath.Ext(base))
	return projectSlug, sessionID
}

// DiscoverTranscripts walks dir and returns every ".jsonl" transcript
// file found, sorted for deterministic batch-ingest ordering.
func DiscoverTranscripts(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".jsonl") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
