// Package archive implements the engine's archive format (component L):
// a tar container of a schema snapshot plus the chunk, edge, cluster and
// vector sections, optionally wrapped in authenticated encryption.
// Content-addressed ids make both export and import idempotent — import
// is a safe no-op to re-run, and --merge onto an already-populated store
// only adds what wasn't there.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"ecm/internal/store"
	"ecm/pkg/types"
)

const (
	schemaEntry   = "schema.json"
	chunksEntry   = "chunks.jsonl"
	edgesEntry    = "edges.jsonl"
	clustersEntry = "clusters.jsonl"
	vectorsEntry  = "vectors.bin"
)

// Manifest is the schema-snapshot header written as schema.json, the
// first entry in every archive.
type Manifest struct {
	SchemaChecksum string    `json:"schema_checksum"`
	CreatedAt      time.Time `json:"created_at"`
	ChunkCount     int       `json:"chunk_count"`
	EdgeCount      int       `json:"edge_count"`
	ClusterCount   int       `json:"cluster_count"`
	VectorCount    int       `json:"vector_count"`
}

// Summary reports what an Import actually did.
type Summary struct {
	Manifest       Manifest
	ChunksAdded    int
	EdgesAdded     int
	ClustersAdded  int
	VectorsAdded   int
	Merged         bool
	SchemaMismatch bool
}

// Export snapshots every chunk, edge, cluster and embedding into a tar
// stream written to w. If password is non-empty, the tar stream is
// wrapped behind the archive's magic header and an authenticated,
// scrypt-keyed encryption layer (spec §6); otherwise w receives the
// plain tar bytes.
func Export(ctx context.Context, s *store.Store, vs *store.VectorStore, w io.Writer, password string) error {
	var plain bytes.Buffer
	if err := writeTar(ctx, s, vs, &plain); err != nil {
		return fmt.Errorf("archive: building export: %w", err)
	}
	if password == "" {
		_, err := io.Copy(w, &plain)
		return err
	}
	return encryptStream(w, &plain, password)
}

func writeTar(ctx context.Context, s *store.Store, vs *store.VectorStore, buf *bytes.Buffer) error {
	tw := tar.NewWriter(buf)

	chunkIDs, err := s.AllChunkIDs(ctx)
	if err != nil {
		return err
	}
	chunks := make([]*types.Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := s.GetChunk(ctx, id)
		if err != nil {
			return fmt.Errorf("loading chunk %s: %w", id, err)
		}
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })

	edges, err := s.AllEdges(ctx)
	if err != nil {
		return err
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	clusters, err := s.AllClusters(ctx)
	if err != nil {
		return err
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })

	vectors := vs.AllSnapshots()
	sort.Slice(vectors, func(i, j int) bool { return vectors[i].ChunkID < vectors[j].ChunkID })

	manifest := Manifest{
		SchemaChecksum: store.SchemaChecksum(),
		CreatedAt:      time.Now().UTC(),
		ChunkCount:     len(chunks),
		EdgeCount:      len(edges),
		ClusterCount:   len(clusters),
		VectorCount:    len(vectors),
	}
	if err := writeJSON(tw, schemaEntry, manifest); err != nil {
		return err
	}
	if err := writeJSONLines(tw, chunksEntry, chunks); err != nil {
		return err
	}
	if err := writeJSONLines(tw, edgesEntry, edges); err != nil {
		return err
	}
	if err := writeJSONLines(tw, clustersEntry, clusters); err != nil {
		return err
	}
	if err := writeGob(tw, vectorsEntry, vectors); err != nil {
		return err
	}
	return tw.Close()
}

func writeJSON(tw *tar.Writer, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", name, err)
	}
	return writeEntry(tw, name, data)
}

// writeJSONLines marshals items one JSON object per line, newline
// delimited — the same shape chunking.ReadTranscript consumes transcript
// turns in, reused here for every archive section.
func writeJSONLines[T any](tw *tar.Writer, name string, items []T) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encoding %s: %w", name, err)
		}
	}
	return writeEntry(tw, name, buf.Bytes())
}

func writeGob(tw *tar.Writer, name string, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return writeEntry(tw, name, buf.Bytes())
}

func writeEntry(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name: name,
		Size: int64(len(data)),
		Mode: 0o644,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("writing %s header: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Import reverses Export: it reads an archive from r (detecting the
// encrypted form by its magic header and decrypting it with password)
// and replays its sections into s and vs. When
// merge is false, every existing chunk, edge, cluster, checkpoint and
// embedding is deleted first (spec: "archive import-over-delete");
// when true, the archive's content-addressed ids are inserted alongside
// whatever is already there, so re-running an import is always safe.
func Import(ctx context.Context, s *store.Store, vs *store.VectorStore, r io.Reader, password string, merge bool) (*Summary, error) {
	encrypted, prefixed, err := looksEncrypted(r)
	if err != nil {
		return nil, err
	}

	var plain []byte
	if encrypted {
		plain, err = decryptStream(prefixed, password)
		if err != nil {
			return nil, fmt.Errorf("archive: decrypting: %w", err)
		}
	} else {
		plain, err = io.ReadAll(prefixed)
		if err != nil {
			return nil, fmt.Errorf("archive: reading plaintext archive: %w", err)
		}
	}

	sections, err := readTar(plain)
	if err != nil {
		return nil, err
	}

	if !merge {
		if err := s.DeleteAllData(ctx); err != nil {
			return nil, fmt.Errorf("archive: clearing existing data: %w", err)
		}
		if err := vs.Clear(); err != nil {
			return nil, fmt.Errorf("archive: clearing existing vectors: %w", err)
		}
	}

	summary := &Summary{Manifest: sections.manifest, Merged: merge}
	summary.SchemaMismatch = sections.manifest.SchemaChecksum != store.SchemaChecksum()

	w, err := s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			w.Rollback(ctx)
		}
	}()

	// Clusters first: chunks.cluster_id carries a foreign key to them.
	for _, c := range sections.clusters {
		if err := store.InsertClusterRaw(ctx, w, c); err != nil {
			return nil, err
		}
		summary.ClustersAdded++
	}
	for _, c := range sections.chunks {
		if err := store.InsertChunk(ctx, w, c); err != nil {
			return nil, err
		}
		summary.ChunksAdded++
	}
	for _, e := range sections.edges {
		if err := store.InsertEdgeRaw(ctx, w, e); err != nil {
			return nil, err
		}
		summary.EdgesAdded++
	}

	if err := w.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	for _, v := range sections.vectors {
		if err := vs.InsertSnapshot(v); err != nil {
			return nil, fmt.Errorf("archive: restoring vector for chunk %s: %w", v.ChunkID, err)
		}
		summary.VectorsAdded++
	}

	return summary, nil
}

type sections struct {
	manifest Manifest
	chunks   []*types.Chunk
	edges    []*types.Edge
	clusters []*types.Cluster
	vectors  []store.Snapshot
}

func readTar(plain []byte) (*sections, error) {
	tr := tar.NewReader(bytes.NewReader(plain))
	out := &sections{}

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: reading tar header: %w", err)
		}

		data := make([]byte, header.Size)
		if _, err := io.ReadFull(tr, data); err != nil {
			return nil, fmt.Errorf("archive: reading %s: %w", header.Name, err)
		}

		switch header.Name {
		case schemaEntry:
			if err := json.Unmarshal(data, &out.manifest); err != nil {
				return nil, fmt.Errorf("archive: parsing %s: %w", schemaEntry, err)
			}
		case chunksEntry:
			out.chunks, err = decodeJSONLines[types.Chunk](data)
		case edgesEntry:
			out.edges, err = decodeJSONLines[types.Edge](data)
		case clustersEntry:
			out.clusters, err = decodeJSONLines[types.Cluster](data)
		case vectorsEntry:
			err = gob.NewDecoder(bytes.NewReader(data)).Decode(&out.vectors)
		}
		if err != nil {
			return nil, fmt.Errorf("archive: parsing %s: %w", header.Name, err)
		}
	}
	return out, nil
}

func decodeJSONLines[T any](data []byte) ([]*T, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var items []*T
	for dec.More() {
		var item T
		if err := dec.Decode(&item); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, nil
}
