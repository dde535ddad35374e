package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"ecm/internal/chunking"
	"ecm/internal/config"
	"ecm/internal/edge"
	"ecm/internal/embed"
	"ecm/internal/errs"
	"ecm/internal/logging"
	"ecm/internal/session"
	"ecm/internal/store"
	"ecm/pkg/types"
)

// crossSessionMaxGap is the "short gap" spec §4.E step 5 requires between
// a continued session's first chunk and its predecessor's last chunk
// before a cross_session edge is proposed.
const crossSessionMaxGap = 30 * time.Minute

// FileResult summarizes one transcript file's ingestion.
type FileResult struct {
	Path         string
	ProjectSlug  string
	SessionID    string
	ChunksAdded  int
	EdgesAdded   int
	Skipped      bool // checkpoint already covers this file
	SkippedTurns int  // malformed transcript lines dropped on read
}

// FileFailure records one isolated per-file ingestion failure, for
// batch-ingest's continue-past-failures policy.
type FileFailure struct {
	Path string
	Err  error
}

// BatchResult summarizes a directory ingestion.
type BatchResult struct {
	Files    []FileResult
	Failures []FileFailure
}

// Pipeline orchestrates discover & skip, chunking, embedding, transition
// detection, edge creation, and transactional persistence with
// checkpointing — component E end to end.
type Pipeline struct {
	store    *store.Store
	vectors  *store.VectorStore
	embedder embed.Embedder
	chunker  *chunking.Chunker
	locker   *session.Locker
	retryCfg embed.RetryConfig
	log      logging.Logger
}

// NewPipeline builds a Pipeline. locker may be nil, in which case a
// fresh one is created; callers that run multiple Pipelines against the
// same store should share one Locker so per-session serialization holds
// across them.
func NewPipeline(s *store.Store, vs *store.VectorStore, embedder embed.Embedder, cfg *config.Config, locker *session.Locker, log logging.Logger) *Pipeline {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	if locker == nil {
		locker = session.NewLocker()
	}
	return &Pipeline{
		store:    s,
		vectors:  vs,
		embedder: embedder,
		chunker:  chunking.NewChunker(cfg.Chunking),
		locker:   locker,
		retryCfg: embed.DefaultRetryConfig(cfg.Embedding.MaxRetries),
		log:      log.WithComponent("ingest"),
	}
}

// IngestDirectory discovers and ingests every transcript under dir,
// isolating per-file failures rather than aborting the batch.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string) (*BatchResult, error) {
	paths, err := DiscoverTranscripts(dir)
	if err != nil {
		return nil, errs.InputError("ingest: discovering transcripts under %s: %v", dir, err)
	}

	result := &BatchResult{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, errs.CancelledError(err)
		}
		fr, err := p.IngestFile(ctx, path)
		if err != nil {
			p.log.Warn("ingest: file failed, continuing batch", "path", path, "error", err.Error())
			result.Failures = append(result.Failures, FileFailure{Path: path, Err: err})
			continue
		}
		result.Files = append(result.Files, *fr)
	}
	return result, nil
}

// IngestFile ingests a single transcript file. It is idempotent:
// re-ingesting a file whose checkpoint already covers every turn it
// contains is a no-op. A single session's file is always processed
// strictly sequentially; p.locker serializes concurrent calls for the
// same session id while letting different sessions interleave freely.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*FileResult, error) {
	projectSlug, sessionID := sessionIdentity(path)
	result := &FileResult{Path: path, ProjectSlug: projectSlug, SessionID: sessionID}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errs.InputError("ingest: stat %s: %v", path, err)
	}
	mtime := info.ModTime().UTC()

	release := p.locker.Acquire(sessionID)
	defer release()

	turns, skipped, checkpoint, hadCheckpoint, err := p.loadTurnsAndCheckpoint(ctx, path, sessionID, projectSlug)
	if err != nil {
		return nil, err
	}
	result.SkippedTurns = skipped
	if len(turns) == 0 {
		return result, nil
	}

	lastTurnInFile := turns[0].TurnIndex
	for _, t := range turns {
		if t.TurnIndex > lastTurnInFile {
			lastTurnInFile = t.TurnIndex
		}
	}

	if hadCheckpoint && checkpoint.FileMTime.Equal(mtime) && checkpoint.LastTurnIndex >= lastTurnInFile {
		result.Skipped = true
		return result, nil
	}

	newTurns := make([]chunking.Turn, 0, len(turns))
	for _, t := range turns {
		if t.TurnIndex > checkpoint.LastTurnIndex {
			newTurns = append(newTurns, t)
		}
	}
	if len(newTurns) == 0 {
		result.Skipped = true
		return result, nil
	}

	chunks, err := p.chunker.GroupTurns(projectSlug, sessionID, newTurns, checkpoint.VectorClock)
	if err != nil {
		return nil, fmt.Errorf("ingest: grouping turns for %s: %w", path, err)
	}
	if len(chunks) == 0 {
		return result, nil
	}

	vectors, err := p.embedChunks(ctx, chunks, sessionID)
	if err != nil {
		return nil, err
	}

	forwardEdges, backwardEdges, err := p.buildEdges(ctx, chunks, checkpoint, hadCheckpoint, projectSlug, sessionID)
	if err != nil {
		return nil, err
	}

	if err := p.persist(ctx, chunks, vectors, forwardEdges, backwardEdges, sessionID, projectSlug, lastTurnInFile, mtime); err != nil {
		return nil, err
	}

	result.ChunksAdded = len(chunks)
	result.EdgesAdded = 2 * len(forwardEdges)
	return result, nil
}

func (p *Pipeline) loadTurnsAndCheckpoint(ctx context.Context, path, sessionID, projectSlug string) ([]chunking.Turn, int, *types.IngestionCheckpoint, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, nil, false, errs.InputError("ingest: open %s: %v", path, err)
	}
	defer f.Close()

	turns, skipped, err := chunking.ReadTranscript(f)
	if err != nil {
		return nil, 0, nil, false, errs.InputError("ingest: reading %s: %v", path, err)
	}

	checkpoint, err := p.store.GetCheckpoint(ctx, sessionID)
	if err == nil {
		return turns, skipped, checkpoint, true, nil
	}
	if !errs.Is(err, errs.CodeNotFound) {
		return nil, 0, nil, false, err
	}
	return turns, skipped, &types.IngestionCheckpoint{
		SessionID:     sessionID,
		ProjectSlug:   projectSlug,
		LastTurnIndex: -1,
		UpdatedAt:     time.Now().UTC(),
	}, false, nil
}

func (p *Pipeline) embedChunks(ctx context.Context, chunks []*types.Chunk, sessionID string) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = types.NormalizeText(c.Text)
	}

	var vectors [][]float32
	err := embed.Retry(ctx, p.retryCfg, func(ctx context.Context) error {
		v, embedErr := p.embedder.EmbedBatch(ctx, texts)
		if embedErr != nil {
			return embedErr
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, errs.EmbedError(err, false, "ingest: embedding %d chunks for session %s", len(chunks), sessionID)
	}
	if len(vectors) != len(chunks) {
		return nil, errs.EmbedError(nil, false, "ingest: embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	return vectors, nil
}

// buildEdges detects transitions between every adjacent chunk pair in
// this batch (including the boundary from the session's previously
// persisted tail chunk, if any), considers a cross_session link from a
// session's very first ingested chunk to its project's predecessor
// session, and links every chunk that mentions a file path to prior
// chunks that mention the same path with a code_reference edge.
func (p *Pipeline) buildEdges(ctx context.Context, chunks []*types.Chunk, checkpoint *types.IngestionCheckpoint, hadCheckpoint bool, projectSlug, sessionID string) (forward, backward []*types.Edge, err error) {
	prev, err := p.previousChunk(ctx, checkpoint)
	if err != nil {
		return nil, nil, err
	}

	for _, cur := range chunks {
		if prev != nil {
			gap := turnTime(cur).Sub(turnTime(prev))
			tr := chunking.DetectTransition(prev, cur, gap)
			if fwd, back, edgeErr := types.NewEdgePair(prev.ID, cur.ID, tr.Type, types.TypeWeights[tr.Type], nil); edgeErr == nil {
				forward = append(forward, fwd)
				backward = append(backward, back)
			}
		}
		prev = cur
	}

	if !hadCheckpoint {
		pred, predErr := p.store.GetPredecessorSessionTail(ctx, projectSlug, sessionID, chunks[0].CreatedAt)
		if predErr != nil {
			if !errs.Is(predErr, errs.CodeNotFound) {
				return nil, nil, predErr
			}
		} else if gap := turnTime(chunks[0]).Sub(turnTime(pred)); gap >= 0 && gap <= crossSessionMaxGap {
			fwd, back := edge.DetectCrossSessionLinks(chunks[0], []edge.CrossSessionCandidate{{Chunk: pred}})
			forward = append(forward, fwd...)
			backward = append(backward, back...)
		}
	}

	codeFwd, codeBack, err := p.buildCodeReferenceEdges(ctx, chunks)
	if err != nil {
		return nil, nil, err
	}
	forward = append(forward, codeFwd...)
	backward = append(backward, codeBack...)

	return forward, backward, nil
}

// buildCodeReferenceEdges links each newly ingested chunk that mentions a
// file path to every already-stored chunk mentioning one of the same
// paths, plus its own batch-mates, so a code_reference edge forms between
// chunks touching the same file whether or not they were ingested
// together.
func (p *Pipeline) buildCodeReferenceEdges(ctx context.Context, chunks []*types.Chunk) (forward, backward []*types.Edge, err error) {
	seen := make(map[string]bool)
	for _, cur := range chunks {
		if len(cur.Metadata.FilePaths) == 0 {
			continue
		}

		stored, storedErr := p.store.GetChunksByFilePath(ctx, cur.Metadata.FilePaths, cur.ID)
		if storedErr != nil {
			return nil, nil, storedErr
		}
		candidates := make([]edge.CrossSessionCandidate, 0, len(stored)+len(chunks)-1)
		for _, s := range stored {
			candidates = append(candidates, edge.CrossSessionCandidate{Chunk: s})
		}
		for _, batchMate := range chunks {
			if batchMate.ID != cur.ID {
				candidates = append(candidates, edge.CrossSessionCandidate{Chunk: batchMate})
			}
		}

		fwd, back := edge.DetectCodeReferenceLinks(cur, candidates)
		for i, e := range fwd {
			pairKey := e.SourceChunkID + "|" + e.TargetChunkID
			reverseKey := e.TargetChunkID + "|" + e.SourceChunkID
			if seen[pairKey] || seen[reverseKey] {
				continue
			}
			seen[pairKey] = true
			forward = append(forward, fwd[i])
			backward = append(backward, back[i])
		}
	}
	return forward, backward, nil
}

// turnTime returns the real transcript time a chunk's last turn happened
// at, falling back to its ingestion CreatedAt when LastTurnAt was never
// set (chunks built outside the chunker, e.g. in tests).
func turnTime(c *types.Chunk) time.Time {
	if !c.LastTurnAt.IsZero() {
		return c.LastTurnAt
	}
	return c.CreatedAt
}

func (p *Pipeline) previousChunk(ctx context.Context, checkpoint *types.IngestionCheckpoint) (*types.Chunk, error) {
	if checkpoint.LastChunkID == "" {
		return nil, nil
	}
	c, err := p.store.GetChunk(ctx, checkpoint.LastChunkID)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// persist writes every new chunk, its embedding, the detected edges, and
// the advanced checkpoint as one unit: the relational writes commit
// together in a single WriteTx, and the vector inserts happen before
// that commit so a failure anywhere leaves the checkpoint un-advanced
// and the next run replays from the last durable state (spec §4.E step
// 6, at-most-once ingestion via content-addressed ids).
func (p *Pipeline) persist(ctx context.Context, chunks []*types.Chunk, vectors [][]float32, forward, backward []*types.Edge, sessionID, projectSlug string, lastTurnIndex int, mtime time.Time) error {
	w, err := p.store.BeginWrite(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			w.Rollback(ctx)
		}
	}()

	for i, c := range chunks {
		if err := store.InsertChunk(ctx, w, c); err != nil {
			return err
		}
		if err := p.vectors.Insert(c.ID, c.SessionID, vectors[i]); err != nil {
			return err
		}
	}
	for i := range forward {
		if err := store.InsertEdgePair(ctx, w, forward[i], backward[i]); err != nil {
			return err
		}
	}

	last := chunks[len(chunks)-1]
	checkpoint := &types.IngestionCheckpoint{
		SessionID:     sessionID,
		ProjectSlug:   projectSlug,
		LastTurnIndex: lastTurnIndex,
		LastChunkID:   last.ID,
		VectorClock:   last.VectorClock + 1,
		FileMTime:     mtime,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := store.UpsertCheckpoint(ctx, w, checkpoint); err != nil {
		return err
	}

	if err := w.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}
