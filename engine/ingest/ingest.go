// Package ingest runs uploaded documents through extraction, chunking,
// embedding, and indexing. Failures are returned to the uploader.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/wessley-voice/engine/chunk"
	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/pkg/fn"
	"github.com/WessleyAI/wessley-voice/pkg/metrics"
	"github.com/WessleyAI/wessley-voice/pkg/natsutil"
)

// SubjectIngested carries DocumentIngested events.
const SubjectIngested = "voicerag.documents.ingested"

// Extractor turns PDF bytes into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Embedder embeds chunk texts in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index stores points and removes a document's points.
type Index interface {
	Upsert(ctx context.Context, points []domain.IndexPoint) error
	DeleteByDocID(ctx context.Context, docID string) error
}

// Catalog records documents. Optional.
type Catalog interface {
	Record(ctx context.Context, d domain.Document) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Extractor Extractor
	Embedder  Embedder
	Index     Index
	Catalog   Catalog
	NATS      *nats.Conn
	Metrics   *metrics.Registry
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service ingests uploads.
type Service struct {
	pipeline fn.Stage[domain.Upload, Report]
	log      *slog.Logger

	mDocs   *metrics.Counter
	mChunks *metrics.Counter
	mErrors func(kind string) *metrics.Counter
	mDur    *metrics.Histogram
}

// New wires the pipeline.
func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	log := deps.Logger.With("component", "ingest")
	return &Service{
		pipeline: NewPipeline(deps),
		log:      log,
		mDocs:    reg.Counter("voicerag_ingest_documents_total", "Documents ingested"),
		mChunks:  reg.Counter("voicerag_ingest_chunks_total", "Chunks indexed"),
		mErrors: func(kind string) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("voicerag_ingest_errors_total", "kind", kind), "Ingest failures by kind")
		},
		mDur: reg.Histogram("voicerag_ingest_duration_seconds", "Upload processing time", nil),
	}
}

// Ingest processes one upload. Zero chunk size and overlap select the defaults.
func (s *Service) Ingest(ctx context.Context, u domain.Upload) (Report, error) {
	if u.ChunkSize == 0 && u.Overlap == 0 {
		u.ChunkSize, u.Overlap = chunk.DefaultSize, chunk.DefaultOverlap
	}
	start := time.Now()
	rep, err := s.pipeline(ctx, u).Unwrap()
	s.mDur.Since(start)
	if err != nil {
		s.mErrors(errorKind(err)).Inc()
		s.log.Error("ingest failed", "filename", u.Filename, "owner", u.OwnerIdentity, "err", err)
		return Report{}, err
	}
	s.mDocs.Inc()
	s.mChunks.Add(int64(rep.ChunksStored))
	s.log.Info("ingest complete", "doc_id", rep.DocumentID, "chunks", rep.ChunksStored)
	return rep, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrExtraction):
		return "extraction"
	case errors.Is(err, domain.ErrConfigConflict):
		return "config_conflict"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrProvider):
		return "provider"
	default:
		return "internal"
	}
}

// --- Pipeline Stages ---

// Validate rejects bad uploads before any work is done.
var Validate fn.Stage[domain.Upload, domain.Upload] = func(_ context.Context, u domain.Upload) fn.Result[domain.Upload] {
	if err := domain.ValidateUpload(u); err != nil {
		return fn.Err[domain.Upload](err)
	}
	return fn.Ok(u)
}

// NewExtract creates the stage that pulls and normalises the document text
// and mints the document identity.
func NewExtract(x Extractor, now func() time.Time) fn.Stage[domain.Upload, extracted] {
	return func(ctx context.Context, u domain.Upload) fn.Result[extracted] {
		raw, err := x.Extract(ctx, u.Content)
		if err != nil {
			return fn.Err[extracted](fmt.Errorf("extract %s: %w", u.Filename, err))
		}
		text := chunk.Normalize(raw)
		if err := domain.ValidateExtractedText(u.Filename, text); err != nil {
			return fn.Err[extracted](err)
		}
		doc := domain.Document{
			ID:            uuid.NewString(),
			Filename:      u.Filename,
			OwnerIdentity: u.OwnerIdentity,
			CreatedAt:     now().UTC(),
		}
		return fn.Ok(extracted{Upload: u, Document: doc, Text: text})
	}
}

// ChunkDoc splits the normalised text.
var ChunkDoc fn.Stage[extracted, chunked] = func(_ context.Context, e extracted) fn.Result[chunked] {
	chunks := chunk.ForDocument(e.Document.ID, e.Text, e.Upload.ChunkSize, e.Upload.Overlap)
	if len(chunks) == 0 {
		return fn.Err[chunked](domain.NewValidationError("file", e.Upload.Filename, fmt.Errorf("document produced no chunks")))
	}
	return fn.Ok(chunked{extracted: e, Chunks: chunks})
}

// NewEmbed creates the stage that embeds every chunk text.
func NewEmbed(e Embedder) fn.Stage[chunked, embedded] {
	return func(ctx context.Context, doc chunked) fn.Result[embedded] {
		texts := fn.Map(doc.Chunks, func(c domain.Chunk) string { return c.Text })
		vecs, err := e.EmbedBatch(ctx, texts)
		if err != nil {
			return fn.Err[embedded](fmt.Errorf("embed %d chunks: %w", len(texts), err))
		}
		if len(vecs) != len(texts) {
			return fn.Err[embedded](fmt.Errorf("embed: got %d vectors for %d chunks: %w", len(vecs), len(texts), domain.ErrProvider))
		}
		return fn.Ok(embedded{chunked: doc, Vectors: vecs})
	}
}

// Points builds one index point per chunk. The stored text is exactly the
// text that was embedded. Point ids are fresh per point.
func Points(doc embedded) []domain.IndexPoint {
	points := make([]domain.IndexPoint, len(doc.Chunks))
	for i, c := range doc.Chunks {
		points[i] = domain.IndexPoint{
			ID:     uuid.NewString(),
			Vector: doc.Vectors[i],
			Payload: domain.Payload{
				Text:          c.Text,
				OwnerIdentity: doc.Document.OwnerIdentity,
				Filename:      doc.Document.Filename,
				DocumentID:    doc.Document.ID,
				ChunkIndex:    c.Index,
				ChunkLength:   c.Length,
				CreatedAt:     doc.Document.CreatedAt,
			},
		}
	}
	return points
}

// NewStore creates the stage that writes the points. If any point fails
// the document's stored points are removed so a retry starts clean.
func NewStore(idx Index, log *slog.Logger) fn.Stage[embedded, Report] {
	return func(ctx context.Context, doc embedded) fn.Result[Report] {
		if err := idx.Upsert(ctx, Points(doc)); err != nil {
			if derr := idx.DeleteByDocID(ctx, doc.Document.ID); derr != nil {
				log.Warn("ingest: cleanup after failed upsert", "doc_id", doc.Document.ID, "err", derr)
			}
			return fn.Err[Report](fmt.Errorf("index %s: %w", doc.Document.ID, err))
		}
		return fn.Ok(Report{
			Status:              "success",
			DocumentID:          doc.Document.ID,
			Filename:            doc.Document.Filename,
			OwnerIdentity:       doc.Document.OwnerIdentity,
			FileSizeBytes:       len(doc.Upload.Content),
			ExtractedTextLength: utf8.RuneCountInString(doc.Text),
			TotalChunks:         len(doc.Chunks),
			ChunksStored:        len(doc.Chunks),
			ChunkSize:           doc.Upload.ChunkSize,
			Overlap:             doc.Upload.Overlap,
			CreatedAt:           doc.Document.CreatedAt,
		})
	}
}

// NewRecord creates the stage that records the document in the catalog.
// Catalog failures are logged; the document is already searchable.
func NewRecord(c Catalog, log *slog.Logger) fn.Stage[Report, Report] {
	return fn.TapStage(func(ctx context.Context, r Report) {
		if c == nil {
			return
		}
		doc := domain.Document{ID: r.DocumentID, Filename: r.Filename, OwnerIdentity: r.OwnerIdentity, CreatedAt: r.CreatedAt}
		if err := c.Record(ctx, doc); err != nil {
			log.Warn("ingest: catalog record failed", "doc_id", r.DocumentID, "err", err)
		}
	})
}

// NewAnnounce creates the stage that publishes DocumentIngested.
func NewAnnounce(nc *nats.Conn, log *slog.Logger) fn.Stage[Report, Report] {
	return fn.TapStage(func(ctx context.Context, r Report) {
		if nc == nil {
			return
		}
		ev := DocumentIngested{DocumentID: r.DocumentID, Filename: r.Filename, OwnerIdentity: r.OwnerIdentity, Chunks: r.ChunksStored, CreatedAt: r.CreatedAt}
		if err := natsutil.Publish(ctx, nc, SubjectIngested, ev); err != nil {
			log.Warn("ingest: announce failed", "doc_id", r.DocumentID, "err", err)
		}
	})
}

// LoggedTap returns a stage that logs entry with the stage name.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.TapStage(func(_ context.Context, _ T) {
		log.Debug("stage.enter", "stage", name)
	})
}

// NewPipeline constructs the full ingestion pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[domain.Upload, Report] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	// Validate → Extract → Chunk → Embed → Store → Record → Announce
	validated := fn.TracedStage("ingest.validate", fn.Then(LoggedTap[domain.Upload]("validate", log), Validate))
	extractedS := fn.Then(validated, fn.TracedStage("ingest.extract", fn.Then(LoggedTap[domain.Upload]("extract", log), NewExtract(deps.Extractor, now))))
	chunkedS := fn.Then(extractedS, fn.TracedStage("ingest.chunk", fn.Then(LoggedTap[extracted]("chunk", log), ChunkDoc)))
	embeddedS := fn.Then(chunkedS, fn.TracedStage("ingest.embed", fn.Then(LoggedTap[chunked]("embed", log), NewEmbed(deps.Embedder))))
	stored := fn.Then(embeddedS, fn.TracedStage("ingest.store", fn.Then(LoggedTap[embedded]("store", log), NewStore(deps.Index, log))))
	recorded := fn.Then(stored, fn.TracedStage("ingest.record", NewRecord(deps.Catalog, log)))
	return fn.Then(recorded, fn.TracedStage("ingest.announce", NewAnnounce(deps.NATS, log)))
}
