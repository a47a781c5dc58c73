package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/pkg/fn"
	"github.com/WessleyAI/wessley-voice/pkg/natsutil"
)

const (
	// SubjectRequests is the NATS subject for queued uploads.
	SubjectRequests = "voicerag.ingest.requests"
	// SubjectDLQ receives queued uploads that failed permanently.
	SubjectDLQ = "voicerag.ingest.dlq"
	// QueueGroup load-balances queued uploads across workers.
	QueueGroup = "voicerag-ingest"
)

// ConsumerRetry is the retry policy for queued uploads: transient provider
// failures only.
var ConsumerRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 2 * time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
	Retryable:   domain.Retryable,
}

// dlqMessage is published to the DLQ on permanent failure.
type dlqMessage struct {
	Filename      string `json:"filename"`
	OwnerIdentity string `json:"owner_identity"`
	Error         string `json:"error"`
}

// Ingester is the part of Service the consumer drives.
type Ingester interface {
	Ingest(ctx context.Context, u domain.Upload) (Report, error)
}

// StartConsumer serves queued uploads from SubjectRequests. Each request is
// retried per retry; permanent failures go to SubjectDLQ. Requests sent with
// a reply subject get a Reply.
func StartConsumer(nc *nats.Conn, svc Ingester, retry fn.RetryOpts, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return natsutil.Serve(nc, SubjectRequests, QueueGroup, func(ctx context.Context, req Request) Reply {
		u := domain.Upload{
			Filename:      req.Filename,
			OwnerIdentity: req.OwnerIdentity,
			Content:       req.Content,
			ChunkSize:     req.ChunkSize,
			Overlap:       req.Overlap,
		}
		opts := retry
		if opts.OnRetry == nil {
			opts.OnRetry = func(attempt int, err error, wait time.Duration) {
				log.Warn("ingest: retrying queued upload", "filename", req.Filename, "attempt", attempt, "wait", wait, "err", err)
			}
		}
		rep, err := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[Report] {
			return fn.FromPair(svc.Ingest(ctx, u))
		}).Unwrap()
		if err != nil {
			log.Error("ingest: queued upload failed", "filename", req.Filename, "err", err)
			dlq := dlqMessage{Filename: req.Filename, OwnerIdentity: req.OwnerIdentity, Error: err.Error()}
			if perr := natsutil.Publish(ctx, nc, SubjectDLQ, dlq); perr != nil {
				log.Error("ingest: DLQ publish failed", "err", perr)
			}
			return Reply{Error: err.Error(), Status: domain.HTTPStatus(err)}
		}
		return Reply{Report: &rep, Status: 200}
	})
}

// Submit queues an upload and waits for its Reply.
func Submit(ctx context.Context, nc *nats.Conn, req Request) (Reply, error) {
	return natsutil.Request[Request, Reply](ctx, nc, SubjectRequests, req)
}
