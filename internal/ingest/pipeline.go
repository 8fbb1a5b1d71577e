// Package ingest moves lab messages from their sources into the report
// store: envelopes are unpacked, each message is parsed, deduplicated
// against the ledger, uploaded as JSON and announced to the callback URL.
// A failing message is logged and counted without stopping its batch.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/hl7ingest/internal/labreport"
	"github.com/ehr/hl7ingest/internal/platform/blobstore"
	"github.com/ehr/hl7ingest/internal/platform/db"
	"github.com/ehr/hl7ingest/internal/platform/envelope"
	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
	"github.com/ehr/hl7ingest/internal/platform/logsink"
	"github.com/ehr/hl7ingest/internal/platform/notify"
	"github.com/ehr/hl7ingest/internal/platform/telemetry"
)

// KeyPrefix is the leading path segment of every stored report.
const KeyPrefix = "hl7"

// DefaultPresignTTL is used when Config.PresignTTL is unset.
const DefaultPresignTTL = 15 * time.Minute

// Config wires a Pipeline. Store and Ledger are required; Notifier and
// Metrics may be nil.
type Config struct {
	Extractor    *envelope.Extractor
	Store        blobstore.Store
	Ledger       db.Ledger
	Notifier     *notify.Notifier
	Metrics      *telemetry.Metrics
	Sink         *logsink.Sink
	ParseOptions []labreport.Option
	PresignTTL   time.Duration
	Concurrency  int
	Now          func() time.Time
}

// Pipeline runs messages through parse, dedupe, upload and notify.
type Pipeline struct {
	extractor   *envelope.Extractor
	store       blobstore.Store
	ledger      db.Ledger
	notifier    *notify.Notifier
	metrics     *telemetry.Metrics
	sink        *logsink.Sink
	opts        []labreport.Option
	presignTTL  time.Duration
	concurrency int
	now         func() time.Time
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ingest: ledger is required")
	}
	p := &Pipeline{
		extractor:   cfg.Extractor,
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		sink:        cfg.Sink,
		presignTTL:  cfg.PresignTTL,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
	}
	if p.extractor == nil {
		p.extractor = envelope.New(envelope.DefaultElement, envelope.DefaultIDAttr)
	}
	if p.sink == nil {
		p.sink = logsink.Nop()
	}
	if p.presignTTL <= 0 {
		p.presignTTL = DefaultPresignTTL
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	p.opts = append(append([]labreport.Option(nil), cfg.ParseOptions...), labreport.WithConcurrency(p.concurrency))
	return p, nil
}

// Result is the fate of one message.
type Result struct {
	MessageID  string `json:"messageId"`
	Key        string `json:"key,omitempty"`
	URL        string `json:"url,omitempty"`
	Dialect    string `json:"dialect,omitempty"`
	ReportType string `json:"reportType,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	// Stage names where processing stopped; empty on success.
	Stage string `json:"stage,omitempty"`
	Err   error  `json:"-"`
}

// Stored reports whether the report reached the store in this pass.
func (r Result) Stored() bool {
	return r.Key != "" && (r.Err == nil || r.Stage == telemetry.StageNotify)
}

// RunSummary totals one Run.
type RunSummary struct {
	Batches    int
	Rejected   int
	Messages   int
	Stored     int
	Duplicates int
	Failed     int
}

func (s *RunSummary) add(results []Result) {
	s.Messages += len(results)
	for _, r := range results {
		switch {
		case r.Duplicate:
			s.Duplicates++
		case r.Err != nil:
			s.Failed++
		}
		if r.Stored() {
			s.Stored++
		}
	}
}

// ObjectKey returns hl7/<yyyy>/<mm>/<dd>/<messageID>.json for the UTC date
// of t. Path separators in the id are replaced.
func ObjectKey(t time.Time, messageID string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', '?', '#':
			return '_'
		}
		return r
	}, messageID)
	return fmt.Sprintf("%s/%s/%s.json", KeyPrefix, t.UTC().Format("2006/01/02"), safe)
}

// Run fetches every pending batch from src and processes it. A batch whose
// envelope is malformed is rejected; any other batch is acknowledged once
// all of its messages have been attempted.
func (p *Pipeline) Run(ctx context.Context, src Source) (RunSummary, error) {
	var sum RunSummary
	batches, err := src.Fetch(ctx)
	if err != nil {
		return sum, fmt.Errorf("ingest: fetch from %s: %w", src.Name(), err)
	}

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Batches++

		results, err := p.ProcessEnvelope(ctx, b.Data)
		if err != nil {
			sum.Rejected++
			p.metrics.MessageFailed(telemetry.StageEnvelope)
			p.sink.Error("envelope rejected", logsink.Fields{"source": src.Name(), "batch": b.ID, "error": err})
			if rerr := src.Reject(ctx, b, err); rerr != nil {
				p.sink.Error("reject failed", logsink.Fields{"source": src.Name(), "batch": b.ID, "error": rerr})
			}
			continue
		}
		sum.add(results)

		if err := src.Ack(ctx, b); err != nil {
			p.metrics.MessageFailed(telemetry.StageAck)
			p.sink.Error("ack failed", logsink.Fields{"source": src.Name(), "batch": b.ID, "error": err})
			continue
		}
		p.sink.Info("batch processed", logsink.Fields{
			"source":   src.Name(),
			"batch":    b.ID,
			"messages": len(results),
		})
	}
	return sum, nil
}

// ProcessEnvelope extracts and processes every message in doc. Only a
// malformed envelope returns an error.
func (p *Pipeline) ProcessEnvelope(ctx context.Context, doc []byte) ([]Result, error) {
	msgs, err := p.extractor.Extract(doc)
	if err != nil {
		return nil, err
	}
	return p.ProcessMessages(ctx, msgs), nil
}

// ProcessMessages parses msgs concurrently and delivers each report. The
// message id is the envelope id, else MSH-10, else a generated UUID.
// Results are in input order.
func (p *Pipeline) ProcessMessages(ctx context.Context, msgs []envelope.Message) []Result {
	done := p.metrics.BatchStarted()
	defer done(len(msgs))

	raws := make([]string, len(msgs))
	for i, m := range msgs {
		raws[i] = m.Content
	}
	outcomes := labreport.ParseEach(ctx, raws, p.opts...)

	results := make([]Result, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for i, o := range outcomes {
		id := messageID(msgs[i].ID, o.Summary.ControlID)
		results[i].MessageID = id
		if o.Err != nil {
			results[i] = p.fail(results[i], telemetry.StageParse, o.Err)
			continue
		}
		results[i].Dialect = o.Summary.Dialect.String()
		results[i].ReportType = o.Summary.ReportType
		p.metrics.MessageParsed(results[i].Dialect, results[i].ReportType)
		if seen[id] {
			results[i] = p.duplicate(results[i])
			outcomes[i].Report = nil
			continue
		}
		seen[id] = true
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range outcomes {
		if outcomes[i].Report == nil {
			continue
		}
		g.Go(func() error {
			results[i] = p.deliver(ctx, results[i], outcomes[i].Report)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// HandleMLLP is an hl7v2.MessageHandler: it stores the report for a message
// received over MLLP. Storage failures answer AE; duplicates and failed
// callbacks still answer AA since the report is already stored.
func (p *Pipeline) HandleMLLP(ctx context.Context, msg *hl7v2.Message, _ string) error {
	done := p.metrics.BatchStarted()
	defer done(1)

	sum := labreport.Summarize(msg, p.opts...)
	res := Result{
		MessageID:  messageID("", sum.ControlID),
		Dialect:    sum.Dialect.String(),
		ReportType: sum.ReportType,
	}
	p.metrics.MessageParsed(res.Dialect, res.ReportType)

	res = p.deliver(ctx, res, labreport.FromMessage(msg, p.opts...))
	if res.Err != nil && res.Stage != telemetry.StageNotify {
		return res.Err
	}
	return nil
}

func messageID(envelopeID, controlID string) string {
	if id := strings.TrimSpace(envelopeID); id != "" {
		return id
	}
	if id := strings.TrimSpace(controlID); id != "" {
		return id
	}
	return uuid.NewString()
}

// deliver runs dedupe, upload, ledger and notify for one parsed report.
func (p *Pipeline) deliver(ctx context.Context, res Result, report *labreport.Report) Result {
	seen, err := p.ledger.Seen(ctx, res.MessageID)
	if err != nil {
		return p.fail(res, telemetry.StageLedger, err)
	}
	if seen {
		return p.duplicate(res)
	}

	data, err := json.Marshal(report)
	if err != nil {
		return p.fail(res, telemetry.StageUpload, err)
	}
	key := ObjectKey(p.now(), res.MessageID)
	if _, err := p.store.Put(ctx, key, data, blobstore.ContentTypeJSON); err != nil {
		p.metrics.Upload(false)
		return p.fail(res, telemetry.StageUpload, err)
	}
	p.metrics.Upload(true)
	res.Key = key

	if res.URL, err = p.store.Presign(ctx, key, p.presignTTL); err != nil {
		return p.fail(res, telemetry.StageUpload, err)
	}

	if err := p.ledger.Record(ctx, db.Entry{
		MessageID:   res.MessageID,
		ObjectKey:   key,
		Dialect:     res.Dialect,
		ReportType:  res.ReportType,
		ProcessedAt: p.now(),
	}); err != nil {
		return p.fail(res, telemetry.StageLedger, err)
	}

	p.sink.Info("report stored", logsink.Fields{
		"message_id":  res.MessageID,
		"bucket":      p.store.Bucket(),
		"key":         key,
		"dialect":     res.Dialect,
		"report_type": res.ReportType,
	})

	if p.notifier == nil {
		return res
	}
	delivery, err := p.notifier.Notify(ctx, notify.Notification{
		Bucket:    p.store.Bucket(),
		FileKey:   key,
		MessageID: res.MessageID,
	})
	p.metrics.Notification(err == nil)
	if err != nil {
		return p.fail(res, telemetry.StageNotify, err)
	}
	p.sink.Debug("callback delivered", logsink.Fields{
		"message_id": res.MessageID,
		"delivery":   delivery.ID,
		"attempts":   delivery.Attempts,
		"duration":   delivery.Duration,
	})
	return res
}

func (p *Pipeline) fail(res Result, stage string, err error) Result {
	res.Stage = stage
	res.Err = err
	p.metrics.MessageFailed(stage)
	p.sink.Error("message failed", logsink.Fields{
		"message_id": res.MessageID,
		"stage":      stage,
		"error":      err,
	})
	return res
}

func (p *Pipeline) duplicate(res Result) Result {
	res.Duplicate = true
	p.metrics.MessageDuplicate()
	p.sink.Info("duplicate message skipped", logsink.Fields{"message_id": res.MessageID})
	return res
}
