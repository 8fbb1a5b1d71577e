// Package labreport turns HL7 v2 lab result messages into a nested
// patient → order → result → observation graph. Two field layouts are
// supported: the generic provincial lab profile and the EMR interface
// profile, told apart by a marker in MSH-12.
//
// Parsing is pure: each call builds its own graph and shares nothing but
// read-only lookup tables, so messages can be parsed concurrently.
package labreport

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ehr/hl7ingest/internal/platform/envelope"
	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
)

type options struct {
	dialect     Dialect
	inline      bool
	concurrency int
}

// Option configures a parse call.
type Option func(*options)

// WithDialect forces a dialect instead of detecting it from MSH-12.
func WithDialect(d Dialect) Option {
	return func(o *options) { o.dialect = d }
}

// WithInlineDocuments keeps the encapsulated payload of document reports
// instead of replacing it with DocumentPlaceholder.
func WithInlineDocuments(inline bool) Option {
	return func(o *options) { o.inline = inline }
}

// WithConcurrency bounds how many messages ParseAll works on at once.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

func buildOptions(opts []Option) options {
	o := options{concurrency: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	return o
}

// Parse converts one raw message. Malformed input (no MSH, unusable
// delimiters) fails the whole call; missing optional content never does.
func Parse(raw string, opts ...Option) (*Report, error) {
	msg, err := hl7v2.ParseString(raw)
	if err != nil {
		return nil, fmt.Errorf("labreport: %w", err)
	}
	return FromMessage(msg, opts...), nil
}

// ParseBytes decodes raw bytes using the MSH-18 character set and parses
// the result.
func ParseBytes(raw []byte, opts ...Option) (*Report, error) {
	text, err := hl7v2.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("labreport: %w", err)
	}
	return Parse(text, opts...)
}

// FromMessage assembles an already tokenized message.
func FromMessage(msg *hl7v2.Message, opts ...Option) *Report {
	o := buildOptions(opts)

	d := o.dialect
	if d == DialectAuto {
		d = DetectDialect(msg)
	}
	class := classify(msg)

	report := assemble(msg, profileFor(d), class, o.inline)
	if d == DialectEMR {
		ontario, document := true, class.isDocument()
		report.IsOntarioFormat = &ontario
		report.IsDocumentReport = &document
		report.ReportType = class.reportType
		report.DocumentType = class.documentType
	}
	Prune(report)
	return report
}

// ParseAll parses messages concurrently and returns the reports in input
// order. The first failure cancels the remaining work and is returned.
func ParseAll(ctx context.Context, raws []string, opts ...Option) ([]*Report, error) {
	o := buildOptions(opts)
	reports := make([]*Report, len(raws))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, raw := range raws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := Parse(raw, opts...)
			if err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// Summary describes how a message was read, for routing and metrics.
type Summary struct {
	ControlID    string
	Dialect      Dialect
	ReportType   string
	DocumentType string
}

// Summarize classifies an already tokenized message without assembling it.
// A dialect forced through WithDialect wins over detection.
func Summarize(msg *hl7v2.Message, opts ...Option) Summary {
	o := buildOptions(opts)
	d := o.dialect
	if d == DialectAuto {
		d = DetectDialect(msg)
	}
	class := classify(msg)
	return Summary{
		ControlID:    msg.ControlID,
		Dialect:      d,
		ReportType:   class.reportType,
		DocumentType: class.documentType,
	}
}

// Outcome is the per-message result of ParseEach. Exactly one of Report and
// Err is set.
type Outcome struct {
	Report  *Report
	Summary Summary
	Err     error
}

// ParseEach parses messages concurrently like ParseAll, but a failing
// message only fails its own Outcome. Outcomes are in input order. Messages
// not started before ctx is cancelled carry ctx's error.
func ParseEach(ctx context.Context, raws []string, opts ...Option) []Outcome {
	o := buildOptions(opts)
	out := make([]Outcome, len(raws))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, raw := range raws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			msg, err := hl7v2.ParseString(raw)
			if err != nil {
				out[i].Err = fmt.Errorf("labreport: %w", err)
				return nil
			}
			out[i].Summary = Summarize(msg, opts...)
			out[i].Report = FromMessage(msg, opts...)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// EnvelopeResult is the parse result for one message of an envelope.
// Exactly one of Report and Error is set.
type EnvelopeResult struct {
	ID     string  `json:"id"`
	Report *Report `json:"report,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// ParseEnvelope extracts the messages in doc and parses each of them. Only a
// malformed envelope fails the call; results are in document order.
func ParseEnvelope(ctx context.Context, x *envelope.Extractor, doc []byte, opts ...Option) ([]EnvelopeResult, error) {
	msgs, err := x.Extract(doc)
	if err != nil {
		return nil, err
	}
	raws := make([]string, len(msgs))
	for i, m := range msgs {
		raws[i] = m.Content
	}

	results := make([]EnvelopeResult, len(msgs))
	for i, o := range ParseEach(ctx, raws, opts...) {
		results[i].ID = msgs[i].ID
		if o.Err != nil {
			results[i].Error = o.Err.Error()
			continue
		}
		results[i].Report = o.Report
	}
	return results, nil
}
