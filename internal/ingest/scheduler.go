package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/ehr/hl7ingest/internal/platform/logsink"
)

// Scheduler runs one pipeline pass over a source per cron tick. A tick that
// fires while the previous pass is still running is skipped.
type Scheduler struct {
	cron     *cron.Cron
	pipeline *Pipeline
	source   Source
	sink     *logsink.Sink

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler parses schedule (standard five-field cron or a descriptor such
// as "@every 5m") and returns a stopped Scheduler.
func NewScheduler(schedule string, p *Pipeline, src Source, sink *logsink.Sink) (*Scheduler, error) {
	if sink == nil {
		sink = logsink.Nop()
	}
	logger := cronLogger{sink: sink}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		pipeline: p,
		source:   src,
		sink:     sink,
		ctx:      context.Background(),
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("ingest: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduling. Passes run under ctx until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.sink.Info("scheduler started", logsink.Fields{"source": s.source.Name()})
}

// Stop halts scheduling, cancels a running pass and waits for it to return.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-stopped.Done()
	s.sink.Info("scheduler stopped", logsink.Fields{"source": s.source.Name()})
}

// RunNow performs one pass synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (RunSummary, error) {
	return s.pipeline.Run(ctx, s.source)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	sum, err := s.pipeline.Run(ctx, s.source)
	if err != nil {
		s.sink.Error("poll failed", logsink.Fields{"source": s.source.Name(), "error": err})
		return
	}
	if sum.Batches == 0 {
		s.sink.Debug("poll found nothing", logsink.Fields{"source": s.source.Name()})
		return
	}
	s.sink.Info("poll complete", logsink.Fields{
		"source":     s.source.Name(),
		"batches":    sum.Batches,
		"rejected":   sum.Rejected,
		"messages":   sum.Messages,
		"stored":     sum.Stored,
		"duplicates": sum.Duplicates,
		"failed":     sum.Failed,
	})
}

// cronLogger adapts the log sink to cron.Logger.
type cronLogger struct {
	sink *logsink.Sink
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sink.Debug("cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	f := kvFields(keysAndValues)
	f["error"] = err
	l.sink.Error("cron: "+msg, f)
}

func kvFields(kv []interface{}) logsink.Fields {
	f := logsink.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}
