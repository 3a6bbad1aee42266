// Package pipeline runs one request through classification, the selected
// handlers and synthesis.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/reqlog"
	"github.com/sells-group/query-router/internal/retrieve"
	"github.com/sells-group/query-router/internal/search"
)

// Classifier picks the route for a request.
type Classifier interface {
	Classify(ctx context.Context, text string, hasFiles bool) model.RoutingDecision
}

// Searcher answers from the web.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) search.Result
}

// Retriever answers from attached files.
type Retriever interface {
	Analyze(ctx context.Context, files []model.FileRef, query string, topK int) retrieve.Result
}

// Synthesizer writes the final answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, evidence []model.EvidenceRecord, upstreamDegraded bool) model.SynthesisResult
}

// Observer receives every transition as it happens.
type Observer func(requestID string, t model.Transition)

// Pipeline is safe for concurrent use; each Run keeps its own state.
type Pipeline struct {
	classifier Classifier
	searcher   Searcher
	retriever  Retriever
	synth      Synthesizer
	sink       reqlog.Sink
	observers  []Observer
	maxResults int
	topK       int
	now        func() time.Time
	newID      func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSink sets the request log sink.
func WithSink(s reqlog.Sink) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.sink = s
		}
	}
}

// WithObserver adds a transition observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// WithLimits sets the search result cap and retrieval top-k.
func WithLimits(maxResults, topK int) Option {
	return func(p *Pipeline) {
		if maxResults > 0 {
			p.maxResults = maxResults
		}
		if topK > 0 {
			p.topK = topK
		}
	}
}

// New creates a Pipeline. A nil searcher or retriever makes that handler
// contribute nothing and mark the request degraded.
func New(c Classifier, s Searcher, r Retriever, syn Synthesizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		classifier: c,
		searcher:   s,
		retriever:  r,
		synth:      syn,
		sink:       reqlog.Nop{},
		maxResults: search.DefaultMaxResults,
		topK:       retrieve.DefaultTopK,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Sink returns the request log sink.
func (p *Pipeline) Sink() reqlog.Sink { return p.sink }

// Close releases the request log sink.
func (p *Pipeline) Close() error {
	return p.sink.Close()
}

// handlerOutput is what the handler states contribute.
type handlerOutput struct {
	search   []model.EvidenceRecord
	retrieve []model.EvidenceRecord
	reports  []model.FileReport
	degraded bool
}

// merged concatenates search evidence before retrieval evidence.
func (h handlerOutput) merged() []model.EvidenceRecord {
	out := make([]model.EvidenceRecord, 0, len(h.search)+len(h.retrieve))
	out = append(out, h.search...)
	return append(out, h.retrieve...)
}

// Run answers q. The only error is model.ErrEmptyQuery; every other failure
// degrades the result and the run still reaches DONE.
func (p *Pipeline) Run(ctx context.Context, q model.Query) (*model.Response, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	start := p.now()
	resp := &model.Response{
		RequestID: p.newID(),
		Query:     q,
	}
	log := zap.L().With(zap.String("request_id", resp.RequestID))
	log.Info("pipeline: request started",
		zap.Int("files", len(q.Files)),
		zap.Int("query_len", len(q.Text)),
	)

	var (
		out     handlerOutput
		timings = make(map[string]int64)
		mark    = start
		state   = model.StateStart
	)

	for state != model.StateDone {
		switch state {
		case model.StateStart:
			resp.Decision = p.classify(ctx, q)
		case model.StateSearching:
			out = p.runHandlers(ctx, q, true, false)
		case model.StateRetrieving:
			out = p.runHandlers(ctx, q, false, true)
		case model.StateSearchingAndRetrieving:
			out = p.runHandlers(ctx, q, true, true)
		case model.StateSynthesizing:
			resp.Evidence = out.merged()
			resp.Result = p.synth.Synthesize(ctx, q.Text, resp.Evidence, out.degraded)
		}

		next, err := Next(state, resp.Decision.Route)
		if err != nil {
			// Unreachable with a sanitized decision; finish rather than loop.
			log.Error("pipeline: transition failed", zap.Error(err))
			next = model.StateDone
		}

		now := p.now()
		elapsed := now.Sub(mark)
		mark = now
		timings[strings.ToLower(string(state))] = elapsed.Milliseconds()

		t := model.Transition{
			From:          state,
			To:            next,
			SearchCount:   len(out.search),
			RetrieveCount: len(out.retrieve),
			Elapsed:       elapsed,
		}
		d := resp.Decision
		t.Decision = &d
		p.report(log, resp.RequestID, t)
		resp.Transitions = append(resp.Transitions, t)
		state = next
	}

	resp.FileReports = out.reports
	resp.Elapsed = p.now().Sub(start)
	timings["total"] = resp.Elapsed.Milliseconds()

	log.Info("pipeline: request complete",
		zap.String("route", string(resp.Decision.Route)),
		zap.Int("evidence", len(resp.Evidence)),
		zap.Int("citations", len(resp.Result.Citations)),
		zap.Float64("confidence", resp.Result.Confidence),
		zap.Bool("degraded", resp.Result.Degraded),
		zap.Duration("elapsed", resp.Elapsed),
	)
	p.writeLog(ctx, log, resp, timings)
	return resp, nil
}

// classify asks the classifier and repairs decisions the handlers cannot act
// on.
func (p *Pipeline) classify(ctx context.Context, q model.Query) model.RoutingDecision {
	hasText := strings.TrimSpace(q.Text) != ""
	d := p.classifier.Classify(ctx, q.Text, q.HasFiles())

	switch {
	case !d.Route.Valid():
		fixed := model.RouteSearch
		if q.HasFiles() {
			fixed = model.RouteRetrieve
		}
		zap.L().Warn("pipeline: invalid route from classifier",
			zap.String("route", string(d.Route)),
			zap.String("using", string(fixed)),
		)
		d.Route = fixed
	case !hasText && d.Route.Runs(model.OriginSearch):
		// Files without text: nothing to search for.
		d.Route = model.RouteRetrieve
	}
	return d
}

// runHandlers runs the selected handlers. When both run they are independent
// and concurrent; neither can fail the other.
func (p *Pipeline) runHandlers(ctx context.Context, q model.Query, doSearch, doRetrieve bool) handlerOutput {
	var (
		sres       search.Result
		rres       retrieve.Result
		sRan, rRan bool
	)
	g, gCtx := errgroup.WithContext(ctx)

	if doSearch {
		g.Go(func() error {
			sres, sRan = p.doSearch(gCtx, q.Text)
			return nil
		})
	}
	if doRetrieve {
		g.Go(func() error {
			rres, rRan = p.doRetrieve(gCtx, q)
			return nil
		})
	}
	_ = g.Wait()

	out := handlerOutput{
		search:   sres.Records,
		retrieve: rres.Records,
		reports:  rres.Reports,
	}
	if doSearch && (!sRan || sres.Degraded) {
		out.degraded = true
	}
	if doRetrieve && (!rRan || rres.Degraded) {
		out.degraded = true
	}
	return out
}

func (p *Pipeline) doSearch(ctx context.Context, text string) (search.Result, bool) {
	if p.searcher == nil {
		zap.L().Warn("pipeline: no search handler configured")
		return search.Result{Degraded: true}, false
	}
	res := p.searcher.Search(ctx, text, p.maxResults)
	for _, a := range res.Attempts {
		zap.L().Debug("pipeline: search attempt",
			zap.String("backend", a.Backend),
			zap.Int("hits", a.Hits),
			zap.String("error", a.Err),
			zap.Duration("elapsed", a.Elapsed),
		)
	}
	return res, true
}

func (p *Pipeline) doRetrieve(ctx context.Context, q model.Query) (retrieve.Result, bool) {
	if p.retriever == nil {
		zap.L().Warn("pipeline: no retrieval handler configured")
		return retrieve.Result{Degraded: true}, false
	}
	if !q.HasFiles() {
		return retrieve.Result{Stages: []retrieve.Stage{retrieve.StageEmpty}}, true
	}
	return p.retriever.Analyze(ctx, q.Files, q.Text, p.topK), true
}

func (p *Pipeline) report(log *zap.Logger, requestID string, t model.Transition) {
	log.Debug("pipeline: transition",
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.Int("search_count", t.SearchCount),
		zap.Int("retrieve_count", t.RetrieveCount),
		zap.Duration("elapsed", t.Elapsed),
	)
	for _, o := range p.observers {
		o(requestID, t)
	}
}

func (p *Pipeline) writeLog(ctx context.Context, log *zap.Logger, resp *model.Response, timings map[string]int64) {
	files := make([]string, len(resp.Query.Files))
	for i, f := range resp.Query.Files {
		files[i] = f.DisplayName()
	}
	nSearch, nRetrieve := model.CountByOrigin(resp.Evidence)

	entry := model.RequestLog{
		RequestID:     resp.RequestID,
		Query:         resp.Query.Text,
		Files:         files,
		Decision:      resp.Decision,
		SearchCount:   nSearch,
		RetrieveCount: nRetrieve,
		Timings:       timings,
		Result:        resp.Result,
		FileReports:   resp.FileReports,
		CreatedAt:     p.now().UTC(),
	}
	// The entry is written even when the caller has gone away.
	if err := p.sink.Write(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn("pipeline: request log write failed", zap.Error(err))
	}
}
