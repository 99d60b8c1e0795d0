package caseview

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/helium"
	"golang.org/x/sync/errgroup"
)

// Backend is the Helium API as used by a case view.
type Backend interface {
	GetCase(ctx context.Context, id string) (helium.CaseMetadata, error)
	PutCase(ctx context.Context, caseGUID string, patch helium.CasePatch) (helium.CaseMetadata, error)
	DeleteCase(ctx context.Context, caseGUID string) error

	GetCaseCollectors(ctx context.Context, caseGUID string) ([]helium.Collector, error)
	PostCaseCollector(ctx context.Context, caseGUID string, c helium.Collector) (helium.Collector, error)
	ImportCaseCollector(ctx context.Context, caseGUID string, c helium.Collector) (helium.Collector, error)
	DeleteCollector(ctx context.Context, caseGUID, collectorGUID string) error
	DownloadCollector(ctx context.Context, caseGUID, collectorGUID string, w io.Writer) (string, error)

	GetCaseCollections(ctx context.Context, caseGUID string) ([]helium.Collection, error)
	PostCaseCollection(ctx context.Context, caseGUID, filename string, r io.Reader, size int64, progress helium.ProgressFunc) (helium.Collection, error)
	PutCaseCollection(ctx context.Context, caseGUID string, c helium.Collection) (helium.Collection, error)
	DeleteCollection(ctx context.Context, caseGUID, collectionGUID string) error
	DownloadCollection(ctx context.Context, caseGUID, collectionGUID string, w io.Writer) (string, error)
	RemoveCache(ctx context.Context, caseGUID, collectionGUID string) error

	GetCollectionAnalyses(ctx context.Context, caseGUID, collectionGUID string) ([]helium.CollectionAnalysis, error)
	PostCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID string, a helium.CollectionAnalysis) (helium.CollectionAnalysis, error)
	PutCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID, analyzer string) (helium.CollectionAnalysis, error)
	DeleteCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID, analyzer string) error
	DownloadCollectionAnalysis(ctx context.Context, caseGUID, collectionGUID, analyzer string, w io.Writer) (string, error)
	GetCollectionAnalysisLog(ctx context.Context, caseGUID, collectionGUID, analyzer string) (string, error)

	GetDiskUsage(ctx context.Context) (helium.DiskUsage, error)
	GetAnalyzerInfos(ctx context.Context) ([]helium.AnalyzerInfo, error)
	SubscribeCaseEvents(ctx context.Context, caseGUID string) (helium.Subscription, error)
}

// Update is delivered to the Notifier after every transition that has effects.
// Event and Raw are set when the transition came from the event stream.
type Update struct {
	State    State
	Effects  []Effect
	Event    *helium.Event
	Raw      []byte
	Received time.Time

	synced chan struct{}
}

// Notifier receives updates in the order the transitions happened. Notify
// runs on a dedicated goroutine and must not block on Session commands.
type Notifier interface {
	Notify(u Update)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(u Update)

// Notify calls f(u).
func (f NotifierFunc) Notify(u Update) { f(u) }

// VisitRecorder remembers the cases a user opened.
type VisitRecorder interface {
	AddCaseGUID(ctx context.Context, guid string) error
}

// Metrics observes the reconciler.
type Metrics interface {
	RecordEvent(category string, applied bool)
	RecordStreamError()
	RecordActionFailure(action string)
}

// SubscribeFunc opens an event feed for a case.
type SubscribeFunc func(ctx context.Context, caseGUID string) (helium.Subscription, error)

// Options configures a Session.
type Options struct {
	Logger  *log.Logger
	Visits  VisitRecorder
	Metrics Metrics
	// Subscribe replaces Backend.SubscribeCaseEvents as the event source.
	Subscribe SubscribeFunc
	// NoStream skips the event subscription (one-shot commands).
	NoStream bool
}

type nopMetrics struct{}

func (nopMetrics) RecordEvent(string, bool)   {}
func (nopMetrics) RecordStreamError()         {}
func (nopMetrics) RecordActionFailure(string) {}

// Session is one open case view: the projection, its event subscription and
// the user commands. Results of requests issued before Close are dropped.
type Session struct {
	backend  Backend
	notifier Notifier
	logger   *log.Logger
	metrics  Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	generation uint64
	closed     bool
	sub        helium.Subscription

	// pending holds updates not yet handed to the notifier; wake signals the
	// dispatcher. Producers never block on a slow notifier.
	pending []Update
	wake    chan struct{}
	done    chan struct{}
	seeded  chan struct{}
}

// Open fetches the case and starts the view: subscription first, then the
// remaining seed fetches concurrently. It fails only when the case itself
// cannot be retrieved.
func Open(ctx context.Context, backend Backend, caseID string, notifier Notifier, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Update) {})
	}

	meta, err := backend.GetCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaseUnavailable, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		backend:  backend,
		notifier: notifier,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		ctx:      sctx,
		cancel:   cancel,
		state:    SetCase(State{}, meta),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		seeded:   make(chan struct{}),
	}
	go s.dispatch()

	gen := s.currentGeneration()
	s.mutate(gen, func(st State) (State, []Effect) { return st, []Effect{render()} })

	if opts.Visits != nil {
		if err := opts.Visits.AddCaseGUID(sctx, meta.GUID); err != nil {
			s.logger.Printf("failed to remember case %s: %v", meta.GUID, err)
		}
	}

	if !opts.NoStream {
		subscribe := opts.Subscribe
		if subscribe == nil {
			subscribe = backend.SubscribeCaseEvents
		}
		sub, err := subscribe(sctx, meta.GUID)
		if err != nil {
			s.logger.Printf("event subscription for case %s failed: %v", meta.GUID, err)
			s.metrics.RecordStreamError()
			s.mutate(gen, func(st State) (State, []Effect) {
				return st, []Effect{toast(SeverityWarn, "Live updates unavailable", err.Error())}
			})
		} else {
			s.mu.Lock()
			s.sub = sub
			s.mu.Unlock()
			go s.consume(sub, gen)
		}
	}

	go s.seed(gen, meta.GUID)
	return s, nil
}

// State returns a copy of the current projection.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// CaseGUID returns the guid of the viewed case.
func (s *Session) CaseGUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Case.GUID
}

// Seeded is closed once every seed fetch has completed or failed.
func (s *Session) Seeded() <-chan struct{} {
	return s.seeded
}

// Done is closed once the session is closed and every pending update was delivered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close tears the view down: the subscription is released, in-flight
// requests are cancelled and their results discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.generation++
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	s.signal()

	s.cancel()
	if sub != nil {
		return sub.Close()
	}
	return nil
}

// Sync waits until every update queued so far was delivered to the Notifier.
func (s *Session) Sync(ctx context.Context) error {
	ch := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.pending = append(s.pending, Update{synced: ch})
	s.mu.Unlock()
	s.signal()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// mutate applies fn when the session is still at generation gen and queues
// the resulting update. It reports whether fn ran.
func (s *Session) mutate(gen uint64, fn func(State) (State, []Effect)) bool {
	return s.mutateWith(gen, nil, nil, fn)
}

func (s *Session) mutateWith(gen uint64, ev *helium.Event, raw []byte, fn func(State) (State, []Effect)) bool {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return false
	}
	next, effects := fn(s.state)
	s.state = next
	queued := len(effects) > 0
	if queued {
		s.pending = append(s.pending, Update{State: next.Clone(), Effects: effects, Event: ev, Raw: raw, Received: time.Now()})
	}
	s.mu.Unlock()
	if queued {
		s.signal()
	}
	return true
}

// signal wakes the dispatcher without blocking.
func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch hands pending updates to the notifier in order, outside s.mu.
// Nothing is queued once the session is closed, so the batch taken after
// Close is the last one.
func (s *Session) dispatch() {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		closed := s.closed
		s.mu.Unlock()

		for _, u := range batch {
			if u.synced != nil {
				close(u.synced)
				continue
			}
			s.notifier.Notify(u)
		}
		if closed {
			return
		}
		if len(batch) == 0 {
			<-s.wake
		}
	}
}

func (s *Session) consume(sub helium.Subscription, gen uint64) {
	for raw := range sub.Messages() {
		ev, err := helium.ParseEvent(raw)
		if err != nil {
			s.logger.Printf("dropping stream message: %v", err)
			continue
		}
		var applyErr error
		deleted := false
		ran := s.mutateWith(gen, &ev, raw, func(st State) (State, []Effect) {
			next, effects, err := Apply(st, ev)
			applyErr = err
			deleted = next.Deleted
			return next, effects
		})
		if !ran {
			return
		}
		if applyErr != nil {
			s.logger.Printf("ignoring %s event: %v", ev.Category, applyErr)
		}
		s.metrics.RecordEvent(ev.Category, applyErr == nil)
		if deleted {
			s.logger.Printf("case deleted, closing view")
			_ = s.Close()
			return
		}
	}
	if err := sub.Err(); err != nil && s.ctx.Err() == nil {
		s.logger.Printf("event stream error: %v", err)
		s.metrics.RecordStreamError()
		s.mutate(gen, func(st State) (State, []Effect) {
			return st, []Effect{toast(SeverityWarn, "Live updates interrupted", err.Error())}
		})
	}
}

func (s *Session) seed(gen uint64, caseGUID string) {
	defer close(s.seeded)
	g, ctx := errgroup.WithContext(s.ctx)

	g.Go(func() error {
		collectors, err := s.backend.GetCaseCollectors(ctx, caseGUID)
		if err != nil {
			s.logger.Printf("failed to retrieve collectors: %v", err)
			s.mutate(gen, func(st State) (State, []Effect) {
				return st, []Effect{toast(SeverityError, "Unauthorized", "Error while retrieving collectors"), navigateAway()}
			})
			return nil
		}
		s.mutate(gen, func(st State) (State, []Effect) { return SetCollectors(st, collectors), []Effect{render()} })
		return nil
	})
	g.Go(func() error {
		collections, err := s.backend.GetCaseCollections(ctx, caseGUID)
		if err != nil {
			s.logger.Printf("failed to retrieve collections: %v", err)
			return nil
		}
		s.mutate(gen, func(st State) (State, []Effect) { return SetCollections(st, collections), []Effect{render()} })
		return nil
	})
	g.Go(func() error {
		du, err := s.backend.GetDiskUsage(ctx)
		if err != nil {
			s.logger.Printf("failed to retrieve disk usage: %v", err)
			return nil
		}
		usage, ok := du.ForCase(caseGUID)
		if !ok {
			return nil
		}
		s.mutate(gen, func(st State) (State, []Effect) { return SetDiskUsage(st, usage), []Effect{render()} })
		return nil
	})
	g.Go(func() error {
		infos, err := s.backend.GetAnalyzerInfos(ctx)
		if err != nil {
			s.logger.Printf("failed to retrieve analyzers: %v", err)
			return nil
		}
		s.mutate(gen, func(st State) (State, []Effect) { return SetAnalyzerInfos(st, infos), []Effect{render()} })
		return nil
	})
	_ = g.Wait()
}
