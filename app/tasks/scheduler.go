package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lysyi3m/feed-comb/app/database"
	"github.com/lysyi3m/feed-comb/app/feed"
	"github.com/lysyi3m/feed-comb/app/graph"
	"github.com/robfig/cron/v3"
)

type scheduleEntry struct {
	node    *graph.Node
	state   ScheduleState
	backoff *backoff.ExponentialBackOff
}

// Scheduler decides when each source node is fetched. At most one fetch
// per node and at most WorkerCount fetches overall are in flight.
type Scheduler struct {
	graph            *graph.Graph
	store            StoreInterface
	fetcher          FetcherInterface
	filterer         *feed.Filterer
	contentExtractor *feed.ContentExtractor
	feedRepo         database.FeedRepositoryInterface
	entryRepo        database.EntryRepositoryInterface
	opts             Options

	mu      sync.Mutex
	entries map[string]*scheduleEntry
	order   []string

	slots chan struct{}
	wake  chan struct{}
	cron  *cron.Cron
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(g *graph.Graph, store StoreInterface, fetcher FetcherInterface, filterer *feed.Filterer,
	contentExtractor *feed.ContentExtractor, feedRepo database.FeedRepositoryInterface,
	entryRepo database.EntryRepositoryInterface, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 30 * time.Second
	}
	if opts.BackoffMax < opts.BackoffInitial {
		opts.BackoffMax = opts.BackoffInitial
	}

	s := &Scheduler{
		graph:            g,
		store:            store,
		fetcher:          fetcher,
		filterer:         filterer,
		contentExtractor: contentExtractor,
		feedRepo:         feedRepo,
		entryRepo:        entryRepo,
		opts:             opts,
		entries:          make(map[string]*scheduleEntry),
		slots:            make(chan struct{}, opts.WorkerCount),
		wake:             make(chan struct{}, 1),
		cron:             cron.New(),
		now:              time.Now,
		ctx:              ctx,
		cancel:           cancel,
	}

	for _, node := range g.Sources() {
		s.entries[node.Name] = &scheduleEntry{
			node:    node,
			state:   ScheduleState{State: StateIdle},
			backoff: s.newBackOff(),
		}
		s.order = append(s.order, node.Name)
	}

	return s
}

func (s *Scheduler) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.BackoffInitial
	b.MaxInterval = s.opts.BackoffMax
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// Seed restores a persisted schedule before Start. Unknown names are
// ignored, which happens when a node was removed from the configuration.
func (s *Scheduler) Seed(name string, state ScheduleState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	se, ok := s.entries[name]
	if !ok {
		return
	}

	if state.State != StateBackoff {
		state.State = StateIdle
	}
	se.state = state

	// Consume backoff steps so a restart keeps growing the delay.
	for i := 0; i < state.Failures && state.State == StateBackoff; i++ {
		se.backoff.NextBackOff()
	}
}

func (s *Scheduler) Start() {
	if s.opts.TidySchedule != "" {
		_, err := s.cron.AddFunc(s.opts.TidySchedule, s.tidy)
		if err != nil {
			slog.Error("Invalid tidy schedule, tidy task disabled", "schedule", s.opts.TidySchedule, "error", err)
		}
	}
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		s.syncFeedConfigs()
		s.dispatch()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.dispatch()
			case <-s.wake:
				s.dispatch()
			}
		}
	}()
}

// Stop cancels in-flight fetches and waits for the workers to return.
// Results of cancelled fetches are discarded.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) syncFeedConfigs() {
	if s.feedRepo == nil {
		return
	}

	for _, node := range s.graph.Sources() {
		task := NewSyncFeedConfigTask(node, s.feedRepo)
		task.Start()
		if err := task.Execute(s.ctx); err != nil {
			slog.Warn("Failed to register feed", "feed", node.Name, "error", err)
		}
	}
}

func (s *Scheduler) dispatch() {
	if s.ctx.Err() != nil {
		return
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*scheduleEntry
	for _, name := range s.order {
		se := s.entries[name]
		if !se.node.Settings.Enabled || se.state.State == StateFetching {
			continue
		}
		if se.state.NextDueAt.After(now) {
			continue
		}
		se.state.State = StateDue
		due = append(due, se)
	}

	slices.SortFunc(due, func(a, b *scheduleEntry) int {
		if c := a.state.NextDueAt.Compare(b.state.NextDueAt); c != 0 {
			return c
		}
		return strings.Compare(a.node.Name, b.node.Name)
	})

	for _, se := range due {
		select {
		case s.slots <- struct{}{}:
		default:
			slog.Debug("All workers busy", "pending", len(due))
			return
		}

		se.state.State = StateFetching
		se.state.LastAttemptAt = now

		task := NewProcessFeedTask(se.node, s.graph, s.fetcher, s.filterer, s.contentExtractor, s.store, s.entryRepo)
		task.LastModified = se.state.LastModified
		task.ETag = se.state.ETag

		s.wg.Add(1)
		go s.run(task)
	}
}

func (s *Scheduler) run(task *ProcessFeedTask) {
	defer s.wg.Done()
	defer func() {
		<-s.slots
		s.signal()
	}()

	fetchInFlight.Inc()
	defer fetchInFlight.Dec()

	ctx := s.ctx
	if timeout := task.Node.Settings.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	task.Start()
	err := execute(ctx, task)
	fetchDuration.WithLabelValues(task.FeedName).Observe(task.GetDuration().Seconds())

	if s.ctx.Err() != nil {
		slog.Debug("Fetch abandoned", "feed", task.FeedName)
		s.mu.Lock()
		s.entries[task.FeedName].state.State = StateIdle
		s.mu.Unlock()
		return
	}

	s.complete(task, err)
}

func execute(ctx context.Context, task TaskInterface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Execute(ctx)
}

func (s *Scheduler) complete(task *ProcessFeedTask, err error) {
	now := s.now()

	s.mu.Lock()
	se := s.entries[task.FeedName]
	st := &se.state
	refresh := se.node.Settings.RefreshInterval
	if refresh <= 0 {
		refresh = s.opts.Interval
	}

	prevFailures := st.Failures
	prevKind := st.LastErrorKind
	result := resultSuccess

	if err == nil {
		if task.Outcome.NotModified {
			result = resultNotModified
		}
		st.State = StateIdle
		st.LastSuccessAt = now
		st.NextDueAt = now.Add(refresh)
		st.LastModified = task.Outcome.LastModified
		st.ETag = task.Outcome.ETag
		st.Failures = 0
		st.LastError = ""
		st.LastErrorKind = ""
		se.backoff.Reset()
	} else {
		kind := feed.KindOf(err)
		st.Failures++
		st.LastError = err.Error()
		st.LastErrorKind = kind

		if kind == feed.ErrorKindTransient {
			result = resultTransient
			delay := se.backoff.NextBackOff()
			if delay == backoff.Stop || delay > s.opts.BackoffMax {
				delay = s.opts.BackoffMax
			}
			st.State = StateBackoff
			st.NextDueAt = now.Add(delay)
		} else {
			result = resultPermanent
			st.State = StateIdle
			st.NextDueAt = now.Add(refresh)
			se.backoff.Reset()
		}
	}

	snapshot := *st
	s.mu.Unlock()

	s.logTransition(task.FeedName, snapshot, prevFailures, prevKind)

	fetchTotal.WithLabelValues(task.FeedName, result).Inc()
	if set, ok := s.store.Snapshot(task.FeedName); ok {
		entriesGauge.WithLabelValues(task.FeedName).Set(float64(set.Len()))
	}

	if s.feedRepo != nil {
		if err := s.feedRepo.UpdateFetchState(task.FeedName, snapshot.fetchState()); err != nil {
			slog.Error("Failed to store fetch state", "feed", task.FeedName, "error", err)
		}
	}
}

// logTransition logs once per state change: entering backoff at warn,
// recovery at info and a new permanent failure at error. Repeats go to debug.
func (s *Scheduler) logTransition(name string, st ScheduleState, prevFailures int, prevKind feed.ErrorKind) {
	switch {
	case st.Failures == 0 && prevFailures > 0:
		slog.Info("Feed recovered", "feed", name, "failures", prevFailures)
	case st.Failures == 0:
		slog.Debug("Feed fetched", "feed", name, "next_due_at", st.NextDueAt)
	case st.LastErrorKind == prevKind:
		slog.Debug("Feed still failing", "feed", name, "kind", st.LastErrorKind, "failures", st.Failures, "error", st.LastError, "next_due_at", st.NextDueAt)
	case st.State == StateBackoff:
		slog.Warn("Feed entered backoff", "feed", name, "error", st.LastError, "next_due_at", st.NextDueAt)
	default:
		slog.Error("Feed failed permanently", "feed", name, "error", st.LastError, "next_due_at", st.NextDueAt)
	}
}

// RequestRefresh marks the sources behind name as due now. Sources fetched
// successfully within their cache TTL, already fetching or backing off are
// left alone. It reports whether any fetch was requested.
func (s *Scheduler) RequestRefresh(name string) (bool, error) {
	node, ok := s.graph.Node(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownFeed, name)
	}

	sources := []*graph.Node{node}
	if !node.IsSource() {
		sources = nil
		for _, composite := range s.graph.Closure(name) {
			for _, c := range s.graph.Constituents(composite) {
				if c.IsSource() && !slices.Contains(sources, c) {
					sources = append(sources, c)
				}
			}
		}
	}

	now := s.now()
	requested := false

	s.mu.Lock()
	for _, src := range sources {
		se := s.entries[src.Name]
		if !se.node.Settings.Enabled {
			continue
		}
		switch se.state.State {
		case StateFetching, StateBackoff:
			continue
		}
		if !se.state.LastSuccessAt.IsZero() && now.Sub(se.state.LastSuccessAt) < se.node.Settings.CacheTTL {
			continue
		}
		se.state.State = StateDue
		se.state.NextDueAt = now
		requested = true
	}
	s.mu.Unlock()

	if requested {
		slog.Debug("Refresh requested", "feed", name)
		s.signal()
	}

	return requested, nil
}

// Status reports every node in graph order. Composite nodes carry no
// schedule of their own.
func (s *Scheduler) Status() []NodeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.graph.Nodes()
	statuses := make([]NodeStatus, 0, len(nodes))
	for _, node := range nodes {
		status := NodeStatus{Name: node.Name, Kind: node.Kind, Enabled: true}
		if se, ok := s.entries[node.Name]; ok {
			status.Enabled = se.node.Settings.Enabled
			status.ScheduleState = se.state
		}
		statuses = append(statuses, status)
	}

	return statuses
}

func (s *Scheduler) tidy() {
	task := NewTidyTask(s.graph, s.store, s.entryRepo)
	task.Start()
	if err := task.Execute(s.ctx); err != nil {
		slog.Warn("Task failed", "type", "Tidy", "error", err)
	}
}
