// Package flow implements the Flow base: the two back-pressured stage
// queues, the two worker pools, the lifecycle state machine, and the
// per-message error-isolation policy shared by every topology.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"flowbridge.dev/flowbridge/internal/broker"
	"flowbridge.dev/flowbridge/internal/core"
	"flowbridge.dev/flowbridge/internal/metrics"
	"flowbridge.dev/flowbridge/internal/processor"
	"flowbridge.dev/flowbridge/internal/queue"
	"flowbridge.dev/flowbridge/internal/workerpool"
)

// State is a flow's lifecycle stage. Transitions are monotonic except that
// Failed is a terminal alternative to Stopped, reachable from any
// non-terminal state.
type State int

const (
	Created State = iota
	Starting
	Running
	Draining
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	pollTimeout    = 100 * time.Millisecond
	throttleSleep  = 10 * time.Millisecond
	publishTimeout = 10 * time.Second
)

// SourceBinding pairs a Source with the topic(s) it should subscribe to.
// Funnel mode has one binding per configured source; Fan and One-to-one
// have exactly one binding covering all of their topics.
type SourceBinding struct {
	Source broker.Source
	Topics []string
}

// PickDestination selects the destination topic for a processed message.
// Funnel returns a fixed topic; Fan resolves one at runtime; One-to-one
// looks one up by source topic.
type PickDestination func(out *core.Message) (string, error)

// PublisherFor selects which publisher handles a message. Every topology in
// this spec uses exactly one publisher, but the signature stays
// message-shaped so a future multi-publisher mode needs no base changes.
type PublisherFor func(msg *core.Message) broker.Publisher

// Config carries the stage-sizing and processing knobs common to every
// topology.
type Config struct {
	Name                string
	MaxWorkers          int
	QueueSize           int
	BackPressureEnabled bool
	HighWatermark       float64
	LowWatermark        float64
	ShutdownTimeout     time.Duration
}

// Flow owns the two BoundedQueues, the two WorkerPools, the sources,
// publishers, and processor for its entire lifetime. FunnelFlow, FanFlow,
// and OneToOneFlow are just this struct constructed with different
// PickDestination/PublisherFor closures and source bindings.
type Flow struct {
	cfg Config

	domainQueue  *queue.BoundedQueue[*core.Message]
	publishQueue *queue.BoundedQueue[*core.Message]
	domainBP     *queue.BackPressureController
	publishBP    *queue.BackPressureController
	domainPool   *workerpool.Pool
	publishPool  *workerpool.Pool

	sources    []SourceBinding
	publishers []broker.Publisher

	processor       processor.Processor
	pickDestination PickDestination
	publisherFor    PublisherFor

	metrics *metrics.Collector

	ctx           context.Context
	cancel        context.CancelFunc
	stopConsumers chan struct{}
	consumerWG    sync.WaitGroup

	stateMu sync.Mutex
	state   State

	// shutdownOnce guarantees the close-queues/drain-pools/close-adapters
	// sequence runs exactly once no matter whether it is triggered by an
	// explicit Stop() or by a worker/consumer observing a FatalError.
	// done closes when that sequence completes, so callers that can't call
	// Stop() themselves (the engine's signal-handling loop) can still
	// observe a flow that failed on its own.
	shutdownOnce sync.Once
	done         chan struct{}
	shutdownErr  error
}

// New constructs a Flow in state Created. The topology-specific
// constructors (NewFunnel, NewFan, NewOneToOne) are the normal entry points.
func New(cfg Config, sources []SourceBinding, publishers []broker.Publisher, proc processor.Processor, pick PickDestination, publisherFor PublisherFor, collector *metrics.Collector) *Flow {
	return &Flow{
		cfg:             cfg,
		sources:         sources,
		publishers:      publishers,
		processor:       proc,
		pickDestination: pick,
		publisherFor:    publisherFor,
		metrics:         collector,
		state:           Created,
	}
}

// State returns the current lifecycle state.
func (f *Flow) State() State {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.state
}

func (f *Flow) setState(s State) {
	f.stateMu.Lock()
	f.state = s
	f.stateMu.Unlock()
	f.metrics.ReportState(int(s))
}

// Metrics exposes the flow's metrics collector, e.g. for the engine's final
// snapshot print.
func (f *Flow) Metrics() *metrics.Collector {
	return f.metrics
}

// Done returns a channel that closes once the flow has fully shut down,
// whether that shutdown was requested via Stop or triggered internally by
// a FatalError. A caller that can't call Stop directly (the engine's
// signal-handling loop) selects on this to notice a flow that failed on
// its own and react the same way it would react to a signal.
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

// Start transitions Created -> Starting -> Running, opening every publisher
// and source, then spawning the consumer tasks and both worker pools. On
// any setup failure it transitions to Failed and unwinds whatever was
// already opened, in reverse order.
func (f *Flow) Start(ctx context.Context) error {
	if f.State() != Created {
		return fmt.Errorf("flow: Start called in state %s, expected %s", f.State(), Created)
	}
	f.setState(Starting)

	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.stopConsumers = make(chan struct{})
	f.done = make(chan struct{})

	opened := make([]broker.Publisher, 0, len(f.publishers))
	for _, pub := range f.publishers {
		if err := pub.Open(ctx); err != nil {
			f.unwindPublishers(opened)
			f.setState(Failed)
			return core.NewConnectionError("", err)
		}
		opened = append(opened, pub)
	}

	openedSources := make([]broker.Source, 0, len(f.sources))
	for _, binding := range f.sources {
		if err := binding.Source.Open(ctx); err != nil {
			f.unwindSources(openedSources)
			f.unwindPublishers(opened)
			f.setState(Failed)
			return core.NewConnectionError("", err)
		}
		openedSources = append(openedSources, binding.Source)
		if err := binding.Source.Subscribe(binding.Topics); err != nil {
			f.unwindSources(openedSources)
			f.unwindPublishers(opened)
			f.setState(Failed)
			return core.NewConnectionError("", err)
		}
	}

	queueSize := f.cfg.QueueSize
	f.domainQueue = queue.NewBoundedQueue[*core.Message](queueSize)
	f.publishQueue = queue.NewBoundedQueue[*core.Message](queueSize)
	f.domainBP = queue.NewBackPressureController(f.domainQueue, f.cfg.BackPressureEnabled, f.cfg.HighWatermark, f.cfg.LowWatermark)
	f.publishBP = queue.NewBackPressureController(f.publishQueue, f.cfg.BackPressureEnabled, f.cfg.HighWatermark, f.cfg.LowWatermark)

	workers := f.cfg.MaxWorkers
	f.domainPool = workerpool.New(workers, workers)
	f.publishPool = workerpool.New(workers, workers)
	for i := 0; i < workers; i++ {
		f.domainPool.Submit(f.domainWorkerLoop)
		f.publishPool.Submit(f.publishWorkerLoop)
	}

	for _, binding := range f.sources {
		f.consumerWG.Add(1)
		go f.consumerLoop(binding.Source)
	}

	go f.reportGauges()

	f.setState(Running)
	slog.Info("flow started", "flow", f.cfg.Name, "workers", workers, "queue_size", queueSize)
	return nil
}

// Stop transitions Running -> Draining -> Stopped within the configured
// shutdown budget: consumers stop first, then domain_queue is closed and
// drained, then publish_queue, then publishers and sources are closed.
// Exceeding the budget is reported via the returned error but the flow
// still ends in Stopped. If a FatalError already drove the flow to Failed
// (see fail below), Stop only reports the outcome of that shutdown; it
// never runs the sequence twice.
func (f *Flow) Stop() error {
	state := f.State()
	if state == Stopped || state == Failed {
		return f.shutdownErr
	}
	f.shutdownSequence(Stopped)
	return f.shutdownErr
}

// fail transitions the flow to Failed and runs the same drain sequence
// Stop does, best-effort, per spec.md's FatalError policy. It must not
// block the caller: fail is invoked from inside a consumer or worker loop,
// and the drain sequence waits on that very loop's goroutine to exit, so
// the sequence runs on its own goroutine.
func (f *Flow) fail(err error) {
	state := f.State()
	if state == Stopped || state == Failed {
		return
	}
	slog.Error("flow failed", "flow", f.cfg.Name, "error", err)
	go f.shutdownSequence(Failed)
}

// shutdownSequence closes domain_queue, drains the domain pool, closes
// publish_queue, drains the publish pool, then closes every source and
// publisher, and finally sets terminal (Stopped or Failed). Guarded by
// shutdownOnce so it runs exactly once regardless of how many of Stop and
// fail raced to trigger it; whichever call wins decides the terminal
// state the flow actually ends up in.
func (f *Flow) shutdownSequence(terminal State) {
	f.shutdownOnce.Do(func() {
		f.setState(Draining)

		deadline := time.Now().Add(f.cfg.ShutdownTimeout)
		close(f.stopConsumers)
		f.cancel()

		if !waitWithDeadline(&f.consumerWG, deadline) {
			slog.Warn("flow shutdown: consumers did not stop within budget", "flow", f.cfg.Name)
		}

		f.domainQueue.Close()
		domainOK := f.domainPool.Shutdown(true, time.Until(deadline))
		if !domainOK {
			slog.Warn("flow shutdown: domain pool partial shutdown", "flow", f.cfg.Name)
		}

		f.publishQueue.Close()
		publishOK := f.publishPool.Shutdown(true, time.Until(deadline))
		if !publishOK {
			slog.Warn("flow shutdown: publish pool partial shutdown", "flow", f.cfg.Name)
		}

		for _, src := range bindingSources(f.sources) {
			if err := src.Close(); err != nil {
				slog.Error("error closing source", "flow", f.cfg.Name, "error", err)
			}
		}
		for _, pub := range f.publishers {
			if err := pub.Close(); err != nil {
				slog.Error("error closing publisher", "flow", f.cfg.Name, "error", err)
			}
		}

		if !domainOK || !publishOK {
			f.shutdownErr = core.NewShutdownTimeout(fmt.Errorf("flow %s: shutdown exceeded %s", f.cfg.Name, f.cfg.ShutdownTimeout))
		}

		f.setState(terminal)
		slog.Info("flow stopped", "flow", f.cfg.Name, "state", terminal)
		close(f.done)
	})
}

// reportGauges mirrors queue fill and back-pressure gate state into the
// Prometheus gauges (a no-op when exposition is disabled) until the flow's
// context is cancelled at the start of Stop.
func (f *Flow) reportGauges() {
	const interval = time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.metrics.ReportQueueSize("domain", f.domainQueue.Size())
			f.metrics.ReportQueueSize("publish", f.publishQueue.Size())
			f.metrics.ReportBackPressure("domain", f.domainBP.ShouldThrottle())
			f.metrics.ReportBackPressure("publish", f.publishBP.ShouldThrottle())
		}
	}
}

func waitWithDeadline(wg *sync.WaitGroup, deadline time.Time) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(time.Until(deadline)):
		return false
	}
}

func bindingSources(bindings []SourceBinding) []broker.Source {
	out := make([]broker.Source, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, b.Source)
	}
	return out
}

func (f *Flow) unwindSources(sources []broker.Source) {
	for i := len(sources) - 1; i >= 0; i-- {
		_ = sources[i].Close()
	}
}

func (f *Flow) unwindPublishers(pubs []broker.Publisher) {
	for i := len(pubs) - 1; i >= 0; i-- {
		_ = pubs[i].Close()
	}
}

// consumerLoop runs once per source. It consults the domain-side
// back-pressure gate before every consume attempt and blocks on
// domain_queue.Put, which is the point where back-pressure propagates
// upstream into the broker client itself.
func (f *Flow) consumerLoop(src broker.Source) {
	defer f.consumerWG.Done()
	for {
		select {
		case <-f.stopConsumers:
			return
		default:
		}

		if f.domainBP.ShouldThrottle() {
			time.Sleep(throttleSleep)
			continue
		}

		msg, err := src.Consume(f.ctx, pollTimeout)
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			if core.IsFatal(err) {
				f.fail(err)
				return
			}
			slog.Debug("transient source error", "flow", f.cfg.Name, "error", err)
			continue
		}
		if msg == nil {
			continue // idle poll
		}

		f.metrics.RecordSource(msg.SourceTopic, len(msg.Payload))
		f.domainQueue.Put(msg)
	}
}

// domainWorkerLoop is the job submitted once per domain-pool worker: it IS
// that worker's entire lifetime, draining domain_queue until closed.
func (f *Flow) domainWorkerLoop() {
	for {
		msg, res := f.domainQueue.Get(pollTimeout)
		switch res {
		case queue.GetClosed:
			return
		case queue.GetTimeout:
			continue
		}

		out, err := f.processor.Process(msg)
		if err != nil {
			f.metrics.ErrorSource(msg.SourceTopic)
			continue
		}
		if out == nil {
			continue // intentional filter
		}

		topic, err := f.pickDestination(out)
		if err != nil {
			f.metrics.ErrorSource(msg.SourceTopic)
			continue
		}
		out.DestinationTopic = topic
		f.publishQueue.Put(out)
	}
}

// publishWorkerLoop is the job submitted once per publish-pool worker: it IS
// that worker's entire lifetime, draining publish_queue until closed.
func (f *Flow) publishWorkerLoop() {
	for {
		msg, res := f.publishQueue.Get(pollTimeout)
		switch res {
		case queue.GetClosed:
			return
		case queue.GetTimeout:
			continue
		}

		pub := f.publisherFor(msg)
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := pub.Publish(ctx, msg.DestinationTopic, msg)
		cancel()
		if err != nil {
			f.metrics.ErrorDestination(msg.DestinationTopic)
			if core.IsFatal(err) {
				f.fail(err)
			}
			continue
		}
		f.metrics.RecordDestination(msg.DestinationTopic, len(msg.Payload))
	}
}
