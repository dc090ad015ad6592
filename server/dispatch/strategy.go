package dispatch

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/ValentinKolb/dNIO/lib/channel"
	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/eapache/queue"
)

// ErrStrategyClosed is returned by Dispatch after Shutdown
var ErrStrategyClosed = errors.New("dispatch: strategy is shut down")

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// Handler serves one connection. It does not need to close the channel.
type Handler func(ch channel.Channel)

// Strategy decides where the handler of an accepted connection runs
type Strategy interface {
	// Name returns the configuration name of the strategy
	Name() common.StrategyName

	// Dispatch takes ownership of the session. The session is finished (channel closed)
	// by the strategy in every case, also when an error is returned.
	Dispatch(s *Session, h Handler) error

	// Shutdown stops accepting work and waits for in-flight sessions the strategy tracks
	Shutdown()
}

// NewStrategy creates the strategy selected in the configuration
func NewStrategy(conf common.ServerConfig) (Strategy, error) {
	switch conf.Strategy {
	case common.StrategyInline:
		return NewInlineStrategy(), nil
	case common.StrategyThread:
		return NewThreadStrategy(), nil
	case common.StrategyPool:
		return NewPoolStrategy(conf.Workers), nil
	case common.StrategyFork:
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable for worker processes: %v", err)
		}
		return NewForkStrategy(exe, []string{"worker"}, WorkerEnv(conf)), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", conf.Strategy)
	}
}

// WorkerEnv returns the environment that configures a worker process like the parent
func WorkerEnv(conf common.ServerConfig) []string {
	return []string{
		"DNIO_MODE=" + string(conf.Mode),
		"DNIO_RESPONSE=" + conf.Response,
		"DNIO_BUFFER_SIZE=" + strconv.Itoa(conf.BufferSize),
		"DNIO_LOG_LEVEL=" + conf.LogLevel,
	}
}

// --------------------------------------------------------------------------
// Inline
// --------------------------------------------------------------------------

// InlineStrategy runs the handler on the accepting goroutine, one connection at a time
type InlineStrategy struct{}

func NewInlineStrategy() *InlineStrategy { return &InlineStrategy{} }

func (*InlineStrategy) Name() common.StrategyName { return common.StrategyInline }

func (*InlineStrategy) Dispatch(s *Session, h Handler) error {
	serve(s, h)
	return nil
}

func (*InlineStrategy) Shutdown() {}

// --------------------------------------------------------------------------
// Thread
// --------------------------------------------------------------------------

// ThreadStrategy runs every connection on its own goroutine
type ThreadStrategy struct {
	wg sync.WaitGroup
}

func NewThreadStrategy() *ThreadStrategy { return &ThreadStrategy{} }

func (*ThreadStrategy) Name() common.StrategyName { return common.StrategyThread }

func (t *ThreadStrategy) Dispatch(s *Session, h Handler) error {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		serve(s, h)
	}()
	return nil
}

// Shutdown waits until every running handler returned
func (t *ThreadStrategy) Shutdown() {
	t.wg.Wait()
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

type poolJob struct {
	session *Session
	handler Handler
}

// PoolStrategy serves connections with a fixed number of worker goroutines
// that consume a FIFO of accepted sessions
type PoolStrategy struct {
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    *queue.Queue
	closed  bool
	workers int
	wg      sync.WaitGroup
}

// NewPoolStrategy starts workers (at least one) goroutines
func NewPoolStrategy(workers int) *PoolStrategy {
	p := &PoolStrategy{
		jobs:    queue.New(),
		workers: max(workers, 1),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

func (*PoolStrategy) Name() common.StrategyName { return common.StrategyPool }

func (p *PoolStrategy) Dispatch(s *Session, h Handler) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.finish()
		return ErrStrategyClosed
	}
	p.jobs.Add(poolJob{session: s, handler: h})
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Shutdown lets the workers drain the queue and waits for them to exit
func (p *PoolStrategy) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

// Pending returns the number of queued sessions no worker picked up yet
func (p *PoolStrategy) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs.Length()
}

// work is the loop of one worker goroutine
func (p *PoolStrategy) work(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.jobs.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.jobs.Length() == 0 {
			// closed and drained
			p.mu.Unlock()
			Logger.Debugf("pool worker %d stopped", id)
			return
		}
		job := p.jobs.Remove().(poolJob)
		p.mu.Unlock()

		serve(job.session, job.handler)
	}
}
