package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MimeLyc/batch-transcriber/internal/dispatch"
	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/pkg/log"
)

// Runner executes one decoded message.
type Runner interface {
	Run(ctx context.Context, msg dispatch.Message) error
}

// Pool drains the broker with a fixed number of goroutines. Each claimed
// message is run to completion and then acked.
type Pool struct {
	broker       dispatch.Broker
	runner       Runner
	workerCount  int
	pollInterval time.Duration
	workerID     string

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(broker dispatch.Broker, runner Runner, workerCount int, pollInterval time.Duration, workerID string) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Pool{
		broker:       broker,
		runner:       runner,
		workerCount:  workerCount,
		pollInterval: pollInterval,
		workerID:     workerID,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the workers. Cancelling ctx stops polling; jobs already
// running are not interrupted.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := range p.workerCount {
		p.wg.Add(1)
		go p.worker(ctx, fmt.Sprintf("%s-%d", p.workerID, i))
	}
	log.WithComponent("worker").Infof("started %d workers polling every %s", p.workerCount, p.pollInterval)
}

// Stop ends polling and waits for in-flight jobs.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
	})
}

func (p *Pool) worker(ctx context.Context, id string) {
	defer p.wg.Done()
	logger := log.WithComponent("worker").WithField("worker_id", id)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		d, err := p.broker.Claim(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				logger.Errorf("claim failed: %v", err)
			}
			p.wait(ctx)
			continue
		}
		if d == nil {
			p.wait(ctx)
			continue
		}

		p.handle(context.WithoutCancel(ctx), d)
	}
}

func (p *Pool) handle(ctx context.Context, d *dispatch.Delivery) {
	logger := log.WithComponent("worker").WithField("msg_key", d.Key)

	err := jobs.SafeExecute(func() error {
		msg, err := d.Decode()
		if err != nil {
			return err
		}
		return p.runner.Run(ctx, msg)
	})
	if err != nil {
		logger.Errorf("job run failed: %v", err)
	}

	// acked either way: the job reached a terminal state or can never be run
	if err := p.broker.Ack(ctx, d.Key); err != nil {
		logger.Errorf("ack failed: %v", err)
	}
}

func (p *Pool) wait(ctx context.Context) {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-p.stopCh:
	case <-ctx.Done():
	case <-t.C:
	}
}
