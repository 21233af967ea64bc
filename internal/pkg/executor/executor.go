package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"app-alfen-go/internal/pkg/logger"
)

// Job 在 worker 上执行的阻塞任务，例如一次 Modbus 轮询
type Job func(ctx context.Context) error

// task 包装了任务及其名称
type task struct {
	name string
	job  Job
}

// Pool 固定大小的 worker 池，队列满时丢弃任务而不是阻塞调用方（定时器）
type Pool struct {
	lc      logger.LoggingClient
	tasks   chan *task
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewPool 创建 worker 池
func NewPool(workers, queueSize int, timeout time.Duration, lc logger.LoggingClient) (*Pool, error) {
	if workers <= 0 {
		return nil, errors.New("please specify a positive worker count")
	}
	if queueSize <= 0 {
		queueSize = workers * 16
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pool{
		lc:      lc,
		tasks:   make(chan *task, queueSize),
		workers: workers,
		timeout: timeout,
	}, nil
}

// Start 启动 worker，重复调用无效
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.lc.Debug("Executor started", "workers", p.workers, "queue", cap(p.tasks))
}

// Submit 非阻塞提交任务，队列已满或池已停止时返回 false
func (p *Pool) Submit(name string, job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.tasks <- &task{name: name, job: job}:
		return true
	default:
		p.lc.Warn("Dropped job (queue full)", "job", name)
		return false
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		p.run(ctx, t, id)
	}
}

func (p *Pool) run(parentCtx context.Context, t *task, id int) {
	ctx, cancel := context.WithTimeout(parentCtx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.lc.Error("Job panicked", "job", t.name, "worker", id, "panic", r)
		}
	}()

	if err := t.job(ctx); err != nil {
		p.lc.Debug("Job failed", "job", t.name, "worker", id, "error", err)
	}
}

// Stop 关闭队列并等待所有 worker 退出，已排队的任务会被执行完
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
		p.cancel()
	}
	p.lc.Debug("Executor stopped")
}
