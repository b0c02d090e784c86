package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/metrics"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

var (
	ErrQueueFull     = errors.New("task queue is full")
	ErrAlreadyQueued = errors.New("feed is already queued")
)

const taskTimeout = 5 * time.Minute

type SchedulerOptions struct {
	Schedule    string
	BatchSize   int
	WorkerCount int
	QueueSize   int
}

type Scheduler struct {
	feeds     DueFeedSource
	processor *FeedProcessor
	opts      SchedulerOptions
	metrics   *metrics.Metrics
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	taskQueue chan TaskInterface

	mu      sync.Mutex
	pending map[int64]struct{}
}

func NewScheduler(feeds DueFeedSource, processor *FeedProcessor, opts SchedulerOptions, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 5
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 300
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		feeds:     feeds,
		processor: processor,
		opts:      opts,
		metrics:   m,
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		ctx:       ctx,
		cancel:    cancel,
		taskQueue: make(chan TaskInterface, opts.QueueSize),
		pending:   make(map[int64]struct{}),
	}
}

// Start launches the workers, runs the startup tasks in order and then
// enqueues due feeds immediately and on every schedule tick.
func (s *Scheduler) Start(startup ...TaskInterface) error {
	if _, err := s.cron.AddFunc(s.opts.Schedule, s.tick); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.opts.Schedule, err)
	}

	for i := 0; i < s.opts.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for _, task := range startup {
			task.Start()
			if err := task.Execute(s.ctx); err != nil {
				slog.Error("Startup task failed", append(task.LogAttrs(), "error", err)...)
			}
		}

		if s.ctx.Err() != nil {
			return
		}
		s.tick()
		s.cron.Start()
	}()

	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) tick() {
	if n, err := s.EnqueueDue(s.ctx); err != nil {
		slog.Warn("Failed to enqueue due feeds", "error", err)
	} else if n > 0 {
		slog.Debug("Due feeds enqueued", "count", n)
	}
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		s.metrics.QueueDepth(len(s.taskQueue))
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueFeed queues one processing run for feed unless one is already
// queued or running.
func (s *Scheduler) EnqueueFeed(feed database.Feed) error {
	if !s.claim(feed.ID) {
		return ErrAlreadyQueued
	}
	if err := s.EnqueueTask(NewProcessFeedTask(feed, s.processor)); err != nil {
		s.release(feed.ID)
		return err
	}
	return nil
}

// EnqueueDue selects up to BatchSize due feeds and queues them. Feeds that
// are already queued or running are skipped.
func (s *Scheduler) EnqueueDue(ctx context.Context) (int, error) {
	feeds, err := s.feeds.ListDueFeeds(ctx, time.Now(), s.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, feed := range feeds {
		err := s.EnqueueFeed(feed)
		switch {
		case err == nil:
			queued++
		case errors.Is(err, ErrAlreadyQueued):
			slog.Debug("Feed already queued, skipping", "feed", feed.Name)
		default:
			return queued, err
		}
	}
	return queued, nil
}

func (s *Scheduler) claim(feedID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[feedID]; ok {
		return false
	}
	s.pending[feedID] = struct{}{}
	return true
}

func (s *Scheduler) release(feedID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, feedID)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.metrics.QueueDepth(len(s.taskQueue))
			s.executeTask(id, task)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil || s.ctx.Err() != nil {
		s.done(task)
		return
	}

	s.metrics.TaskFailed(string(task.GetType()))
	slog.Error("Worker task execution failed", append(task.LogAttrs(), "worker_id", workerID, "retry_count", task.Retries(), "error", err)...)

	retryDelay, ok := task.NextRetry()
	if !ok {
		slog.Error("Task failed after maximum retries", append(task.LogAttrs(), "retry_count", task.Retries(), "last_error", err)...)
		s.done(task)
		return
	}

	slog.Warn("Task retry scheduled", append(task.LogAttrs(), "retry_count", task.Retries(), "delay", retryDelay.String())...)

	go func() {
		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", task.LogAttrs()...)
			s.done(task)
		case <-time.After(retryDelay):
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", append(task.LogAttrs(), "retry_count", task.Retries(), "error", retryErr)...)
				s.done(task)
			}
		}
	}()
}

func (s *Scheduler) done(task TaskInterface) {
	if target := task.Target(); target.Bound() {
		s.release(target.ID)
	}
}
