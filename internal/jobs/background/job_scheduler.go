package background

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"stockledger/internal/caching"
	"stockledger/internal/jobs"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultLockTTL = 5 * time.Minute

var errJobLockHeld = errors.New("job lock held by another instance")

// JobSpec pairs a job with its run interval.
type JobSpec struct {
	Job      jobs.Job
	Interval time.Duration
}

// JobScheduler manages background jobs for distributed environment
type JobScheduler struct {
	scheduler gocron.Scheduler
	jobJobs   map[string]gocron.Job
	intervals map[string]time.Duration
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger
}

// NewJobScheduler creates a scheduler whose runs are guarded by cache locks,
// so only one instance executes a given job at a time. A nil cache disables
// the distributed lock.
func NewJobScheduler(cacheSvc caching.CacheService, lockTTL time.Duration, logger *zap.Logger, specs ...JobSpec) (*JobScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	opts := []gocron.SchedulerOption{gocron.WithLogger(cronLogger{l: logger.Sugar()})}
	if cacheSvc != nil {
		opts = append(opts, gocron.WithDistributedLocker(&cacheLocker{
			cache: cacheSvc,
			owner: uuid.NewString(),
			ttl:   lockTTL,
		}))
	}

	scheduler, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	js := &JobScheduler{
		scheduler: scheduler,
		jobJobs:   make(map[string]gocron.Job),
		intervals: make(map[string]time.Duration),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}

	for _, spec := range specs {
		if err := js.Register(spec.Job, spec.Interval); err != nil {
			cancel()
			_ = scheduler.Shutdown()
			return nil, err
		}
	}
	logger.Info("registered background jobs", zap.Int("count", len(js.jobJobs)))
	return js, nil
}

// Start starts the job scheduler
func (js *JobScheduler) Start() error {
	js.logger.Info("starting background job scheduler")
	js.scheduler.Start()
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (js *JobScheduler) Stop() error {
	js.logger.Info("stopping background job scheduler")
	js.cancel()
	return js.scheduler.Shutdown()
}

// Register schedules job every interval. Overlapping runs are rescheduled
// rather than stacked.
func (js *JobScheduler) Register(job jobs.Job, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name())
	}
	return js.add(job.Name(), interval, gocron.NewTask(js.runner(job)))
}

func (js *JobScheduler) add(name string, interval time.Duration, task gocron.Task) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if _, exists := js.jobJobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	job, err := js.scheduler.NewJob(
		gocron.DurationJob(interval),
		task,
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", name, err)
	}

	js.jobJobs[name] = job
	js.intervals[name] = interval
	js.logger.Debug("added job", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

// RemoveJob removes a job from the scheduler
func (js *JobScheduler) RemoveJob(name string) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if job, exists := js.jobJobs[name]; exists {
		err := js.scheduler.RemoveJob(job.ID())
		delete(js.jobJobs, name)
		delete(js.intervals, name)
		return err
	}

	return nil
}

// RunNow triggers an immediate run outside the regular interval.
func (js *JobScheduler) RunNow(name string) error {
	js.mu.RLock()
	job, exists := js.jobJobs[name]
	js.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	return job.RunNow()
}

// JobStatus describes one scheduled job.
type JobStatus struct {
	Name     string     `json:"name"`
	Interval string     `json:"interval"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

// GetJobStatus returns information about scheduled jobs
func (js *JobScheduler) GetJobStatus() map[string]interface{} {
	js.mu.RLock()
	defer js.mu.RUnlock()

	names := make([]string, 0, len(js.jobJobs))
	for name := range js.jobJobs {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]JobStatus, 0, len(names))
	for _, name := range names {
		job := js.jobJobs[name]
		st := JobStatus{Name: name, Interval: js.intervals[name].String()}
		if t, err := job.LastRun(); err == nil && !t.IsZero() {
			st.LastRun = &t
		}
		if t, err := job.NextRun(); err == nil && !t.IsZero() {
			st.NextRun = &t
		}
		statuses = append(statuses, st)
	}

	return map[string]interface{}{
		"total_jobs": len(statuses),
		"jobs":       statuses,
	}
}

func (js *JobScheduler) runner(job jobs.Job) func() {
	name := job.Name()
	return func() {
		start := time.Now()
		if err := job.Run(js.ctx); err != nil {
			js.logger.Error("job failed", zap.String("job", name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
			return
		}
		js.logger.Debug("job finished", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	}
}

// cacheLocker implements gocron.Locker over the cache's owner-checked locks.
type cacheLocker struct {
	cache caching.CacheService
	owner string
	ttl   time.Duration
}

func (l *cacheLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	lockKey := "job:" + key
	ok, err := l.cache.AcquireLock(ctx, lockKey, l.owner, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errJobLockHeld
	}
	return &cacheLock{cache: l.cache, key: lockKey, owner: l.owner}, nil
}

type cacheLock struct {
	cache caching.CacheService
	key   string
	owner string
}

func (l *cacheLock) Unlock(ctx context.Context) error {
	return l.cache.ReleaseLock(ctx, l.key, l.owner)
}

// cronLogger adapts zap to gocron's key/value logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Debug(msg string, args ...any) { c.l.Debugw(msg, args...) }
func (c cronLogger) Info(msg string, args ...any)  { c.l.Infow(msg, args...) }
func (c cronLogger) Warn(msg string, args ...any)  { c.l.Warnw(msg, args...) }
func (c cronLogger) Error(msg string, args ...any) { c.l.Errorw(msg, args...) }
