// Package scheduler runs background jobs of the dashboard process on fixed
// schedules, one goroutine per due job, never overlapping runs of the same job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of background work.
type Job interface {
	// Name must be unique within a scheduler.
	Name() string

	// Run executes the job. ctx is cancelled when the scheduler stops.
	Run(ctx context.Context) error

	Description() string
}

// JobResult describes one execution of a job.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Manual      bool
	Err         error
}

// Success reports whether the run finished without error.
func (r JobResult) Success() bool { return r.Err == nil }

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobBusy                 = errors.New("job is already running")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config configures a Scheduler.
type Config struct {
	Logger *logger.Logger

	// Location used for next-run calculations. Defaults to UTC.
	Location *time.Location

	// How often due jobs are checked. Defaults to one second.
	TickInterval time.Duration

	// Number of results kept by History. Defaults to 100.
	MaxHistory int
}

// Scheduler owns a set of jobs and runs them when they are due.
type Scheduler struct {
	mu sync.RWMutex

	logger     *logger.Logger
	location   *time.Location
	tick       time.Duration
	maxHistory int

	jobs    map[string]*scheduledJob
	history []JobResult
	metrics Metrics

	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

type scheduledJob struct {
	job      Job
	schedule Schedule
	enabled  bool
	busy     bool
	lastRun  time.Time
	nextRun  time.Time
	runs     int64
	failures int64
}

// New creates a stopped Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 100
	}

	return &Scheduler{
		logger:     cfg.Logger.With(logger.Component("scheduler")),
		location:   cfg.Location,
		tick:       cfg.TickInterval,
		maxHistory: cfg.MaxHistory,
		jobs:       make(map[string]*scheduledJob),
		metrics:    Metrics{ByJob: make(map[string]JobMetrics)},
	}
}

// Register adds a job. Its first run is one schedule step from now.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	sj := &scheduledJob{
		job:      job,
		schedule: schedule,
		enabled:  true,
		nextRun:  schedule.Next(time.Now().In(s.location)),
	}
	s.jobs[name] = sj

	s.logger.Info("job registered",
		logger.String("job", name),
		logger.String("schedule", schedule.String()),
		logger.Time("next_run", sj.nextRun),
	)
	return nil
}

// SetEnabled pauses or resumes a job. Resuming reschedules it from now.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if enabled && !sj.enabled {
		sj.nextRun = sj.schedule.Next(time.Now().In(s.location))
	}
	sj.enabled = enabled
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start launches the scheduling loop. Jobs run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.startedAt = time.Now()
	count := len(s.jobs)
	s.mu.Unlock()

	s.logger.Info("scheduler started", logger.Int("jobs", count))

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("scheduler stopped", logger.Duration("uptime", time.Since(s.startedAt)))
	return nil
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.dispatchDue(now.In(s.location))
		}
	}
}

// dispatchDue claims every due, idle job and runs it in its own goroutine.
func (s *Scheduler) dispatchDue(now time.Time) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	due := make([]*scheduledJob, 0)
	for _, sj := range s.jobs {
		if sj.enabled && !sj.busy && !now.Before(sj.nextRun) {
			sj.busy = true
			sj.lastRun = now
			sj.nextRun = sj.schedule.Next(now)
			due = append(due, sj)
		}
	}
	ctx := s.ctx
	s.mu.Unlock()

	for _, sj := range due {
		s.wg.Add(1)
		go func(sj *scheduledJob) {
			defer s.wg.Done()
			s.execute(ctx, sj, false)
		}(sj)
	}
}

// RunNow executes a job immediately, outside its schedule. It fails with
// ErrJobBusy while a scheduled run of the same job is in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if sj.busy {
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobBusy, name)
	}
	sj.busy = true
	s.mu.Unlock()

	result := s.execute(ctx, sj, true)
	return result, result.Err
}

func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob, manual bool) JobResult {
	name := sj.job.Name()
	log := s.logger.With(logger.String("job", name), logger.Bool("manual", manual))

	started := time.Now()
	err := runSafely(ctx, sj.job)
	completed := time.Now()

	result := JobResult{
		JobName:     name,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
		Manual:      manual,
		Err:         err,
	}

	s.mu.Lock()
	sj.busy = false
	sj.runs++
	if err != nil {
		sj.failures++
	}
	s.metrics.record(result)
	s.history = append(s.history, result)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	s.mu.Unlock()

	if err != nil {
		log.Error("job failed", logger.Latency(result.Duration), logger.Err(err))
	} else {
		log.Debug("job completed", logger.Latency(result.Duration))
	}
	return result
}

// runSafely turns a panicking job into an error so the loop survives it.
func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo is a read-only view of a registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	Enabled     bool
	Running     bool
	LastRun     time.Time
	NextRun     time.Time
	Runs        int64
	Failures    int64
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		infos = append(infos, JobInfo{
			Name:        name,
			Description: sj.job.Description(),
			Schedule:    sj.schedule.String(),
			Enabled:     sj.enabled,
			Running:     sj.busy,
			LastRun:     sj.lastRun,
			NextRun:     sj.nextRun,
			Runs:        sj.runs,
			Failures:    sj.failures,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// History returns up to limit of the most recent results, oldest first.
// A non-positive limit returns everything kept.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]JobResult, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// JobMetrics aggregates executions of one job.
type JobMetrics struct {
	Executions    int64
	Failures      int64
	TotalDuration time.Duration
	LastExecution time.Time
}

// Metrics aggregates executions of all jobs.
type Metrics struct {
	Executions int64
	Failures   int64
	ByJob      map[string]JobMetrics
}

func (m *Metrics) record(r JobResult) {
	m.Executions++
	jm := m.ByJob[r.JobName]
	jm.Executions++
	jm.TotalDuration += r.Duration
	jm.LastExecution = r.CompletedAt
	if r.Err != nil {
		m.Failures++
		jm.Failures++
	}
	m.ByJob[r.JobName] = jm
}

// SuccessRate is the share of executions without error, or 0 before any run.
func (m Metrics) SuccessRate() float64 {
	if m.Executions == 0 {
		return 0
	}
	return float64(m.Executions-m.Failures) / float64(m.Executions)
}

// Metrics returns a copy of the current counters.
func (s *Scheduler) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Metrics{
		Executions: s.metrics.Executions,
		Failures:   s.metrics.Failures,
		ByJob:      make(map[string]JobMetrics, len(s.metrics.ByJob)),
	}
	for k, v := range s.metrics.ByJob {
		out.ByJob[k] = v
	}
	return out
}
