package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// DefaultTick is how often daily jobs are re-checked as a catch-up for a
// missed cron fire.
const DefaultTick = 60 * time.Second

type Service struct {
	storePath string
	loc       *time.Location
	tick      time.Duration
	now       func() time.Time

	mu       sync.Mutex
	jobs     []Job
	state    map[string]JobState
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
}

func NewService(storePath string, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		storePath: storePath,
		loc:       loc,
		tick:      DefaultTick,
		now:       time.Now,
		state:     make(map[string]JobState),
		entryMap:  make(map[string]rcron.EntryID),
	}
}

// AddDaily registers fn to run once per calendar day at "HH:MM" local time.
func (s *Service) AddDaily(name, at string, fn RunFunc) error {
	if _, _, err := ParseClock(at); err != nil {
		return fmt.Errorf("add daily job %s: %w", name, err)
	}
	return s.add(Job{Name: name, Schedule: Schedule{Kind: KindDaily, At: at}, Run: fn})
}

// AddEvery registers fn to run at a fixed interval.
func (s *Service) AddEvery(name string, every time.Duration, fn RunFunc) error {
	if every < time.Second {
		return fmt.Errorf("add job %s: interval %v too short", name, every)
	}
	return s.add(Job{Name: name, Schedule: Schedule{Kind: KindEvery, Every: every}, Run: fn})
}

func (s *Service) add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("add job %s: nil run func", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return fmt.Errorf("add job %s: duplicate name", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	if s.cron != nil {
		s.registerJob(job)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	if err := s.load(); err != nil {
		log.Printf("[cron] warning: failed to load state: %v", err)
	}

	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = rcron.New(rcron.WithSeconds(), rcron.WithLocation(s.loc))
	for _, job := range s.jobs {
		s.registerJob(job)
	}
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", n)

	go s.tickLoop(runCtx)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

// registerJob must be called with s.mu held.
func (s *Service) registerJob(job Job) {
	var spec string
	switch job.Schedule.Kind {
	case KindDaily:
		h, m, _ := ParseClock(job.Schedule.At)
		spec = fmt.Sprintf("0 %d %d * * *", m, h)
	case KindEvery:
		spec = "@every " + job.Schedule.Every.String()
	default:
		log.Printf("[cron] unknown schedule kind %q for %s", job.Schedule.Kind, job.Name)
		return
	}

	id, err := s.cron.AddFunc(spec, func() {
		s.fire(job)
	})
	if err != nil {
		log.Printf("[cron] failed to register job %s (%s): %v", job.Name, spec, err)
		return
	}
	s.entryMap[job.Name] = id
}

func (s *Service) fire(job Job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if job.Schedule.Kind == KindDaily {
		s.executeDaily(ctx, job, s.now())
		return
	}
	s.executeJob(ctx, job)
}

// executeDaily runs job unless it already ran on now's local date. The latch
// is set before running so concurrent fires for the same day collapse.
func (s *Service) executeDaily(ctx context.Context, job Job, now time.Time) bool {
	today := now.In(s.loc).Format("2006-01-02")

	s.mu.Lock()
	st := s.state[job.Name]
	if st.LastRunDate == today {
		s.mu.Unlock()
		return false
	}
	st.LastRunDate = today
	s.state[job.Name] = st
	_ = s.save()
	s.mu.Unlock()

	s.executeJob(ctx, job)
	return true
}

func (s *Service) executeJob(ctx context.Context, job Job) {
	log.Printf("[cron] executing job %s", job.Name)

	result, err := s.safeRun(ctx, job)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[job.Name]
	st.LastRunAtMs = s.now().UnixMilli()
	if err != nil {
		st.LastStatus = "error"
		st.LastError = err.Error()
		log.Printf("[cron] job %s error: %v", job.Name, err)
	} else {
		st.LastStatus = "ok"
		st.LastError = ""
		log.Printf("[cron] job %s result: %s", job.Name, truncate(result, 100))
	}
	s.state[job.Name] = st
	_ = s.save()
}

func (s *Service) safeRun(ctx context.Context, job Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkDaily(ctx, s.now())
		case <-ctx.Done():
			return
		}
	}
}

// checkDaily fires any daily job whose trigger time has passed within the
// current trigger hour and that has not yet run today.
func (s *Service) checkDaily(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []Job
	for _, job := range s.jobs {
		if job.Schedule.Kind == KindDaily && s.dueLocked(job, now) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.executeDaily(ctx, job, now)
	}
}

func (s *Service) dueLocked(job Job, now time.Time) bool {
	h, m, err := ParseClock(job.Schedule.At)
	if err != nil {
		return false
	}
	local := now.In(s.loc)
	if local.Hour() != h || local.Minute() < m {
		return false
	}
	return s.state[job.Name].LastRunDate != local.Format("2006-01-02")
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[cron] stopped")
}

// JobStatus is a read-only view for status reporting.
type JobStatus struct {
	Name     string
	Schedule Schedule
	State    JobState
}

func (s *Service) ListJobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{Name: j.Name, Schedule: j.Schedule, State: s.state[j.Name]})
	}
	return out
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	state := make(map[string]JobState)
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

func (s *Service) save() error {
	if s.storePath == "" {
		return nil
	}
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
