// Package schedule implements the agent scheduler (spec.md C13): parsing
// the interval/cron/daily schedule grammar and ticking once a second to
// dispatch due agent runs. Grounded on the original Python
// source_agent_scheduler.py/source_agent_manager.py pairing (the
// `schedule` library's every-second poll loop plus the manager's
// run_agent/stop_agent worker bookkeeping), reimplemented as one Go type
// rather than two cooperating modules since Go has no reason to split
// "compute when" from "track running workers" across files the way the
// Python did.
package schedule

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

// Kind identifies which of the three schedule grammars a Spec parsed.
type Kind int

const (
	KindInterval Kind = iota
	KindCron
	KindDaily
)

// Spec is a parsed schedule, able to compute its own next fire time.
type Spec struct {
	Kind     Kind
	raw      string
	interval time.Duration
	cronSpec cron.Schedule
	dailyAt  time.Duration // offset since local midnight
}

var intervalPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse parses one of the three grammars defined in spec.md §4.13:
//
//	interval:<N><s|m|h|d>
//	cron:<min> <hour> <day> <month> <dow>   (month must be "*")
//	daily:HH:MM
func Parse(schedule string) (*Spec, error) {
	switch {
	case strings.HasPrefix(schedule, "interval:"):
		return parseInterval(schedule)
	case strings.HasPrefix(schedule, "cron:"):
		return parseCron(schedule)
	case strings.HasPrefix(schedule, "daily:"):
		return parseDaily(schedule)
	default:
		return nil, rerr.New("schedule.Parse", rerr.ScheduleInvalid, fmt.Errorf("unrecognized schedule grammar %q", schedule))
	}
}

func parseInterval(schedule string) (*Spec, error) {
	body := strings.TrimSpace(strings.TrimPrefix(schedule, "interval:"))
	m := intervalPattern.FindStringSubmatch(body)
	if m == nil {
		return nil, rerr.New("schedule.parseInterval", rerr.ScheduleInvalid, fmt.Errorf("invalid interval %q", body))
	}
	n, _ := strconv.Atoi(m[1])
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	return &Spec{Kind: KindInterval, raw: schedule, interval: time.Duration(n) * unit}, nil
}

func parseCron(schedule string) (*Spec, error) {
	body := strings.TrimSpace(strings.TrimPrefix(schedule, "cron:"))
	fields := strings.Fields(body)
	if len(fields) != 5 {
		return nil, rerr.New("schedule.parseCron", rerr.ScheduleInvalid, fmt.Errorf("cron expression %q must have 5 fields", body))
	}
	month := fields[3]
	if month != "*" {
		return nil, rerr.New("schedule.parseCron", rerr.ScheduleInvalid, fmt.Errorf("monthly cron schedules are not supported, month field must be \"*\", got %q", month))
	}
	sched, err := cronParser.Parse(body)
	if err != nil {
		return nil, rerr.New("schedule.parseCron", rerr.ScheduleInvalid, fmt.Errorf("parse cron %q: %w", body, err))
	}
	return &Spec{Kind: KindCron, raw: schedule, cronSpec: sched}, nil
}

func parseDaily(schedule string) (*Spec, error) {
	body := strings.TrimSpace(strings.TrimPrefix(schedule, "daily:"))
	parts := strings.Split(body, ":")
	if len(parts) != 2 {
		return nil, rerr.New("schedule.parseDaily", rerr.ScheduleInvalid, fmt.Errorf("invalid daily time %q", body))
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, rerr.New("schedule.parseDaily", rerr.ScheduleInvalid, fmt.Errorf("invalid daily time %q", body))
	}
	return &Spec{Kind: KindDaily, raw: schedule, dailyAt: time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute}, nil
}

// Next returns the next fire time strictly after `after`.
func (s *Spec) Next(after time.Time) time.Time {
	switch s.Kind {
	case KindInterval:
		return after.Add(s.interval)
	case KindCron:
		return s.cronSpec.Next(after)
	case KindDaily:
		midnight := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, after.Location())
		next := midnight.Add(s.dailyAt)
		if !next.After(after) {
			next = next.Add(24 * time.Hour)
		}
		return next
	default:
		return after
	}
}

func (s *Spec) String() string { return s.raw }

// RunFunc executes one agent run. It is supplied by the ingestion
// manager (C14), which knows how to invoke the runner, chunk documents
// and write them to the store.
type RunFunc func(ctx context.Context, agentID string) error

type entry struct {
	spec    *Spec
	nextRun time.Time
}

// Scheduler owns the one-second tick loop and the run_agent/stop_agent
// worker bookkeeping described in spec.md §4.13.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	running map[string]struct{}

	run     RunFunc
	sem     chan struct{}
	wg      sync.WaitGroup
	ticker  *time.Ticker
	stopCh  chan struct{}
	stopped bool
}

// New builds a Scheduler. maxJobs bounds the number of concurrently
// running agent jobs (spec.md §5's `max_jobs`, default 5).
func New(run RunFunc, maxJobs int) *Scheduler {
	if maxJobs <= 0 {
		maxJobs = 5
	}
	return &Scheduler{
		entries: make(map[string]*entry),
		running: make(map[string]struct{}),
		run:     run,
		sem:     make(chan struct{}, maxJobs),
	}
}

// Schedule registers (or replaces) the schedule for agentID. Passing an
// empty string removes the schedule.
func (s *Scheduler) Schedule(agentID, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schedule == "" {
		delete(s.entries, agentID)
		return nil
	}
	spec, err := Parse(schedule)
	if err != nil {
		return err
	}
	s.entries[agentID] = &entry{spec: spec, nextRun: spec.Next(time.Now())}
	return nil
}

// Unschedule removes agentID from the tick loop without touching any
// in-flight run.
func (s *Scheduler) Unschedule(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, agentID)
}

// Start begins the one-second tick loop. It returns immediately; the
// loop runs in its own goroutine until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		return
	}
	s.ticker = time.NewTicker(time.Second)
	s.stopCh = make(chan struct{})
	ticker := s.ticker
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case now := <-ticker.C:
				s.tick(ctx, now)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	var due []string
	s.mu.Lock()
	for agentID, e := range s.entries {
		if !now.Before(e.nextRun) {
			due = append(due, agentID)
			e.nextRun = e.spec.Next(now)
		}
	}
	s.mu.Unlock()

	for _, agentID := range due {
		if _, err := s.RunAgent(ctx, agentID, false); err != nil {
			// AlreadyRunning from a tick just means the prior run hasn't
			// finished yet; nothing else to do until the next tick.
			continue
		}
	}
}

// Stop halts the tick loop and waits up to a 2-second grace period for
// in-flight jobs to finish, per spec.md §4.13.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.ticker != nil {
		s.ticker.Stop()
	}
	stopCh := s.stopCh
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

// RunAgent dispatches one run of agentID. When sync is false it spawns a
// worker and returns immediately with a generated job id; re-entrant
// runs of an already-running agent are rejected with AlreadyRunning.
func (s *Scheduler) RunAgent(ctx context.Context, agentID string, sync bool) (string, error) {
	s.mu.Lock()
	if _, ok := s.running[agentID]; ok {
		s.mu.Unlock()
		return "", rerr.New("schedule.RunAgent", rerr.AlreadyRunning, fmt.Errorf("agent %s is already running", agentID))
	}
	s.running[agentID] = struct{}{}
	s.mu.Unlock()

	jobID := fmt.Sprintf("job_%s_%d", agentID, time.Now().UnixNano())

	execute := func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, agentID)
			s.mu.Unlock()
		}()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		_ = s.run(ctx, agentID)
	}

	if sync {
		execute()
		return jobID, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		execute()
	}()
	return jobID, nil
}

// StopAgent is advisory: it forgets the running-worker handle so a new
// run can be dispatched, but cannot interrupt an in-flight HTTP read
// already underway inside the runner (spec.md §4.13).
func (s *Scheduler) StopAgent(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[agentID]; !ok {
		return false
	}
	delete(s.running, agentID)
	return true
}

// IsRunning reports whether agentID currently has a worker in flight.
func (s *Scheduler) IsRunning(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[agentID]
	return ok
}
