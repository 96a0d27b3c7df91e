// Package reminder fires weekly reminder cycles: broadcasts of the update
// request to every employee and targeted nudges to employees whose last
// update is older than the grace window.
//
// The scheduler keeps no record of what it already sent. A nudge is
// suppressed only by the ledger, so re-running a cycle inside the grace
// window never reaches an employee who has since updated.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/statusbot/internal/directory"
	"github.com/kalambet/statusbot/internal/ledger"
	"github.com/kalambet/statusbot/internal/metrics"
)

// Roster lists every employee.
type Roster interface {
	All() []directory.Employee
}

// Sender delivers a direct message to an employee by email.
type Sender interface {
	SendDirectMessage(ctx context.Context, email, text string) error
}

// Options tune a Scheduler.
type Options struct {
	GraceWindow time.Duration
	Concurrency int
	SendTimeout time.Duration
}

// Report summarises one cycle firing.
type Report struct {
	Cycle      string    `json:"cycle"`
	Action     Action    `json:"action"`
	FiredAt    time.Time `json:"fired_at"`
	Employees  int       `json:"employees"`
	Targeted   int       `json:"targeted"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Recipients []string  `json:"recipients"`
}

// OverdueEmployee is an employee a nudge would target now.
type OverdueEmployee struct {
	directory.Employee
	LastUpdateAt *time.Time `json:"last_update_at,omitempty"`
}

// Scheduler is safe for concurrent use. Firings of the same cycle are
// serialized; different cycles may run concurrently.
type Scheduler struct {
	schedule Schedule
	roster   Roster
	ledger   ledger.Reader
	sender   Sender
	opts     Options

	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Scheduler. Zero options default to a one hour grace
// window, four concurrent sends and a 30 second send timeout.
func New(schedule Schedule, roster Roster, lg ledger.Reader, sender Sender, opts Options) *Scheduler {
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = time.Hour
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if schedule.Location == nil {
		schedule.Location = time.UTC
	}
	if schedule.BroadcastTemplate == "" {
		schedule.BroadcastTemplate = DefaultBroadcastTemplate
	}
	return &Scheduler{
		schedule: schedule,
		roster:   roster,
		ledger:   lg,
		sender:   sender,
		opts:     opts,
		now:      time.Now,
		after:    time.After,
		logger:   slog.Default(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Schedule returns the configured schedule.
func (s *Scheduler) Schedule() Schedule { return s.schedule }

// Run fires cycles at their scheduled times until ctx is cancelled. Cycles
// sharing an instant all fire, and a cycle that came due while an earlier
// one was still sending fires as soon as that one returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.schedule.Cycles) == 0 {
		s.logger.Warn("reminder schedule is empty, scheduler idle")
		<-ctx.Done()
		return nil
	}

	// cursor only moves forward, so a wall clock stepping back cannot
	// refire a cycle.
	cursor := s.now()
	for {
		due, at := s.schedule.Due(cursor)
		s.logger.Debug("next reminder cycles", "cycles", len(due), "first", due[0].Label, "at", at)

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(at.Sub(s.now())):
		}
		cursor = at

		for _, c := range due {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := s.Fire(ctx, c, "timer"); err != nil {
				s.logger.Error("reminder cycle failed", "cycle", c.Label, "error", err)
			}
		}
	}
}

// Broadcast runs the broadcast action under the cycle's label.
func (s *Scheduler) Broadcast(ctx context.Context, label string) (Report, error) {
	c, err := s.schedule.Cycle(label)
	if err != nil {
		return Report{}, err
	}
	c.Action = ActionBroadcast
	return s.Fire(ctx, c, "manual")
}

// Nudge runs the targeted nudge action under the cycle's label.
func (s *Scheduler) Nudge(ctx context.Context, label string) (Report, error) {
	c, err := s.schedule.Cycle(label)
	if err != nil {
		return Report{}, err
	}
	c.Action = ActionNudge
	return s.Fire(ctx, c, "manual")
}

// Fire runs c's action once. Concurrent firings of the same label wait
// for each other. Once started, a firing is not cut short by ctx; each send
// is bounded by the send timeout instead.
func (s *Scheduler) Fire(ctx context.Context, c Cycle, trigger string) (Report, error) {
	ctx = context.WithoutCancel(ctx)
	lock := s.cycleLock(c.Label)
	lock.Lock()
	defer lock.Unlock()

	metrics.CycleFirings.WithLabelValues(c.Label, trigger).Inc()

	now := s.now()
	employees := s.roster.All()
	report := Report{Cycle: c.Label, Action: c.Action, FiredAt: now, Employees: len(employees)}

	type message struct {
		emp  directory.Employee
		text string
	}
	var batch []message
	switch c.Action {
	case ActionBroadcast:
		for _, emp := range employees {
			batch = append(batch, message{emp: emp, text: s.schedule.BroadcastTemplate})
		}
	case ActionNudge:
		overdue, err := s.overdueAt(employees, now)
		if err != nil {
			return report, err
		}
		for _, o := range overdue {
			batch = append(batch, message{emp: o.Employee, text: NudgeText(o.Name, c)})
		}
	default:
		return report, fmt.Errorf("cycle %s: unknown action %q", c.Label, c.Action)
	}
	report.Targeted = len(batch)

	var (
		mu      sync.Mutex
		g       errgroup.Group
		results = make([]bool, len(batch))
	)
	g.SetLimit(s.opts.Concurrency)
	for i, m := range batch {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
			defer cancel()
			if err := s.sender.SendDirectMessage(sendCtx, m.emp.Email, m.text); err != nil {
				s.logger.Warn("reminder delivery failed", "cycle", c.Label, "action", c.Action, "email", m.emp.Email, "error", err)
				metrics.RemindersTotal.WithLabelValues(string(c.Action), "failed").Inc()
				return nil
			}
			metrics.RemindersTotal.WithLabelValues(string(c.Action), "sent").Inc()
			mu.Lock()
			results[i] = true
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for i, ok := range results {
		if ok {
			report.Sent++
			report.Recipients = append(report.Recipients, batch[i].emp.Email)
		} else {
			report.Failed++
		}
	}

	s.logger.Info("reminder cycle fired",
		"cycle", c.Label, "action", c.Action, "trigger", trigger,
		"employees", report.Employees, "targeted", report.Targeted,
		"sent", report.Sent, "failed", report.Failed,
	)
	return report, nil
}

// Overdue lists the employees a nudge evaluated now would target.
func (s *Scheduler) Overdue() ([]OverdueEmployee, error) {
	return s.overdueAt(s.roster.All(), s.now())
}

func (s *Scheduler) overdueAt(employees []directory.Employee, now time.Time) ([]OverdueEmployee, error) {
	var out []OverdueEmployee
	for _, emp := range employees {
		last, ok, err := s.ledger.LastUpdate(emp.Email)
		if err != nil {
			return nil, fmt.Errorf("reading ledger for %s: %w", emp.Email, err)
		}
		if !ledger.IsOverdue(last, ok, now, s.opts.GraceWindow) {
			continue
		}
		o := OverdueEmployee{Employee: emp}
		if ok {
			t := last
			o.LastUpdateAt = &t
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *Scheduler) cycleLock(label string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[label]
	if !ok {
		l = &sync.Mutex{}
		s.locks[label] = l
	}
	return l
}
