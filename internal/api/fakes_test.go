package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kalambet/statusbot/internal/directory"
	"github.com/kalambet/statusbot/internal/ledger"
	"github.com/kalambet/statusbot/internal/pipeline"
	"github.com/kalambet/statusbot/internal/reminder"
	"github.com/kalambet/statusbot/internal/storage"
)

type fakeQueue struct {
	mu   sync.Mutex
	adms []pipeline.Admission
	err  error
}

func (q *fakeQueue) Submit(_ context.Context, adm pipeline.Admission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.adms = append(q.adms, adm)
	return nil
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.adms)
}

type fakeReminders struct {
	calls   []string
	overdue []reminder.OverdueEmployee
	err     error
}

func (f *fakeReminders) fire(action reminder.Action, label string) (reminder.Report, error) {
	f.calls = append(f.calls, string(action)+":"+label)
	if f.err != nil {
		return reminder.Report{}, f.err
	}
	if label != "mon-update" && label != "tue-followup" {
		return reminder.Report{}, reminder.ErrUnknownCycle
	}
	return reminder.Report{Cycle: label, Action: action, Targeted: 2, Sent: 2, Recipients: []string{"a@example.com", "b@example.com"}}, nil
}

func (f *fakeReminders) Broadcast(_ context.Context, label string) (reminder.Report, error) {
	return f.fire(reminder.ActionBroadcast, label)
}

func (f *fakeReminders) Nudge(_ context.Context, label string) (reminder.Report, error) {
	return f.fire(reminder.ActionNudge, label)
}

func (f *fakeReminders) Overdue() ([]reminder.OverdueEmployee, error) {
	return f.overdue, f.err
}

type fakeLedger struct {
	records []ledger.Record
	err     error
}

func (f fakeLedger) Snapshot() ([]ledger.Record, error) { return f.records, f.err }

type fakeSubmissions struct {
	subs     []storage.Submission
	err      error
	gotEmail string
	gotLimit int
}

func (f *fakeSubmissions) RecentSubmissions(email string, limit int) ([]storage.Submission, error) {
	f.gotEmail, f.gotLimit = email, limit
	return f.subs, f.err
}

var errBoom = errors.New("boom")

func sampleOverdue() []reminder.OverdueEmployee {
	at := time.Date(2026, 10, 20, 12, 0, 0, 0, time.UTC)
	return []reminder.OverdueEmployee{
		{Employee: directory.Employee{Email: "bob@example.com", Name: "Bob"}, LastUpdateAt: &at},
		{Employee: directory.Employee{Email: "carol@example.com", Name: "Carol"}},
	}
}
