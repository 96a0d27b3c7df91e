package reminder

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Action is what a cycle does when it fires.
type Action string

const (
	// ActionBroadcast sends the update request to every employee.
	ActionBroadcast Action = "broadcast"
	// ActionNudge sends a reminder to overdue employees only.
	ActionNudge Action = "nudge"
)

// ErrUnknownCycle is returned for a label that is not in the schedule.
var ErrUnknownCycle = errors.New("unknown reminder cycle")

// Cycle is one weekly trigger point, interpreted in the schedule's timezone.
type Cycle struct {
	Label   string       `json:"label"`
	Weekday time.Weekday `json:"weekday"`
	Hour    int          `json:"hour"`
	Minute  int          `json:"minute"`
	Action  Action       `json:"action"`
}

// NextFire returns the first instant strictly after t at which c fires.
func (c Cycle) NextFire(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, loc)
	for i := 0; i < 8; i++ {
		if candidate.Weekday() == c.Weekday && candidate.After(t) {
			return candidate
		}
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, c.Hour, c.Minute, 0, 0, loc)
	}
	return candidate
}

func (c Cycle) String() string {
	return fmt.Sprintf("%s (%s %s %02d:%02d)", c.Label, c.Action, c.Weekday, c.Hour, c.Minute)
}

// Schedule is the full reminder configuration.
type Schedule struct {
	Location          *time.Location
	Cycles            []Cycle
	BroadcastTemplate string
}

// Cycle returns the cycle with the given label.
func (s Schedule) Cycle(label string) (Cycle, error) {
	for _, c := range s.Cycles {
		if c.Label == label {
			return c, nil
		}
	}
	return Cycle{}, fmt.Errorf("%w: %q", ErrUnknownCycle, label)
}

// Next returns the cycle that fires first strictly after t.
func (s Schedule) Next(t time.Time) (Cycle, time.Time, bool) {
	var (
		best   Cycle
		bestAt time.Time
		found  bool
	)
	for _, c := range s.Cycles {
		at := c.NextFire(t, s.Location)
		if !found || at.Before(bestAt) || (at.Equal(bestAt) && c.Label < best.Label) {
			best, bestAt, found = c, at, true
		}
	}
	return best, bestAt, found
}

// Due returns every cycle sharing the earliest fire instant strictly after
// t, broadcasts first and then by label.
func (s Schedule) Due(t time.Time) ([]Cycle, time.Time) {
	var (
		due []Cycle
		at  time.Time
	)
	for _, c := range s.Cycles {
		next := c.NextFire(t, s.Location)
		switch {
		case len(due) == 0 || next.Before(at):
			due, at = []Cycle{c}, next
		case next.Equal(at):
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		bi, bj := due[i].Action == ActionBroadcast, due[j].Action == ActionBroadcast
		if bi != bj {
			return bi
		}
		return due[i].Label < due[j].Label
	})
	return due, at
}

var shortDays = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func dayLabel(d time.Weekday) string { return shortDays[d] }

// DefaultSchedule mirrors the organisation's working week: update requests
// at 18:00 Monday to Thursday and 13:00 on Friday, with follow-ups for
// overdue employees one hour later.
func DefaultSchedule(loc *time.Location) Schedule {
	s := Schedule{Location: loc, BroadcastTemplate: DefaultBroadcastTemplate}
	add := func(d time.Weekday, hour int) {
		s.Cycles = append(s.Cycles,
			Cycle{Label: dayLabel(d) + "-update", Weekday: d, Hour: hour, Action: ActionBroadcast},
			Cycle{Label: dayLabel(d) + "-followup", Weekday: d, Hour: hour + 1, Action: ActionNudge},
		)
	}
	for d := time.Monday; d <= time.Thursday; d++ {
		add(d, 18)
	}
	add(time.Friday, 13)
	return s
}

type scheduleFile struct {
	Timezone          string      `yaml:"timezone"`
	BroadcastTemplate string      `yaml:"broadcast_template"`
	Cycles            []cycleFile `yaml:"cycles"`
}

type cycleFile struct {
	Label  string   `yaml:"label"`
	Days   []string `yaml:"days"`
	At     string   `yaml:"at"`
	Action string   `yaml:"action"`
}

// LoadSchedule reads a YAML schedule file. An empty path returns the
// default schedule in defaultTZ.
func LoadSchedule(path, defaultTZ string) (Schedule, error) {
	if path == "" {
		loc, err := time.LoadLocation(defaultTZ)
		if err != nil {
			return Schedule{}, fmt.Errorf("loading timezone %q: %w", defaultTZ, err)
		}
		return DefaultSchedule(loc), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Schedule{}, fmt.Errorf("reading schedule: %w", err)
	}
	return ParseSchedule(data, defaultTZ)
}

// ParseSchedule decodes a YAML schedule. Each entry expands into one cycle
// per listed day, labelled "<day>-<label>".
func ParseSchedule(data []byte, defaultTZ string) (Schedule, error) {
	var f scheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Schedule{}, fmt.Errorf("parsing schedule: %w", err)
	}

	tz := f.Timezone
	if tz == "" {
		tz = defaultTZ
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Schedule{}, fmt.Errorf("loading timezone %q: %w", tz, err)
	}

	s := Schedule{Location: loc, BroadcastTemplate: f.BroadcastTemplate}
	if strings.TrimSpace(s.BroadcastTemplate) == "" {
		s.BroadcastTemplate = DefaultBroadcastTemplate
	}

	seen := make(map[string]bool)
	for i, cf := range f.Cycles {
		action := Action(strings.ToLower(cf.Action))
		if action != ActionBroadcast && action != ActionNudge {
			return Schedule{}, fmt.Errorf("cycle %d (%s): invalid action %q", i, cf.Label, cf.Action)
		}
		if cf.Label == "" {
			return Schedule{}, fmt.Errorf("cycle %d: missing label", i)
		}
		var hour, minute int
		if _, err := fmt.Sscanf(cf.At, "%d:%d", &hour, &minute); err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return Schedule{}, fmt.Errorf("cycle %s: invalid time %q, want HH:MM", cf.Label, cf.At)
		}
		if len(cf.Days) == 0 {
			return Schedule{}, fmt.Errorf("cycle %s: no days", cf.Label)
		}
		for _, day := range cf.Days {
			wd, err := parseWeekday(day)
			if err != nil {
				return Schedule{}, fmt.Errorf("cycle %s: %w", cf.Label, err)
			}
			label := dayLabel(wd) + "-" + cf.Label
			if seen[label] {
				return Schedule{}, fmt.Errorf("duplicate cycle %q", label)
			}
			seen[label] = true
			s.Cycles = append(s.Cycles, Cycle{Label: label, Weekday: wd, Hour: hour, Minute: minute, Action: action})
		}
	}
	if len(s.Cycles) == 0 {
		return Schedule{}, errors.New("schedule has no cycles")
	}

	sort.SliceStable(s.Cycles, func(i, j int) bool {
		a, b := s.Cycles[i], s.Cycles[j]
		if a.Weekday != b.Weekday {
			return a.Weekday < b.Weekday
		}
		return a.Hour*60+a.Minute < b.Hour*60+b.Minute
	})
	return s, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, short := range shortDays {
		if s == short || s == strings.ToLower(time.Weekday(i).String()) {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("invalid day %q", s)
}
