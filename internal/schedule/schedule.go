// Package schedule fires recurring purchase jobs. Each job runs in its
// own goroutine on wall-clock times, so a slow campaign never delays a
// sibling schedule.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NextFunc computes the next firing after now. ok=false retires the job.
type NextFunc func(now time.Time) (time.Time, bool)

type Job struct {
	Name string
	Next NextFunc
	Run  func(ctx context.Context)
}

type Scheduler struct {
	log  *zap.Logger
	jobs []Job
	wg   sync.WaitGroup
}

func New(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log}
}

func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

func (s *Scheduler) Jobs() int {
	return len(s.jobs)
}

// Start launches one timer loop per job. It returns immediately; Wait
// blocks until ctx cancellation has drained every loop.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(j Job) {
			defer s.wg.Done()
			s.runJob(ctx, j)
		}(job)
	}
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, j Job) {
	for {
		next, ok := j.Next(time.Now())
		if !ok {
			s.log.Info("schedule retired", zap.String("job", j.Name))
			return
		}
		s.log.Info("next run scheduled",
			zap.String("job", j.Name),
			zap.Time("at", next),
		)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		j.Run(ctx)
	}
}

// Every fires on a fixed interval, starting one interval from now.
func Every(interval time.Duration) NextFunc {
	return func(now time.Time) (time.Time, bool) {
		return now.Add(interval), true
	}
}

// DailyAt fires every day at hh:mm local time.
func DailyAt(hour, minute int) NextFunc {
	return func(now time.Time) (time.Time, bool) {
		return nextDaily(now, hour, minute), true
	}
}

// WeeklyAt fires every week on the given weekday at hh:mm.
func WeeklyAt(day time.Weekday, hour, minute int) NextFunc {
	return func(now time.Time) (time.Time, bool) {
		return nextWeekly(now, day, hour, minute), true
	}
}

// MonthlyAt fires on the given day of the month at hh:mm. Months without
// that day are skipped.
func MonthlyAt(day, hour, minute int) NextFunc {
	return func(now time.Time) (time.Time, bool) {
		return nextMonthly(now, day, hour, minute), true
	}
}

// OnceAt fires a single time at the next hh:mm, then retires the job.
func OnceAt(hour, minute int) NextFunc {
	fired := false
	return func(now time.Time) (time.Time, bool) {
		if fired {
			return time.Time{}, false
		}
		fired = true
		return nextDaily(now, hour, minute), true
	}
}

func nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func nextWeekly(now time.Time, day time.Weekday, hour, minute int) time.Time {
	offset := (int(day) - int(now.Weekday()) + 7) % 7
	next := time.Date(now.Year(), now.Month(), now.Day()+offset, hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func nextMonthly(now time.Time, day, hour, minute int) time.Time {
	year, month := now.Year(), now.Month()
	for i := 0; i < 48; i++ {
		candidate := time.Date(year, month, day, hour, minute, 0, 0, now.Location())
		// time.Date normalizes Feb 31 into March; a shifted day means the
		// month does not have this date.
		if candidate.Day() == day && candidate.After(now) {
			return candidate
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return now.AddDate(0, 1, 0)
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time %q is not in HH:MM form", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time %q has an invalid hour", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q has an invalid minute", s)
	}
	return hour, minute, nil
}
