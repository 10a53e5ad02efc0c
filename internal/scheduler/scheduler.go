// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

// Pruner deletes threads that have been idle for at least maxIdle.
type Pruner interface {
	PruneIdle(maxIdle time.Duration) ([]string, error)
}

type Scheduler struct {
	cron    *cron.Cron
	pruner  Pruner
	maxIdle time.Duration
}

// New registers an idle-thread prune job on cronExpr (standard five-field
// syntax or descriptors such as "@every 30m").
func New(pruner Pruner, cronExpr string, maxIdle time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		pruner:  pruner,
		maxIdle: maxIdle,
	}
	if _, err := s.cron.AddFunc(cronExpr, func() { s.prune() }); err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron %q: %w", cronExpr, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("scheduler started, pruning threads idle for %s", s.maxIdle)
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) prune() int {
	ids, err := s.pruner.PruneIdle(s.maxIdle)
	if err != nil {
		log.Printf("scheduler: pruning idle threads: %v", err)
		return 0
	}
	if len(ids) > 0 {
		log.Printf("scheduler: pruned %s idle %s", humanize.Comma(int64(len(ids))), plural(len(ids), "thread", "threads"))
	}
	return len(ids)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
