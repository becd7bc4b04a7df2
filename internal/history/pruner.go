package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HyphaGroup/plotd/internal/logger"
)

var ErrInvalidCron = errors.New("invalid cron expression")

// cronParser is configured for standard 5-field cron (minute hour day month weekday)
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates and parses a cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCron, err)
	}
	return sched, nil
}

// Pruner deletes old runs on a cron schedule
type Pruner struct {
	store     *Store
	schedule  cron.Schedule
	retention time.Duration
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPruner creates a pruner that keeps retention worth of history
func NewPruner(store *Store, expr string, retention time.Duration) (*Pruner, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pruner{
		store:     store,
		schedule:  sched,
		retention: retention,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start runs one prune immediately and then on every cron tick
func (p *Pruner) Start() {
	p.wg.Add(1)
	go p.loop()
	logger.Info("History pruner started (retention: %v)", p.retention)
}

// Stop cancels the pruner and waits for an in-flight prune
func (p *Pruner) Stop() {
	p.cancel()
	p.wg.Wait()
	logger.Info("History pruner stopped")
}

func (p *Pruner) loop() {
	defer p.wg.Done()

	p.PruneNow()
	for {
		next := p.schedule.Next(p.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-p.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.PruneNow()
		}
	}
}

// PruneNow deletes runs older than the retention window
func (p *Pruner) PruneNow() int64 {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.Prune(p.ctx, cutoff)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Error("Failed to prune history: %v", err)
		}
		return 0
	}
	if n > 0 {
		logger.Info("Pruned %d runs older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n
}
