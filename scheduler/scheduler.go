package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"car_scrooper/config"
	"car_scrooper/models"
)

// Runner is the part of the orchestrator the scheduler drives
type Runner interface {
	RunAll(ctx context.Context) error
	HandleCommand(ctx context.Context, cmd *models.Command) error
}

// CommandQueue is where out-of-band commands are picked up from
type CommandQueue interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
}

type Scheduler struct {
	cfg          config.SchedulerConfig
	runner       Runner
	queue        CommandQueue
	cron         *cron.Cron
	ticker       *time.Ticker
	pollInterval time.Duration
	stopCh       chan struct{}
}

func New(cfg config.SchedulerConfig, runner Runner, queue CommandQueue) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		runner:       runner,
		queue:        queue,
		cron:         cron.New(),
		pollInterval: 2 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.queue != nil {
		go s.pollCommands(ctx)
	}

	if s.cfg.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() {
			if err := s.runner.RunAll(ctx); err != nil {
				log.Printf("Scheduled run error: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					if err := s.runner.RunAll(ctx); err != nil {
						log.Printf("Scheduled run error: %v", err)
					}
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only respond to commands and HTTP triggers")
	}

	return nil
}

// Stop halts scheduling. A run already in progress finishes on its own.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProcessCommands handles every pending command once. Commands are marked
// processed even when they fail so a bad command is not retried forever.
func (s *Scheduler) ProcessCommands(ctx context.Context) int {
	cmds, err := s.queue.GetPendingCommands()
	if err != nil {
		log.Printf("Error getting commands: %v", err)
		return 0
	}

	for i := range cmds {
		cmd := &cmds[i]
		log.Printf("Processing command: %s", cmd.Command)
		if err := s.runner.HandleCommand(ctx, cmd); err != nil {
			log.Printf("Command error: %v", err)
		}
		if err := s.queue.MarkCommandProcessed(cmd.ID); err != nil {
			log.Printf("Error marking command processed: %v", err)
		}
	}
	return len(cmds)
}
