package services

import (
	"log"
	"log/slog"
	"sync"
	"time"

	"evetia/models"
	"evetia/monitoring"
)

// Sweeper is the part of SeatService the expiry loop depends on.
type Sweeper interface {
	SweepExpired(now time.Time) []models.SeatLock
}

// ExpirySweeper periodically reclaims expired seat locks.
type ExpirySweeper struct {
	seats    Sweeper
	interval time.Duration
	monitor  *monitoring.Monitor
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewExpirySweeper(seats Sweeper, interval time.Duration, monitor *monitoring.Monitor) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{
		seats:    seats,
		interval: interval,
		monitor:  monitor,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling it more than once has no effect.
func (s *ExpirySweeper) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
}

func (s *ExpirySweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("Seat lock sweeper started (interval %s)", s.interval)

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopChan:
			log.Println("Seat lock sweeper stopping")
			return
		}
	}
}

func (s *ExpirySweeper) sweep() {
	released := s.seats.SweepExpired(s.now())
	s.monitor.TrackSweep()
	if len(released) > 0 {
		slog.Info("Expired seat locks released", "count", len(released))
	}
}

// Stop ends the loop and waits for an in-flight sweep to finish.
// It is safe to call Stop more than once, and before Start.
func (s *ExpirySweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}
