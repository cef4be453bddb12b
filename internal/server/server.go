package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"studygroup-server/internal/chat"
	"studygroup-server/internal/config"
	"studygroup-server/internal/directory"
	"studygroup-server/internal/groups"
	"studygroup-server/internal/router"
)

type Server struct {
	cfg                config.Config
	directory          *directory.Directory
	registry           *groups.Registry
	channel            *chat.Channel
	router             *router.Router
	connectionManager  *ConnectionManager
	rateLimiter        *RateLimiter
	connectionHealth   *ConnectionHealth
	persistenceManager *PersistenceManager // nil when DATABASE_URL is unset

	tasksMu     sync.Mutex
	tasks       *errgroup.Group
	cancelTasks context.CancelFunc
}

// NewServer builds the stores, wires them together and returns the http.Server to run.
// With DATABASE_URL set it also connects the archive and applies migrations.
func NewServer(ctx context.Context, cfg config.Config) (*Server, *http.Server, error) {
	var pm *PersistenceManager
	if cfg.DatabaseURL != "" {
		var err error
		pm, err = NewPersistenceManager(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("archive: %w", err)
		}
		log.Printf("Archive enabled, run id %s", pm.RunID())
	} else {
		log.Println("DATABASE_URL not set, running without archive")
	}

	s := newServer(cfg, pm)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer, nil
}

func newServer(cfg config.Config, pm *PersistenceManager) *Server {
	connectionManager := NewConnectionManager(cfg.OutboxSize, cfg.WriteTimeout)
	channel := chat.New(connectionManager)
	dir := directory.New(directory.WithBcryptCost(cfg.BcryptCost))
	registry := groups.New(
		groups.WithCapacity(cfg.GroupCapacity),
		groups.WithStartThreshold(cfg.GroupStartThreshold),
		groups.WithLogRegistrar(channel),
	)
	r := router.New(dir, registry, channel)
	channel.SetSubscribers(r)

	return &Server{
		cfg:                cfg,
		directory:          dir,
		registry:           registry,
		channel:            channel,
		router:             r,
		connectionManager:  connectionManager,
		rateLimiter:        NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow),
		connectionHealth:   NewConnectionHealth(),
		persistenceManager: pm,
	}
}

// Start launches the background tasks. They stop when ctx is done or Shutdown is called.
func (s *Server) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.idleSweepTask(ctx) })
	if s.persistenceManager != nil {
		g.Go(func() error { return s.periodicArchiveTask(ctx) })
		g.Go(func() error { return s.cleanupTask(ctx) })
	}

	s.tasksMu.Lock()
	s.tasks = g
	s.cancelTasks = cancel
	s.tasksMu.Unlock()
}

// Shutdown stops background tasks, writes a final archive snapshot and closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.tasksMu.Lock()
	tasks, cancel := s.tasks, s.cancelTasks
	s.tasksMu.Unlock()

	var taskErr error
	if cancel != nil {
		cancel()
		taskErr = tasks.Wait()
	}

	if s.persistenceManager != nil {
		saved, err := s.archiveAll(ctx)
		log.Printf("Final archive: %d groups saved", saved)
		if err != nil && taskErr == nil {
			taskErr = err
		}
		s.persistenceManager.Close()
	}

	closed := s.connectionManager.CloseAll("Server shutting down")
	log.Printf("Closed %d connections", closed)
	return taskErr
}

// archiveAll saves every group with its current log. Failures are logged per group and the
// first one is returned.
func (s *Server) archiveAll(ctx context.Context) (int, error) {
	var firstErr error
	saved := 0
	for _, g := range s.registry.Groups() {
		messages, err := s.channel.History(g.ID)
		if err != nil {
			log.Printf("Archive skipped group %d: %v", g.ID, err)
			continue
		}
		if err := s.persistenceManager.SaveGroup(ctx, g, messages); err != nil {
			log.Printf("Archive failed for group %d: %v", g.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		saved++
	}
	return saved, firstErr
}

func (s *Server) periodicArchiveTask(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ArchiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			saved, _ := s.archiveAll(ctx)
			log.Printf("Periodic archive completed: %d groups saved", saved)
		}
	}
}

// cleanupTask removes archived finished groups older than the retention period once an hour.
func (s *Server) cleanupTask(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deleted, err := s.persistenceManager.CleanupFinishedGroups(ctx, s.cfg.ArchiveRetention)
			if err != nil {
				log.Printf("Cleanup task failed: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("Cleanup task: deleted %d archived groups", deleted)
			}
		}
	}
}

// idleSweepTask closes connections that have been silent for longer than the idle timeout.
func (s *Server) idleSweepTask(ctx context.Context) error {
	interval := s.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepIdle()
		}
	}
}

func (s *Server) sweepIdle() int {
	s.rateLimiter.Cleanup()

	inactive := s.connectionHealth.GetInactiveConnections(s.cfg.IdleTimeout)
	for _, id := range inactive {
		log.Printf("Connection %s idle for more than %s, closing", id, s.cfg.IdleTimeout)
		s.router.Unbind(id)
		s.connectionHealth.RemoveConnection(id)
		s.connectionManager.Disconnect(id, "Idle timeout")
	}
	return len(inactive)
}
