package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

var retentionLog = log.Sub("retention")

// Manager owns the API listener and the audit log retention loop.
type Manager struct {
	opts          Options
	retentionDays int

	httpServer *http.Server
	listener   net.Listener

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ManagerConfig configures Start.
type ManagerConfig struct {
	Listen        string
	RetentionDays int
	// CleanupInterval defaults to one hour.
	CleanupInterval time.Duration
}

// Start binds cfg.Listen and serves the API in the background.
func Start(opts Options, cfg ManagerConfig) (*Manager, error) {
	m := &Manager{
		opts:          opts,
		retentionDays: cfg.RetentionDays,
		stopChan:      make(chan struct{}),
	}

	if opts.Storage != nil && cfg.RetentionDays > 0 {
		if deleted, err := opts.Storage.CleanupOldData(context.Background(), cfg.RetentionDays); err != nil {
			retentionLog.Warn("Initial cleanup failed: %v", err)
		} else if deleted > 0 {
			retentionLog.Info("Initial cleanup: removed %d old records", deleted)
		}
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	m.listener = ln
	m.httpServer = &http.Server{
		Handler: NewAPIServer(opts).Handler(),
		// SECURITY: bounds slow-header clients
		ReadHeaderTimeout: 10 * time.Second,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("API server error: %v", err)
		}
	}()
	log.Info("Management API listening on %s", ln.Addr())

	if opts.Storage != nil && cfg.RetentionDays > 0 {
		interval := cfg.CleanupInterval
		if interval <= 0 {
			interval = time.Hour
		}
		m.wg.Add(1)
		go m.cleanupLoop(interval)
	}
	return m, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (m *Manager) Addr() net.Addr {
	return m.listener.Addr()
}

// cleanupLoop runs periodic data cleanup
func (m *Manager) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			if _, err := m.opts.Storage.CleanupOldData(context.Background(), m.retentionDays); err != nil {
				retentionLog.Warn("Periodic cleanup failed: %v", err)
			}
		}
	}
}

// Shutdown stops the listener and the cleanup loop. It does not close the
// storage, which belongs to the caller.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var err error
	m.stopOnce.Do(func() {
		close(m.stopChan)
		if m.httpServer != nil {
			if err = m.httpServer.Shutdown(ctx); err != nil {
				log.Error("API server shutdown error: %v", err)
			}
		}
		m.wg.Wait()
	})
	return err
}
