package statusserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/taskhub/hub/config"
	"github.com/taskhub/hub/internal/tlsutil"
)

// Manager owns the status server's HTTP listener lifecycle: Start is
// non-blocking, errors surface on Errors(), and Shutdown drains
// in-flight requests within the configured deadline. Top-level OS
// signal handling belongs to the hub orchestrator (via clock.Signals),
// not here — this type only manages the listener.
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	cfg      config.StatusConfig
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewManager wires handler behind cfg's timeouts.
func NewManager(handler http.Handler, cfg config.StatusConfig, logger *zap.Logger) *Manager {
	return &Manager{
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		errCh:  make(chan error, 1),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "status_server")),
	}
}

// Start binds the listener and begins serving in the background. When
// cfg carries both a cert and key file, the listener is wrapped in
// tlsutil's hardened TLS config (TLS 1.2+, AEAD-only ciphers); otherwise
// it serves plaintext.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("status server is closed")
	}
	if m.listener != nil {
		return fmt.Errorf("status server already started")
	}

	listener, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.cfg.Addr, err)
	}

	if m.cfg.TLSCertFile != "" && m.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.cfg.TLSCertFile, m.cfg.TLSKeyFile)
		if err != nil {
			listener.Close()
			return fmt.Errorf("load status server TLS cert: %w", err)
		}
		tlsCfg := tlsutil.DefaultTLSConfig()
		tlsCfg.Certificates = []tls.Certificate{cert}
		listener = tls.NewListener(listener, tlsCfg)
		m.logger.Info("starting status server", zap.String("addr", m.cfg.Addr), zap.Bool("tls", true))
	} else {
		m.logger.Info("starting status server", zap.String("addr", m.cfg.Addr), zap.Bool("tls", false))
	}

	m.listener = listener
	go m.serve(listener)
	return nil
}

func (m *Manager) serve(listener net.Listener) {
	if err := m.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		m.logger.Error("status server failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown gracefully drains connections within cfg.ShutdownTimeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("shutting down status server")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("status server shutdown failed", zap.Error(err))
		return err
	}
	m.listener = nil
	m.logger.Info("status server stopped")
	return nil
}

// Errors surfaces asynchronous listener errors (e.g. after a crash the
// hub orchestrator's control loop should observe and act on).
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr returns the configured listen address.
func (m *Manager) Addr() string {
	return m.cfg.Addr
}

// IsRunning reports whether the server has not yet been shut down.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}
