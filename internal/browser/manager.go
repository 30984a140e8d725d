// Package browser manages the shared headless-Chrome resource and the
// disposable page handles derived from it.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/regdata/harvester/internal/harvest"
)

// State tracks the manager lifecycle.
type State int

// Manager states, in order.
const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

// Config controls the shared browser resource.
type Config struct {
	Headless          bool          `mapstructure:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	// UserAgentsFile optionally points at a newline-delimited UA pool;
	// lines starting with # are ignored. Falls back to built-in defaults.
	UserAgentsFile string `mapstructure:"user_agents_file"`
	// StealthScript is JavaScript evaluated on every new document before
	// any page script runs.
	StealthScript string `mapstructure:"-"`
	StealthFile   string `mapstructure:"stealth_file"`
}

// Manager owns one exec allocator and one browser context shared by every
// page in the process. Pages derived from it are independent; closing a
// page never closes the shared context.
type Manager struct {
	mu          sync.Mutex
	state       State
	cfg         Config
	userAgents  []string
	stealth     string
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	logger      *zap.Logger
}

// NewManager creates an uninitialized Manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Initialize acquires the allocator and shared browser context. It is safe
// to call again after a failed attempt; a second call on a Ready manager is
// a no-op. Partial acquisitions are rolled back on error so the manager
// never ends up half-initialized.
func (m *Manager) Initialize(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateReady:
		m.logger.Debug("browser manager already initialized")
		return nil
	case StateClosed:
		return fmt.Errorf("browser manager is closed")
	case StateInitializing:
		return fmt.Errorf("browser manager initialization already in progress")
	}
	m.state = StateInitializing

	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}

	uas, err := loadUserAgents(cfg.UserAgentsFile, m.logger)
	if err != nil {
		m.state = StateUninitialized
		return fmt.Errorf("load user agents: %w", err)
	}

	stealth := cfg.StealthScript
	if stealth == "" && cfg.StealthFile != "" {
		stealth, err = loadStealthScript(cfg.StealthFile, m.logger)
		if err != nil {
			m.state = StateUninitialized
			return fmt.Errorf("load stealth script: %w", err)
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserStop := chromedp.NewContext(allocCtx)

	m.cfg = cfg
	m.userAgents = uas
	m.stealth = stealth
	m.allocCtx = allocCtx
	m.allocCancel = allocCancel
	m.browserCtx = browserCtx
	m.browserStop = browserStop
	m.state = StateReady

	m.logger.Info("browser manager initialized",
		zap.Bool("headless", cfg.Headless),
		zap.Duration("nav_timeout", cfg.NavigationTimeout),
		zap.Int("user_agents", len(uas)),
	)
	return nil
}

// Page derives a disposable page handle from the shared browser context.
// Fails with harvest.ErrNotInitialized before a successful Initialize.
func (m *Manager) Page(ctx context.Context) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return nil, harvest.ErrNotInitialized
	}

	pageCtx, cancel := chromedp.NewContext(m.browserCtx)
	return &Page{
		ctx:        pageCtx,
		cancel:     cancel,
		parent:     ctx,
		navTimeout: m.cfg.NavigationTimeout,
		userAgent:  m.pickUserAgentLocked(),
		stealth:    m.stealth,
		logger:     m.logger,
	}, nil
}

// UserAgent returns a random entry from the pool.
func (m *Manager) UserAgent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pickUserAgentLocked()
}

// Close tears down the shared context and allocator. It is idempotent and
// safe to call even if initialization partially failed: whatever was
// actually acquired is released.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return
	}
	if m.browserStop != nil {
		m.browserStop()
		m.browserStop = nil
	}
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
	}
	if m.state == StateReady {
		m.logger.Info("browser manager closed")
	}
	m.state = StateClosed
}

// StateFor reports the current lifecycle state.
func (m *Manager) StateFor() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
