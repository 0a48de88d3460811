// Package coordinator decides, once per process, how this process reaches
// the memory store: directly against the embedded database, as the HTTP
// server that owns it, or as a client of another process's server. The
// detection algorithm mirrors the reference port-probe/health-check flow.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Mode identifies how this process will reach the store.
type Mode string

const (
	ModeDirect     Mode = "direct"
	ModeHTTPServer Mode = "http_server"
	ModeHTTPClient Mode = "http_client"
)

// Config controls detection and optional auto-start behaviour.
type Config struct {
	Host           string
	Port           int
	AutoStart      bool
	ServerArgs     []string      // argv appended to os.Executable() when auto-starting
	LockDir        string        // directory holding the coordination lock file
	ProbeTimeout   time.Duration // per-attempt dial/HTTP timeout
	StartupTimeout time.Duration // total time to wait for an auto-started server to come up
}

func (c *Config) setDefaults() {
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 500 * time.Millisecond
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = 10 * time.Second
	}
}

// Detect runs the mode-detection algorithm once: probe the configured port;
// if something is listening and identifies itself as mnemo via /api/health,
// become an http_client. If nothing is listening and AutoStart is set, spawn
// a server process and poll until it is healthy, becoming http_client. If the
// spawn race is lost to another process, wait for that process's server to
// become healthy instead (http_client), or fall back to direct mode if it
// never does. If AutoStart is unset, fall back to direct mode.
func Detect(ctx context.Context, cfg Config) (Mode, error) {
	cfg.setDefaults()
	addr := net.JoinHostPort(cfg.Host, itoa(cfg.Port))

	if isMemoryServerRunning(ctx, addr, cfg.ProbeTimeout) {
		return ModeHTTPClient, nil
	}

	if !cfg.AutoStart {
		return ModeDirect, nil
	}

	if cfg.LockDir != "" {
		acquired, release, err := tryAcquireStartupLock(cfg.LockDir)
		if err != nil {
			log.Printf("coordinator: lock acquisition failed, falling back to direct mode: %v", err)
			return ModeDirect, nil
		}
		if !acquired {
			// Another process is already starting the server; wait for it
			// rather than racing a second instance onto the same port.
			if waitForHealth(ctx, addr, cfg.ProbeTimeout, cfg.StartupTimeout) {
				return ModeHTTPClient, nil
			}
			return ModeDirect, nil
		}
		defer release()
	}

	if err := spawnServer(cfg.ServerArgs); err != nil {
		log.Printf("coordinator: failed to auto-start server, falling back to direct mode: %v", err)
		return ModeDirect, nil
	}

	if waitForHealth(ctx, addr, cfg.ProbeTimeout, cfg.StartupTimeout) {
		return ModeHTTPClient, nil
	}

	log.Printf("coordinator: auto-started server did not become healthy within %s, falling back to direct mode", cfg.StartupTimeout)
	return ModeDirect, nil
}

// isPortInUse reports whether a TCP connection to addr succeeds.
func isPortInUse(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// isMemoryServerRunning checks that whatever is listening on addr is
// actually an mnemo server, not an unrelated process that happens to hold
// the port, by inspecting the /api/health payload's "service" field.
func isMemoryServerRunning(ctx context.Context, addr string, timeout time.Duration) bool {
	if !isPortInUse(addr, timeout) {
		return false
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+addr+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var payload struct {
		Service string `json:"service"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(payload.Service), "mnemo")
}

func waitForHealth(ctx context.Context, addr string, probeTimeout, overall time.Duration) bool {
	deadline := time.Now().Add(overall)
	for time.Now().Before(deadline) {
		if isMemoryServerRunning(ctx, addr, probeTimeout) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return false
}

func spawnServer(args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("coordinator: failed to resolve executable: %w", err)
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("coordinator: failed to start server process: %w", err)
	}
	// Intentionally not Wait()'d: the server outlives this call and this
	// process does not want to be its parent's reaper.
	go func() { _ = cmd.Wait() }()
	return nil
}

// tryAcquireStartupLock watches lockDir with fsnotify and attempts to
// exclusively create a coordinator.lock file, so a second process racing to
// auto-start backs off instead of spawning a competing server. The returned
// release func removes the lock; it and the watcher must be closed by the
// same goroutine that acquired them.
func tryAcquireStartupLock(lockDir string) (acquired bool, release func(), err error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return false, nil, err
	}
	lockPath := filepath.Join(lockDir, "coordinator.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil, nil
		}
		return false, nil, err
	}
	_ = f.Close()

	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		_ = watcher.Add(lockDir)
	}

	return true, func() {
		if watcher != nil {
			_ = watcher.Close()
		}
		_ = os.Remove(lockPath)
	}, nil
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
