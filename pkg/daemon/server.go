package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/logging"
	"github.com/entrhq/pw/pkg/procutil"
	"github.com/entrhq/pw/pkg/types"
	"github.com/entrhq/pw/pkg/version"
)

// DefaultMaxConnections caps concurrent client connections.
const DefaultMaxConnections = 64

// Starter launches a pooled browser on a given port.
type Starter interface {
	Start(ctx context.Context, kind types.BrowserKind, headless bool, port int) (Instance, *engine.Process, error)
}

// EngineStarter launches chromium with a debugging port and holds an
// engine connection to it for as long as it is pooled.
type EngineStarter struct {
	engine   engine.Engine
	launcher engine.Launcher
	dataRoot string
}

// NewEngineStarter creates a starter. Each pooled browser gets its own
// user data directory under dataRoot.
func NewEngineStarter(eng engine.Engine, launcher engine.Launcher, dataRoot string) *EngineStarter {
	return &EngineStarter{engine: eng, launcher: launcher, dataRoot: dataRoot}
}

// Start implements Starter.
func (s *EngineStarter) Start(ctx context.Context, kind types.BrowserKind, headless bool, port int) (Instance, *engine.Process, error) {
	proc, err := s.launcher.Launch(ctx, engine.LaunchSpec{
		Headless:    headless,
		Port:        port,
		UserDataDir: filepath.Join(s.dataRoot, fmt.Sprintf("chromium-%d", port)),
	})
	if err != nil {
		return nil, nil, err
	}

	browser, err := s.engine.Connect(ctx, proc.Endpoint, proc.PID)
	if err != nil {
		_ = procutil.TerminateByPID(proc.PID)
		return nil, nil, err
	}
	return browser, proc, nil
}

// Server is the browser pool daemon. The pool map is guarded by its own
// lock, held only for map access; engine work (launch, close) is
// serialized by engineMu so list and ping never wait on a slow spawn.
type Server struct {
	pool      *Pool
	starter   Starter
	engineMu  sync.Mutex
	maxConns  int
	startedAt time.Time
	logger    *logging.Logger

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPool replaces the default pool.
func WithPool(p *Pool) ServerOption {
	return func(s *Server) { s.pool = p }
}

// WithMaxConnections caps concurrent client connections.
func WithMaxConnections(n int) ServerOption {
	return func(s *Server) { s.maxConns = n }
}

// WithServerLogger sets the logger.
func WithServerLogger(l *logging.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a daemon server.
func NewServer(starter Starter, opts ...ServerOption) *Server {
	s := &Server{
		pool:      NewPool(DefaultFirstPort, DefaultLastPort, engine.PortAvailable),
		starter:   starter,
		maxConns:  DefaultMaxConnections,
		startedAt: time.Now().UTC(),
		shutdown:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen creates the unix socket at path with owner-only permissions.
// A leftover socket file is replaced unless a live daemon answers on it.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		conn.Close()
		return nil, fmt.Errorf("a daemon is already listening on %s", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return listener, nil
}

// Serve accepts connections until ctx ends or a shutdown request arrives,
// then closes every pooled browser.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	listener = netutil.LimitListener(listener, s.maxConns)

	go func() {
		select {
		case <-ctx.Done():
		case <-s.shutdown:
		}
		listener.Close()
	}()

	// Engine work must finish even if the requesting client hangs up
	workCtx := context.WithoutCancel(ctx)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.stopping(ctx) {
				break
			}
			s.logger.Warnf("failed to accept connection: %v", err)
			continue
		}
		go s.handleConnection(workCtx, conn)
	}

	return s.closeAll()
}

func (s *Server) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// Shutdown stops Serve. Safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
}

// Done is closed once shutdown has been requested.
func (s *Server) Done() <-chan struct{} {
	return s.shutdown
}

// handleConnection reads requests until the client hangs up. Each request
// runs in its own goroutine; responses share the encoder under a mutex.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)
	var encMu sync.Mutex
	var wg sync.WaitGroup

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			break
		}

		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			resp := s.Handle(ctx, req)

			encMu.Lock()
			if err := encoder.Encode(resp); err != nil {
				s.logger.Debugf("client went away before %s response: %v", req.Method, err)
			}
			encMu.Unlock()

			if req.Method == MethodShutdown && resp.OK {
				s.Shutdown()
			}
		}(req)
	}

	wg.Wait()
}

// Handle executes one request.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return dataResponse(req.ID, PingResult{
			Version:   version.Version,
			PID:       os.Getpid(),
			Browsers:  len(s.pool.List()),
			StartedAt: s.startedAt,
		})
	case MethodSpawn:
		return s.handleSpawn(ctx, req)
	case MethodList:
		return dataResponse(req.ID, s.pool.List())
	case MethodKill:
		return s.handleKill(req)
	case MethodShutdown:
		if err := s.closeAll(); err != nil {
			s.logger.Warnf("errors closing browsers during shutdown: %v", err)
		}
		return dataResponse(req.ID, map[string]bool{"stopping": true})
	}
	return errorResponse(req.ID, types.NewError(types.CodeInvalidInput, "unknown method %q", req.Method))
}

func (s *Server) handleSpawn(ctx context.Context, req Request) Response {
	var (
		kindName string
		headless = true
		port     int
	)
	if err := req.param(0, &kindName, true); err != nil {
		return errorResponse(req.ID, err)
	}
	if err := req.param(1, &headless, false); err != nil {
		return errorResponse(req.ID, err)
	}
	if err := req.param(2, &port, false); err != nil {
		return errorResponse(req.ID, err)
	}

	kind, err := types.ParseBrowserKind(kindName)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if kind != types.BrowserChromium {
		return errorResponse(req.ID, types.NewError(types.CodeInvalidInput,
			"daemon-managed browsers currently require chromium (got %s)", kind))
	}

	port, err = s.pool.Reserve(port)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	s.engineMu.Lock()
	instance, proc, err := s.starter.Start(ctx, kind, headless, port)
	s.engineMu.Unlock()
	if err != nil {
		s.pool.Abandon(port)
		s.logger.Errorf("spawn on port %d failed: %v", port, err)
		return errorResponse(req.ID, err)
	}

	info := BrowserInfo{
		Port:      port,
		Browser:   kind,
		Headless:  headless,
		PID:       proc.PID,
		Endpoint:  proc.Endpoint,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.pool.Commit(info, instance); err != nil {
		s.engineMu.Lock()
		closeErr := instance.Close()
		s.engineMu.Unlock()
		s.logger.Warnf("closed browser on port %d spawned during shutdown (close error: %v)", port, closeErr)
		return errorResponse(req.ID, err)
	}
	s.logger.Infof("spawned %s pid=%d on port %d", kind, proc.PID, port)
	return dataResponse(req.ID, info)
}

func (s *Server) handleKill(req Request) Response {
	var port int
	if err := req.param(0, &port, true); err != nil {
		return errorResponse(req.ID, err)
	}

	instance, info, ok := s.pool.Remove(port)
	if !ok {
		return errorResponse(req.ID, types.NewError(types.CodeInvalidInput, "no browser on port %d", port))
	}

	s.engineMu.Lock()
	err := instance.Close()
	s.engineMu.Unlock()
	if err != nil {
		s.logger.Warnf("closing browser on port %d: %v", port, err)
	}

	s.logger.Infof("killed browser on port %d", port)
	return dataResponse(req.ID, info)
}

func (s *Server) closeAll() error {
	instances := s.pool.Drain()

	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	var errs []error
	for _, instance := range instances {
		if err := instance.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
