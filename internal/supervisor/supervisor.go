// Package supervisor owns the downstream listening socket: acquiring the
// advisory lock that keeps two proxy instances from fighting over the same
// path, accepting client connections, dialing the upstream compositor once
// per client, and handing each pair off to a relay session.
package supervisor

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"code.hybscloud.com/wlappidproxy/internal/config"
	"code.hybscloud.com/wlappidproxy/internal/logging"
	"code.hybscloud.com/wlappidproxy/internal/relay"
	"code.hybscloud.com/wlappidproxy/internal/xerr"
)

// Supervisor owns the downstream socket and its lock file for the lifetime
// of one process.
type Supervisor struct {
	cfg      config.Config
	log      zerolog.Logger
	lock     *flock.Flock
	listener *net.UnixListener
}

// New acquires the lock sibling of cfg.DownstreamPath, unlinks any stale
// socket left behind by a previous unclean exit, and binds the listening
// socket. It returns an *xerr.Error on any startup failure.
func New(cfg config.Config, log zerolog.Logger) (*Supervisor, error) {
	if err := ensureLockFile(cfg.LockPath()); err != nil {
		return nil, xerr.Startup("failed to create downstream socket lock file", err)
	}
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, xerr.Startup("failed to acquire downstream socket lock", err)
	}
	if !locked {
		return nil, xerr.Startup("downstream socket is already in use by another proxy instance", nil)
	}

	if err := os.Remove(cfg.DownstreamPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = lock.Unlock()
		return nil, xerr.Startup("failed to remove stale downstream socket", err)
	}

	addr, err := net.ResolveUnixAddr("unix", cfg.DownstreamPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, xerr.Startup("failed to resolve downstream socket address", err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		_ = lock.Unlock()
		return nil, xerr.Startup("failed to bind downstream socket", err)
	}

	return &Supervisor{cfg: cfg, log: log, lock: lock, listener: listener}, nil
}

// Run accepts client connections until ctx is done or the listener fails. A
// failure on one client's connection never stops the accept loop; only a
// listener-level error or context cancellation does.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.cleanup()

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		downstream, err := s.listener.AcceptUnix()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return xerr.Startup("downstream accept failed", err)
		}
		go s.handle(downstream)
	}
}

func (s *Supervisor) handle(downstream *net.UnixConn) {
	connID := uuid.New().String()
	log := logging.WithConn(connID)

	conn, err := net.DialTimeout("unix", s.cfg.UpstreamPath, s.cfg.ConnectTimeout)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to upstream compositor")
		_ = downstream.Close()
		return
	}
	upstream, ok := conn.(*net.UnixConn)
	if !ok {
		log.Warn().Msg("upstream dial did not return a unix socket")
		_ = conn.Close()
		_ = downstream.Close()
		return
	}

	log.Debug().Msg("accepted client connection")
	session := relay.NewSession(s.cfg, log, downstream, upstream)
	session.Run()
}

// ensureLockFile creates the lock file with group-writable permissions if it
// does not already exist. flock.New opens with a mode of its own choosing, so
// the file must exist with the intended mode beforehand.
func ensureLockFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o660)
	if err != nil {
		return err
	}
	return f.Close()
}

// cleanup releases the lock and unlinks both the downstream socket and its
// lock sibling, so a clean exit leaves no filesystem residue behind.
func (s *Supervisor) cleanup() {
	_ = s.listener.Close()
	_ = os.Remove(s.cfg.DownstreamPath)
	_ = s.lock.Unlock()
	_ = os.Remove(s.cfg.LockPath())
}
