// Package relay implements the two-directional message forwarding that is
// the core of this proxy: for each accepted client, one goroutine relays
// client->server requests and another relays server->client events, both
// sharing one object tracker and registry learner and tearing each other
// down on first error.
//
// Each loop is a small read->mutate->write pipeline, in the spirit of the
// teacher's own two-phase Forwarder, but blocking rather than driven by a
// non-blocking retry signal: internal/ancil waits out EAGAIN on the runtime's
// netpoller, so from a loop's point of view a read simply blocks the
// goroutine until a whole message (or end-of-stream) is available.
package relay

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"code.hybscloud.com/wlappidproxy/internal/ancil"
	"code.hybscloud.com/wlappidproxy/internal/config"
	"code.hybscloud.com/wlappidproxy/internal/objtab"
	"code.hybscloud.com/wlappidproxy/internal/wire"
	"code.hybscloud.com/wlappidproxy/internal/xerr"
)

// direction names the two relay loops, for logging only.
type direction string

const (
	directionClientToServer direction = "c->s"
	directionServerToClient direction = "s->c"
)

// Session ties one accepted client's two relay loops together: they share
// the object table and registry learner, and tearing down one socket pair
// forces the other loop's blocked read to return end-of-stream.
type Session struct {
	cfg config.Config
	log zerolog.Logger

	down *ancil.Conn // downstream: the client-facing socket
	up   *ancil.Conn // upstream: the real compositor socket

	table    *objtab.Table
	registry *objtab.Registry

	teardownOnce sync.Once
}

// NewSession constructs a session over an already-accepted client connection
// and an already-dialed upstream connection, both connected Unix domain
// stream sockets.
func NewSession(cfg config.Config, log zerolog.Logger, downstream, upstream *net.UnixConn) *Session {
	return &Session{
		cfg:      cfg,
		log:      log,
		down:     ancil.New(downstream),
		up:       ancil.New(upstream),
		table:    objtab.NewTable(),
		registry: objtab.NewRegistry(),
	}
}

// Run starts both relay loops and blocks until both have exited, which
// happens only after the connection has been fully torn down.
func (s *Session) Run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.clientToServer()
	}()
	go func() {
		defer wg.Done()
		s.serverToClient()
	}()
	wg.Wait()
}

// clientToServer relays one request at a time from the downstream client to
// the upstream compositor, rewriting xdg_toplevel.set_app_id requests on a
// tracked object and updating the object table as new objects are created.
func (s *Session) clientToServer() {
	defer s.teardown(nil)
	for {
		pkt, err := wire.ReadPacket(s.down)
		if err != nil {
			s.handleReadError(directionClientToServer, err)
			return
		}
		fds := s.down.PopFDs()

		action, err := objtab.ObserveClientRequest(s.table, s.registry, pkt)
		if err != nil {
			s.log.Warn().Err(err).Str("direction", string(directionClientToServer)).
				Uint32("id", pkt.ID).Uint16("opcode", pkt.Opcode).Msg("protocol decode error")
			ancil.CloseFDs(fds)
			s.teardown(xerr.Protocol("client request decode failed", err))
			return
		}

		rewritten := false
		if action == objtab.ActionRewriteAppID {
			pkt, err = rewriteSetAppID(s.cfg, pkt)
			if err != nil {
				s.log.Warn().Err(err).Msg("set_app_id rewrite failed")
				ancil.CloseFDs(fds)
				s.teardown(xerr.Protocol("set_app_id rewrite failed", err))
				return
			}
			rewritten = true
		}

		s.logPacket(directionClientToServer, pkt, len(fds), rewritten)

		encoded, err := wire.Encode(pkt)
		if err != nil {
			ancil.CloseFDs(fds)
			s.log.Warn().Err(err).Msg("encode failed")
			s.teardown(xerr.Protocol("client request encode failed", err))
			return
		}
		if _, err := s.up.WriteWithFDs(encoded, fds); err != nil {
			ancil.CloseFDs(fds)
			s.log.Warn().Err(err).Msg("upstream write failed")
			s.teardown(xerr.Protocol("upstream write failed", err))
			return
		}
		ancil.CloseFDs(fds)
	}
}

// serverToClient relays one event at a time from the upstream compositor to
// the downstream client, removing deleted object ids from the table and
// learning the xdg_wm_base global from wl_registry.global events.
func (s *Session) serverToClient() {
	defer s.teardown(nil)
	for {
		pkt, err := wire.ReadPacket(s.up)
		if err != nil {
			s.handleReadError(directionServerToClient, err)
			return
		}
		fds := s.up.PopFDs()

		if err := objtab.ObserveServerEvent(s.table, s.registry, pkt); err != nil {
			s.log.Warn().Err(err).Str("direction", string(directionServerToClient)).
				Uint32("id", pkt.ID).Uint16("opcode", pkt.Opcode).Msg("protocol decode error")
			ancil.CloseFDs(fds)
			s.teardown(xerr.Protocol("server event decode failed", err))
			return
		}

		s.logPacket(directionServerToClient, pkt, len(fds), false)

		encoded, err := wire.Encode(pkt)
		if err != nil {
			ancil.CloseFDs(fds)
			s.log.Warn().Err(err).Msg("encode failed")
			s.teardown(xerr.Protocol("server event encode failed", err))
			return
		}
		if _, err := s.down.WriteWithFDs(encoded, fds); err != nil {
			ancil.CloseFDs(fds)
			s.log.Warn().Err(err).Msg("downstream write failed")
			s.teardown(xerr.Protocol("downstream write failed", err))
			return
		}
		ancil.CloseFDs(fds)
	}
}

func (s *Session) handleReadError(dir direction, err error) {
	if errors.Is(err, io.EOF) {
		s.teardown(nil)
		return
	}
	s.log.Warn().Err(err).Str("direction", string(dir)).Msg("read failed")
	s.teardown(xerr.Protocol("read failed", err))
}

func (s *Session) logPacket(dir direction, pkt wire.Packet, nfds int, rewritten bool) {
	s.log.Debug().
		Str("direction", string(dir)).
		Uint32("id", pkt.ID).
		Uint16("opcode", pkt.Opcode).
		Int("len", len(pkt.Body)+8).
		Int("nfds", nfds).
		Bool("rewritten", rewritten).
		Msg("relayed")
}

// teardown closes both sockets exactly once, which unblocks whichever
// sibling goroutine is waiting in a read and releases any descriptors still
// queued but never forwarded. Safe to call from both loops and from the
// deferred cleanup of a goroutine that exits normally.
func (s *Session) teardown(cause error) {
	s.teardownOnce.Do(func() {
		if cause != nil {
			s.log.Warn().Err(cause).Msg("tearing down connection")
		} else {
			s.log.Debug().Msg("connection closed")
		}
		_ = s.down.Close()
		_ = s.up.Close()
	})
}
