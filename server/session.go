package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/transport"
	"github.com/cbrunker/quip/wire"
)

type session struct {
	server *Server
	conn   *transport.Conn
	logger *logrus.Entry
}

func (s *session) run(ctx context.Context) {
	cfg := s.server.cfg
	for {
		if ctx.Err() != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		cmd, raw, err := s.conn.Reader.ReadCommand()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, qerr.ErrTimeout) || len(raw) == 0 {
				s.logger.WithField("reason", err.Error()).Debug("Session ended")
				return
			}
			s.fail(fmt.Errorf("%w: %q", qerr.ErrInvalidCommand, raw))
			return
		}

		rt, ok := cfg.Router.lookup(cmd)
		if !ok {
			s.fail(fmt.Errorf("%w: no handler for %s", qerr.ErrInvalidCommand, cmd))
			return
		}

		s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		line, err := s.conn.Reader.ReadLine()
		if err != nil {
			if !errors.Is(err, qerr.ErrTimeout) && !errors.Is(err, qerr.ErrInvalidData) {
				s.logger.WithField("reason", err.Error()).Debug("Session ended mid-command")
				return
			}
			s.fail(err)
			return
		}

		req := &Request{
			Command: cmd,
			Remote:  s.conn.RemoteAddr(),
			Conn:    s.conn,
		}
		if rt.unsigned {
			req.Payload = line
		} else if err := s.authenticate(cmd, line, req); err != nil {
			s.fail(err)
			return
		}

		resp, err := rt.handler.Handle(ctx, req)
		if err != nil {
			s.fail(err)
			return
		}
		if len(resp) > 0 {
			if _, err := s.conn.Write(resp); err != nil {
				s.logger.WithError(err).Debug("Write failed")
				return
			}
		}
		s.logger.WithFields(logrus.Fields{
			"command": cmd.String(),
			"origin":  req.Origin,
		}).Debug("Command served")
	}
}

// authenticate runs the envelope checks and commits the chain on success.
func (s *session) authenticate(cmd wire.Command, line []byte, req *Request) error {
	cfg := s.server.cfg

	signed, err := wire.Decode(line)
	if err != nil {
		return fmt.Errorf("%w: %v", qerr.ErrInvalidCommand, err)
	}

	origin, err := wire.OriginOf(signed)
	if err != nil {
		return err
	}
	key, found, err := cfg.Resolver.ResolvePeer(origin)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", qerr.ErrInvalidData, origin, err)
	}
	if !found {
		return fmt.Errorf("%w: unknown origin %s", qerr.ErrInvalidData, origin)
	}
	body, err := crypto.Open(signed, key.SigningKey)
	if err != nil {
		return fmt.Errorf("%w: %w", qerr.ErrInvalidData, err)
	}
	env, err := wire.UnmarshalEnvelope(body)
	if err != nil {
		return err
	}

	if env.Destination != cfg.Identity.UID {
		return fmt.Errorf("%w: envelope addressed to %s", qerr.ErrInvalidCommand, env.Destination)
	}
	if !crypto.WithinSkew(cfg.TimeProvider, env.Timestamp, cfg.MessageSkew) {
		return fmt.Errorf("%w: timestamp %d outside skew", qerr.ErrInvalidCommand, env.Timestamp)
	}
	next, err := s.conn.Chains.Verify(env.Origin, env.Body(), env.Chain)
	if err != nil {
		return fmt.Errorf("%w: %w", qerr.ErrInvalidCommand, err)
	}
	if env.Command != cmd {
		return fmt.Errorf("%w: trailer %s does not match %s", qerr.ErrInvalidData, env.Command, cmd)
	}
	s.conn.Chains.Commit(env.Origin, next)

	req.Envelope = env
	req.Payload = env.Payload
	req.Origin = env.Origin
	req.Mask = key.Mask
	return nil
}

// fail writes the sentinel for err. The caller closes the connection.
func (s *session) fail(err error) {
	sentinel := wire.SentinelFor(err)
	s.logger.WithFields(logrus.Fields{
		"sentinel": sentinel.String(),
		"error":    err.Error(),
	}).Warn("Rejecting command")
	s.conn.SetWriteDeadline(time.Now().Add(transport.DefaultWriteTimeout))
	s.conn.Write(sentinel.Bytes())
}
