package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"fulcrum/internal/common"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultNWorkers    = 64
	defaultIdleTimeout = time.Minute
)

// Engine is the order-entry contract the transport needs from the core.
type Engine interface {
	ProcessOrder(orderID uint64, side common.Side, price int64, quantity uint64) ([]common.Trade, error)
	CancelOrder(orderID uint64) bool
	ModifyOrder(orderID uint64, side common.Side, price int64, quantity uint64) ([]common.Trade, error)
	NextOrderID() uint64
}

// ClientSession is one connected order-entry TCP session.
type ClientSession struct {
	id      uuid.UUID
	conn    net.Conn
	writeMu sync.Mutex
}

func (s *ClientSession) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(frame)
	return err
}

// Server speaks the fixed-width binary order protocol over TCP. Each
// session is read one frame at a time by a pooled worker and requeued.
// The worker stays blocked on the read until a frame arrives or the idle
// timeout expires, so at most defaultNWorkers sessions are served at once;
// further sessions wait for a free worker.
type Server struct {
	address string
	port    int
	engine  Engine

	workers *ants.Pool
	cancel  context.CancelFunc

	sessionsLock sync.Mutex
	sessions     map[string]*ClientSession
}

func NewServer(address string, port int, engine Engine) *Server {
	return &Server{
		address:  address,
		port:     port,
		engine:   engine,
		sessions: make(map[string]*ClientSession),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("order entry server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()
	t, ctx := tomb.WithContext(ctx)

	workers, err := ants.NewPool(defaultNWorkers)
	if err != nil {
		return fmt.Errorf("unable to start worker pool: %w", err)
	}
	s.workers = workers
	defer workers.Release()

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("unable to start listener: %w", err)
	}

	// Accept blocks; closing the listener is how shutdown reaches it.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug().Err(err).Msg("error closing listener")
		}
		return nil
	})

	log.Info().Str("address", listener.Addr().String()).Msg("order entry server running")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				t.Kill(nil)
				return t.Wait()
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		session := &ClientSession{id: uuid.New(), conn: conn}
		s.addSession(session)
		log.Info().
			Stringer("session", session.id).
			Str("address", conn.RemoteAddr().String()).
			Msg("new client connected")
		s.enqueue(session)
	}
}

// enqueue hands the session to a pooled worker for its next frame.
func (s *Server) enqueue(session *ClientSession) {
	err := s.workers.Submit(func() {
		s.serveFrame(session)
	})
	if err != nil {
		log.Error().Err(err).Stringer("session", session.id).Msg("worker pool rejected session")
		s.dropSession(session)
	}
}

// serveFrame reads exactly one frame off the session, dispatches it, and
// requeues the session. Any read failure retires the session.
func (s *Server) serveFrame(session *ClientSession) {
	if err := session.conn.SetReadDeadline(time.Now().Add(defaultIdleTimeout)); err != nil {
		s.dropSession(session)
		return
	}

	frame := make([]byte, MessageSize)
	if _, err := io.ReadFull(session.conn, frame); err != nil {
		if !errors.Is(err, io.EOF) {
			log.Error().Err(err).Stringer("session", session.id).Msg("error reading from connection")
		}
		s.dropSession(session)
		return
	}

	message, err := ParseMessage(frame)
	if err != nil {
		// A malformed frame means the stream is out of alignment; there is
		// no way to resynchronize a fixed-width stream, so retire it.
		log.Error().Err(err).Stringer("session", session.id).Msg("error parsing message")
		s.dropSession(session)
		return
	}

	if err := s.handleMessage(session, message); err != nil {
		log.Error().
			Err(err).
			Stringer("session", session.id).
			Uint64("orderID", message.OrderID).
			Msg("error handling message")
	}
	s.enqueue(session)
}

func (s *Server) handleMessage(session *ClientSession, m Message) error {
	switch m.Type {
	case MsgAdd:
		orderID := m.OrderID
		if orderID == 0 {
			orderID = s.engine.NextOrderID()
		}
		trades, err := s.engine.ProcessOrder(orderID, m.Side, m.Price, m.Quantity)
		if err != nil {
			return err
		}
		return s.reportTrades(session, orderID, m.Side, trades)
	case MsgCancel:
		if !s.engine.CancelOrder(m.OrderID) {
			log.Debug().Uint64("orderID", m.OrderID).Msg("cancel for unknown order")
		}
		return nil
	case MsgModify:
		trades, err := s.engine.ModifyOrder(m.OrderID, m.Side, m.Price, m.Quantity)
		if err != nil {
			return err
		}
		return s.reportTrades(session, m.OrderID, m.Side, trades)
	}
	return ErrInvalidMessageType
}

// reportTrades writes one execute frame per fill back to the submitting
// session.
func (s *Server) reportTrades(session *ClientSession, orderID uint64, side common.Side, trades []common.Trade) error {
	for _, t := range trades {
		frame := ExecuteMessage(orderID, side, t).Encode()
		if err := session.write(frame); err != nil {
			s.dropSession(session)
			return fmt.Errorf("unable to send execution report: %w", err)
		}
	}
	return nil
}

func (s *Server) addSession(session *ClientSession) {
	s.sessionsLock.Lock()
	s.sessions[session.conn.RemoteAddr().String()] = session
	s.sessionsLock.Unlock()
}

func (s *Server) dropSession(session *ClientSession) {
	s.sessionsLock.Lock()
	delete(s.sessions, session.conn.RemoteAddr().String())
	s.sessionsLock.Unlock()
	if err := session.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Stringer("session", session.id).Msg("error closing connection")
	}
}

// SessionCount reports the number of live order-entry sessions.
func (s *Server) SessionCount() int {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	return len(s.sessions)
}
