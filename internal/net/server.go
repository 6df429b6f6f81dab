package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/common"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 30 * time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// Gateway is the order-handling surface the server dispatches wire
// requests to. internal/engine.Gateway satisfies it; kept as a local
// interface (rather than imported) so internal/net never depends on
// internal/engine.
type Gateway interface {
	Submit(order *common.Order) (*common.Order, error)
	Cancel(user, orderID string) (*common.Order, error)
	Query(orderID string) (*common.Order, bool)
}

// clientSession is relevant state for one connected TCP session.
// Grounded on the teacher's internal/net/server.go ClientSession/
// clientSessions map pattern.
type clientSession struct {
	conn net.Conn
}

type clientMessage struct {
	clientAddress string
	message       Message
}

type Server struct {
	address string
	port    int
	gateway Gateway
	pool    WorkerPool
	cancel  context.CancelFunc

	clientSessionsLock sync.Mutex
	clientSessions     map[string]clientSession

	clientMessages chan clientMessage
}

func New(address string, port int, gateway Gateway) *Server {
	return &Server{
		address:        address,
		port:           port,
		gateway:        gateway,
		pool:           NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]clientSession),
		clientMessages: make(chan clientMessage, 64),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("gateway server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("unable to start listener: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("gateway server listening")

	for {
		select {
		case <-ctx.Done():
			return t.Wait()
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return t.Wait()
				default:
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}
			log.Info().Str("address", conn.RemoteAddr().String()).Msg("client connected")
			s.addClientSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.clientMessages:
			s.handleMessage(msg)
		}
	}
}

func (s *Server) handleMessage(msg clientMessage) {
	switch m := msg.message.(type) {
	case *NewOrderMessage:
		order, err := m.ToOrder()
		if err != nil {
			s.reply(msg.clientAddress, ReportFromError("", err))
			return
		}
		placed, err := s.gateway.Submit(order)
		if err != nil {
			s.reply(msg.clientAddress, ReportFromError(order.OrderID, err))
			return
		}
		s.reply(msg.clientAddress, ReportFromOrder(placed))
	case *CancelOrderMessage:
		cancelled, err := s.gateway.Cancel(m.User, m.OrderID)
		if err != nil {
			s.reply(msg.clientAddress, ReportFromError(m.OrderID, err))
			return
		}
		s.reply(msg.clientAddress, ReportFromOrder(cancelled))
	case *QueryOrderMessage:
		order, ok := s.gateway.Query(m.OrderID)
		if !ok {
			s.reply(msg.clientAddress, ReportFromError(m.OrderID, common.NewAPIError(common.CodeNotFound, "order not found")))
			return
		}
		s.reply(msg.clientAddress, ReportFromOrder(order))
	default:
		log.Error().Str("clientAddress", msg.clientAddress).Msg("unhandled message type")
	}
}

func (s *Server) reply(clientAddress string, report *Report) {
	s.clientSessionsLock.Lock()
	session, ok := s.clientSessions[clientAddress]
	s.clientSessionsLock.Unlock()
	if !ok {
		return
	}
	if _, err := session.conn.Write(report.Serialize()); err != nil {
		log.Error().Err(err).Str("clientAddress", clientAddress).Msg("unable to write report")
		s.deleteClientSession(clientAddress)
	}
}

// handleConnection reads the next message off conn, parses it, and hands
// it to sessionHandler, then re-enqueues the connection for its next
// message. A read failure tears the session down; a parse failure is
// reported back to the client and the connection stays open. The worker
// pool only logs an error returned from here, and none is returned for
// ordinary per-connection failures.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	if err := conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("failed setting deadline")
		s.closeConn(conn)
		return nil
	}

	select {
	case <-t.Dying():
		return nil
	default:
	}

	buffer := make([]byte, maxRecvSize)
	n, err := conn.Read(buffer)
	if err != nil {
		s.closeConn(conn)
		s.deleteClientSession(conn.RemoteAddr().String())
		return nil
	}

	message, err := parseMessage(buffer[:n])
	if err != nil {
		log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("error parsing message")
		s.reply(conn.RemoteAddr().String(), ReportFromError("", err))
		s.pool.AddTask(conn)
		return nil
	}

	s.clientMessages <- clientMessage{
		clientAddress: conn.RemoteAddr().String(),
		message:       message,
	}
	s.pool.AddTask(conn)
	return nil
}

func (s *Server) closeConn(conn net.Conn) {
	if err := conn.Close(); err != nil {
		log.Error().Str("address", conn.RemoteAddr().String()).Err(err).Msg("error closing connection")
	}
}

func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.clientSessions[conn.RemoteAddr().String()] = clientSession{conn: conn}
}

func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	delete(s.clientSessions, address)
}
