// Package ipc is the control port of the arm: a TCP server speaking one JSON
// message per line. Clients send requests (move, home, status, placement) and
// receive a "<type>_response" carrying the request ID; every changed board
// snapshot is broadcast to all clients as a "snapshot" message.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"chessarm/internal/logging"
	"chessarm/pkg/types"
)

// HandlerFunc serves one request type. A non-nil error is sent back in the
// response's Error field.
type HandlerFunc func(msg types.IPCMessage) (map[string]interface{}, error)

type Client struct {
	ID        string
	Conn      net.Conn
	Send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

type IPCServer struct {
	config       types.IPCConfig
	clients      map[string]*Client
	clientsLock  sync.RWMutex
	handlers     map[string]HandlerFunc
	handlersLock sync.RWMutex
	listener     net.Listener
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       *logging.Logger
}

func NewIPCServer(config types.IPCConfig) *IPCServer {
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IPCServer{
		config:   config,
		clients:  make(map[string]*Client),
		handlers: make(map[string]HandlerFunc),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.GetLogger("ipc_server"),
	}
}

func (s *IPCServer) Start() error {
	address := net.JoinHostPort(s.config.Address, fmt.Sprintf("%d", s.config.Port))

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}
	s.listener = ln
	s.logger.Info("IPC server started", "address", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *IPCServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *IPCServer) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.clientsLock.Lock()
	for _, client := range s.clients {
		s.closeClient(client)
	}
	s.clients = make(map[string]*Client)
	s.clientsLock.Unlock()

	s.wg.Wait()
	return nil
}

// Close implements io.Closer.
func (s *IPCServer) Close() error { return s.Stop() }

// closeClient 关闭连接；Send 通道不关闭，写协程通过 closed 退出
func (s *IPCServer) closeClient(client *Client) {
	client.closeOnce.Do(func() {
		close(client.closed)
		if client.Conn != nil {
			_ = client.Conn.Close()
		}
		s.logger.Debug("Client closed", "client_id", client.ID)
	})
}

func (s *IPCServer) removeClient(client *Client) {
	s.clientsLock.Lock()
	delete(s.clients, client.ID)
	s.clientsLock.Unlock()
	s.closeClient(client)
}

func (s *IPCServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept error", "error", err)
			continue
		}

		client := &Client{
			ID:     "client-" + uuid.NewString()[:8],
			Conn:   conn,
			Send:   make(chan []byte, s.config.BufferSize),
			closed: make(chan struct{}),
		}

		s.clientsLock.Lock()
		s.clients[client.ID] = client
		s.clientsLock.Unlock()

		s.wg.Add(2)
		go s.handleClient(client)
		go s.sendToClient(client)

		s.logger.Info("Client connected", "client_id", client.ID, "remote", conn.RemoteAddr().String())
	}
}

func (s *IPCServer) handleClient(client *Client) {
	defer s.wg.Done()
	defer s.removeClient(client)

	decoder := json.NewDecoder(client.Conn)
	for {
		var message types.IPCMessage
		if err := decoder.Decode(&message); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.logger.Info("Client disconnected", "client_id", client.ID)
			case errors.Is(err, net.ErrClosed):
			default:
				s.logger.Warn("Client decode error", "client_id", client.ID, "error", err)
			}
			return
		}

		message.Source = client.ID
		s.routeMessage(client, message)
	}
}

func (s *IPCServer) sendToClient(client *Client) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-client.closed:
			return
		case data := <-client.Send:
			if err := client.Conn.SetWriteDeadline(time.Now().Add(s.config.Timeout)); err != nil {
				s.removeClient(client)
				return
			}
			if _, err := client.Conn.Write(data); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Warn("Send to client failed", "client_id", client.ID, "error", err)
				}
				s.removeClient(client)
				return
			}
		}
	}
}

// routeMessage 调用对应处理函数并回复请求方
func (s *IPCServer) routeMessage(client *Client, message types.IPCMessage) {
	s.handlersLock.RLock()
	handler, exists := s.handlers[message.Type]
	s.handlersLock.RUnlock()

	reply := types.IPCMessage{
		Type:      message.Type + "_response",
		ID:        message.ID,
		Timestamp: time.Now(),
	}
	if !exists {
		reply.Type = "error_response"
		reply.Error = fmt.Sprintf("unknown message type %q", message.Type)
	} else if data, err := s.invoke(handler, message); err != nil {
		reply.Error = err.Error()
	} else {
		reply.Data = data
	}

	if err := s.enqueue(client, reply); err != nil {
		s.logger.Warn("Dropping reply", "client_id", client.ID, "type", reply.Type, "error", err)
	}
}

func (s *IPCServer) invoke(handler HandlerFunc, message types.IPCMessage) (data map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler panic", "type", message.Type, "panic", r)
			err = fmt.Errorf("internal error")
		}
	}()
	return handler(message)
}

func (s *IPCServer) enqueue(client *Client, message types.IPCMessage) error {
	data, err := encode(message)
	if err != nil {
		return err
	}
	select {
	case client.Send <- data:
		return nil
	case <-client.closed:
		return fmt.Errorf("client closed: %s", client.ID)
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Broadcast 发送给所有客户端；缓冲区满的客户端丢弃该消息
func (s *IPCServer) Broadcast(message types.IPCMessage) error {
	data, err := encode(message)
	if err != nil {
		return err
	}

	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	for _, client := range s.clients {
		select {
		case client.Send <- data:
		case <-client.closed:
		default:
			s.logger.Warn("Client send buffer full", "client_id", client.ID, "type", message.Type)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (s *IPCServer) ClientCount() int {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	return len(s.clients)
}

func (s *IPCServer) RegisterHandler(messageType string, handler HandlerFunc) {
	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()
	s.handlers[messageType] = handler
}

// Name and Publish make the server a snapshot sink.
func (s *IPCServer) Name() string { return "ipc" }

func (s *IPCServer) Publish(ctx context.Context, rec types.SnapshotRecord) error {
	return s.Broadcast(types.IPCMessage{
		Type: MsgSnapshot,
		Data: map[string]interface{}{
			"session":   rec.Session,
			"seq":       rec.Seq,
			"placement": rec.Placement,
			"unknown":   rec.Unknown,
			"conflicts": rec.Conflicts,
		},
		Timestamp: rec.At,
	})
}

func encode(message types.IPCMessage) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return append(data, '\n'), nil
}
