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

// ErrClientClosed is returned by requests on a closed or dropped client.
var ErrClientClosed = errors.New("ipc client closed")

// IPCClient talks to the control port. Request pairs replies by ID;
// unsolicited messages (snapshots) are delivered on Receive.
type IPCClient struct {
	config      types.IPCConfig
	conn        net.Conn
	encoder     *json.Encoder
	writeLock   sync.Mutex
	pending     map[string]chan types.IPCMessage
	pendingLock sync.Mutex
	receiveChan chan types.IPCMessage
	done        chan struct{}
	closeOnce   sync.Once
	logger      *logging.Logger
}

func NewIPCClient(config types.IPCConfig) *IPCClient {
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &IPCClient{
		config:      config,
		pending:     make(map[string]chan types.IPCMessage),
		receiveChan: make(chan types.IPCMessage, config.BufferSize),
		done:        make(chan struct{}),
		logger:      logging.GetLogger("ipc_client"),
	}
}

func (c *IPCClient) Connect(ctx context.Context) error {
	address := net.JoinHostPort(c.config.Address, fmt.Sprintf("%d", c.config.Port))

	d := net.Dialer{Timeout: c.config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to connect to IPC server: %w", err)
	}
	c.conn = conn
	c.encoder = json.NewEncoder(conn)

	go c.receiveMessages()

	c.logger.Debug("Connected to IPC server", "address", address)
	return nil
}

// Close 关闭连接，等待中的请求返回 ErrClientClosed
func (c *IPCClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Receive returns unsolicited messages; it is closed when the connection ends.
func (c *IPCClient) Receive() <-chan types.IPCMessage {
	return c.receiveChan
}

// Request sends msg and waits for the reply with the same ID. A reply with
// Error set is returned as an error.
func (c *IPCClient) Request(ctx context.Context, msg types.IPCMessage) (types.IPCMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = time.Now()

	reply := make(chan types.IPCMessage, 1)
	c.pendingLock.Lock()
	c.pending[msg.ID] = reply
	c.pendingLock.Unlock()
	defer func() {
		c.pendingLock.Lock()
		delete(c.pending, msg.ID)
		c.pendingLock.Unlock()
	}()

	if err := c.send(msg); err != nil {
		return types.IPCMessage{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	select {
	case r := <-reply:
		if r.Error != "" {
			return r, fmt.Errorf("%s: %s", msg.Type, r.Error)
		}
		return r, nil
	case <-c.done:
		return types.IPCMessage{}, ErrClientClosed
	case <-ctx.Done():
		return types.IPCMessage{}, fmt.Errorf("%s: %w", msg.Type, ctx.Err())
	}
}

func (c *IPCClient) send(msg types.IPCMessage) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.Timeout)); err != nil {
		return err
	}
	if err := c.encoder.Encode(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

func (c *IPCClient) receiveMessages() {
	defer close(c.receiveChan)
	defer c.Close()

	decoder := json.NewDecoder(c.conn)
	for {
		var message types.IPCMessage
		if err := decoder.Decode(&message); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn("Receive error", "error", err)
			}
			return
		}
		c.routeMessage(message)
	}
}

func (c *IPCClient) routeMessage(message types.IPCMessage) {
	c.pendingLock.Lock()
	reply, ok := c.pending[message.ID]
	c.pendingLock.Unlock()
	if ok && message.ID != "" {
		reply <- message
		return
	}

	select {
	case c.receiveChan <- message:
	default:
		c.logger.Warn("Receive channel full, dropping message", "message_type", message.Type)
	}
}
