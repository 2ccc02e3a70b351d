// Package wsclient maintains the signed persistent WebSocket connection to
// the Kinesis Video Signaling service: connect-URL construction, TLS,
// keepalive, the event-handling table, and the single-writer send path
// (spec C6). Adapted from the teacher's reconnect-loop WebSocket client
// (internal/websocket/client.go in the original copy), but the state
// machine — not this package — owns reconnection: this client only
// connects once per call and reports disconnect causes upward.
package wsclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kvs-signaling/core/internal/clockskew"
	"github.com/kvs-signaling/core/internal/databuffer"
	"github.com/kvs-signaling/core/internal/logging"
	"github.com/kvs-signaling/core/internal/model"
	"github.com/kvs-signaling/core/internal/signing"
)

var log = logging.L("wsclient")

const (
	// PingInterval is the application-level ping cadence (spec §4.6).
	PingInterval = 10 * time.Second
	// HandshakeTimeout bounds the initial TLS+WS upgrade.
	HandshakeTimeout = 10 * time.Second
	writeWait        = 5 * time.Second
	tcpKeepAliveIdle = 3 * time.Second
)

// Callbacks is the event-handling table from spec §4.6. None of these are
// invoked while the client holds any internal lock.
type Callbacks struct {
	OnConnected    func()
	OnMessage      func(frame []byte)
	OnGoAway       func()
	OnDisconnected func(lastErr error)
	OnError        func(err error)
}

// ConnectParams bundles everything needed to build and sign the connect URL.
type ConnectParams struct {
	WSSEndpoint string
	ChannelArn  string
	Role        model.ChannelRole
	ClientID    string // required for VIEWER, omitted for MASTER
	Creds       model.Credentials
	Region      string
	Skew        *clockskew.Table
	State       model.State
	Now         time.Time
	CAPool      *x509.CertPool // nil uses the system root pool
}

// Client is a single signaling WebSocket connection. Not reusable after a
// disconnect; callers build a new Client per connect attempt.
type Client struct {
	conn      *websocket.Conn
	sendMu    sync.Mutex
	connected atomic.Bool
	buf       *databuffer.Buffer
	cb        Callbacks
	closeOnce sync.Once
	done      chan struct{}
}

// BuildURL constructs the unsigned WSS connect URL for the given role
// (spec §6: master omits X-Amz-ClientId, viewer requires it).
func BuildURL(wssEndpoint, channelArn string, role model.ChannelRole, clientID string) (string, error) {
	u, err := url.Parse(wssEndpoint)
	if err != nil {
		return "", model.WrapError(model.ErrInvalidArg, "invalid WSS endpoint", err)
	}
	q := u.Query()
	q.Set("X-Amz-ChannelARN", channelArn)
	if role == model.RoleViewer {
		if clientID == "" {
			return "", model.NewError(model.ErrInvalidArg, "viewer role requires a client id")
		}
		q.Set("X-Amz-ClientId", clientID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect opens and signs the WSS connection and starts the read loop in a
// background goroutine. It blocks until the handshake completes or fails.
func Connect(ctx context.Context, p ConnectParams, cb Callbacks) (*Client, error) {
	rawURL, err := BuildURL(p.WSSEndpoint, p.ChannelArn, p.Role, p.ClientID)
	if err != nil {
		return nil, err
	}
	signedURL, err := signing.SignWSSURL(ctx, rawURL, p.Creds, p.Region, p.Skew, p.State, p.Now)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{RootCAs: p.CAPool, MinVersion: tls.VersionTLS12}
	dialer := &websocket.Dialer{
		HandshakeTimeout: HandshakeTimeout,
		TLSClientConfig:  tlsConfig,
		NetDialContext: (&net.Dialer{
			Timeout:   HandshakeTimeout,
			KeepAlive: tcpKeepAliveIdle,
		}).DialContext,
		EnableCompression: false,
	}

	conn, _, err := dialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		return nil, model.WrapError(model.ErrTransportFailed, "WSS dial failed", err)
	}

	conn.SetReadLimit(databuffer.MaxSize + 1024)

	c := &Client{
		conn: conn,
		buf:  databuffer.New(0),
		cb:   cb,
		done: make(chan struct{}),
	}
	c.connected.Store(true)

	go c.readLoop()
	go c.pingLoop()

	if cb.OnConnected != nil {
		cb.OnConnected()
	}
	return c, nil
}

// Connected reports whether the connection is currently usable.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Send writes a fully serialized JSON text frame. It is the sole writer;
// callers never need to chunk since outbound messages stay under 20 KiB
// (spec §4.6).
func (c *Client) Send(payload []byte) (int, error) {
	if !c.connected.Load() {
		return 0, model.NewError(model.ErrNotConnected, "wsclient: not connected")
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.connected.Load() {
		return 0, model.NewError(model.ErrNotConnected, "wsclient: not connected")
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return 0, model.WrapError(model.ErrSendFailed, "wsclient: send failed", err)
	}
	return len(payload), nil
}

// Close idempotently tears down the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.done)
		c.sendMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.sendMu.Unlock()
		_ = c.conn.Close()
	})
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sendMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.sendMu.Unlock()
			if err != nil {
				log.Debug("ping write failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	var lastErr error
	defer func() {
		c.Close()
		if c.cb.OnDisconnected != nil {
			c.cb.OnDisconnected(lastErr)
		}
	}()

	for {
		opcode, data, err := c.conn.ReadMessage()
		if err != nil {
			if isGoAwayClose(err) {
				lastErr = model.NewError(model.ErrGoAway, "peer sent GO_AWAY")
				if c.cb.OnGoAway != nil {
					c.cb.OnGoAway()
				}
				return
			}
			lastErr = model.WrapError(model.ErrTransportFailed, "wsclient: read failed", err)
			if c.cb.OnError != nil {
				c.cb.OnError(lastErr)
			}
			return
		}

		switch opcode {
		case websocket.TextMessage, websocket.BinaryMessage:
			c.handleData(data)
		case websocket.CloseMessage:
			if goAwayPayload(data) {
				lastErr = model.NewError(model.ErrGoAway, "peer sent GO_AWAY")
				if c.cb.OnGoAway != nil {
					c.cb.OnGoAway()
				}
			}
			return
		default:
			// PING/PONG/CONTINUATION are handled by the gorilla library
			// itself; no application action required (spec §4.6).
		}
	}
}

func (c *Client) handleData(fragment []byte) {
	status, err := c.buf.Append(fragment, true)
	if err != nil {
		log.Warn("reassembly failed, dropping frame", "error", err)
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
		return
	}
	if status != databuffer.Complete {
		return
	}
	msg := make([]byte, len(c.buf.Bytes()))
	copy(msg, c.buf.Bytes())
	c.buf.Reset()

	if c.cb.OnMessage != nil {
		c.cb.OnMessage(msg)
	}
}

func isGoAwayClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseGoingAway) || strings.Contains(strings.ToLower(err.Error()), "going away")
}

func goAwayPayload(data []byte) bool {
	s := strings.ToLower(string(data))
	return strings.Contains(s, "going away") || strings.Contains(s, "go_away")
}
