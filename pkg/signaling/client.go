package signaling

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kvs-signaling/core/internal/channelinfo"
	"github.com/kvs-signaling/core/internal/clockskew"
	"github.com/kvs-signaling/core/internal/logging"
	"github.com/kvs-signaling/core/internal/model"
	"github.com/kvs-signaling/core/internal/msgparser"
	"github.com/kvs-signaling/core/internal/pendingqueue"
	"github.com/kvs-signaling/core/internal/restapi"
	"github.com/kvs-signaling/core/internal/router"
	"github.com/kvs-signaling/core/internal/statemachine"
	"github.com/kvs-signaling/core/internal/workerpool"
	"github.com/kvs-signaling/core/internal/wsclient"
)

var log = logging.L("signaling")

// messageRouterWorkers bounds the goroutine pool draining parsed inbound
// frames into the session router (spec §5: background worker pool).
const messageRouterWorkers = 4

// Client is a single signaling channel's lifecycle: discovery/creation,
// connect, steady-state send/receive, and reconnect/delete (spec C10).
type Client struct {
	opts    Options
	channel *model.ChannelInfo

	rest    *restapi.Client
	machine *statemachine.Machine
	router  *router.Router
	pending *pendingqueue.Registry
	pool    *workerpool.Pool
	skew    *clockskew.Table
	diag    *diagnostics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	gcStop       chan struct{}
	shutdownOnce sync.Once
}

// Create validates opts, resolves the channel configuration, and starts the
// client's background lifecycle loop in StateNew. Callers still need to
// call Connect to drive the machine past READY.
func Create(ctx context.Context, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	if opts.Credentials == nil {
		return nil, model.NewError(model.ErrInvalidArg, "Options.Credentials is required")
	}

	channel, err := channelinfo.Validate(channelinfo.Raw{
		ChannelName:     opts.ChannelName,
		ChannelArn:      opts.ChannelArn,
		Region:          opts.Region,
		Role:            opts.Role,
		MessageTTL:      opts.MessageTTL,
		Tags:            opts.Tags,
		Retry:           opts.Retry,
		MaxRetryCount:   opts.MaxRetryCount,
		Reconnect:       opts.Reconnect,
		CachePolicy:     opts.CachePolicy,
		AsyncIce:        opts.AsyncIce,
		ControlPlaneURL: opts.ControlPlaneURL,
	})
	if err != nil {
		return nil, err
	}
	if channel.Role == model.RoleViewer && opts.ClientID == "" {
		return nil, model.NewError(model.ErrInvalidArg, "ClientID is required for the viewer role")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: statemachine.DefaultConnectTimeout + 5*time.Second}
	}

	skew := clockskew.NewTable()
	diag := newDiagnostics()

	rest := restapi.NewClient(httpClient, opts.Credentials, channel.Region, skew)
	rest.RetryCfg.MaxRetries = opts.RestRetryAttempts
	rest.RetryCfg.InitialDelay = time.Duration(opts.RestRetryDelayMs) * time.Millisecond
	rest.RetryCfg.MaxDelay = rest.RetryCfg.InitialDelay
	rest.OnLatency = diag.observeLatency
	rest.Now = opts.Now

	pending := pendingqueue.New()
	sessionRouter := router.New(opts.MaxSessions, pending)
	wireRouterHandlers(sessionRouter, opts)

	pool := workerpool.New("message-router", messageRouterWorkers, 64)

	cctx, cancel := context.WithCancel(ctx)
	c := &Client{
		opts:    opts,
		channel: channel,
		rest:    rest,
		router:  sessionRouter,
		pending: pending,
		pool:    pool,
		skew:    skew,
		diag:    diag,
		ctx:     cctx,
		cancel:  cancel,
		gcStop:  make(chan struct{}),
	}

	connectParamsFn := func() wsclient.ConnectParams {
		return wsclient.ConnectParams{CAPool: opts.CAPool}
	}

	c.machine = statemachine.New(statemachine.Params{
		Channel:       channel,
		CredsProvider: opts.Credentials,
		Rest:          rest,
		ConnectWSS:    wsclient.Connect,
		Skew:          skew,
		ClientID:      opts.ClientID,
		Now:           opts.Now,
		Hooks:         c.machineHooks(),
	}, connectParamsFn)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.machine.Run(cctx)
	}()

	c.wg.Add(1)
	go c.runSessionGC()

	return c, nil
}

func wireRouterHandlers(r *router.Router, opts Options) {
	if opts.OnOffer != nil {
		r.OnOffer = func(msg model.ReceivedSignalingMessage) {
			opts.OnOffer(msg.SenderID, msg)
		}
	}
	if opts.OnAnswer != nil {
		r.OnAnswer = func(s *router.Session, msg model.ReceivedSignalingMessage) {
			opts.OnAnswer(s.PeerID, msg)
		}
	}
	if opts.OnCandidate != nil {
		r.OnCandidate = func(s *router.Session, msg model.ReceivedSignalingMessage) {
			opts.OnCandidate(s.PeerID, msg)
		}
	}
}

func (c *Client) machineHooks() statemachine.Hooks {
	return statemachine.Hooks{
		OnStateChange: func(old, next model.State) {
			log.Info("state transition", "from", old, "to", next)
			if c.opts.OnStateChange != nil {
				c.opts.OnStateChange(old, next)
			}
		},
		OnIceRefresh: func() { c.diag.iceRefreshCount.inc() },
		OnReconnect:  func() { c.diag.reconnects.inc() },
		OnError: func(err error) {
			c.diag.errors.inc()
			log.Warn("non-fatal signaling error", "error", err)
			if c.opts.OnError != nil {
				c.opts.OnError(err)
			}
		},
		OnFatal: func(err error) {
			c.diag.runtimeErrors.inc()
			log.Error("fatal signaling error", "error", err)
			if c.opts.OnFatal != nil {
				c.opts.OnFatal(err)
			}
		},
		OnMessage: c.handleInboundFrame,
	}
}

// handleInboundFrame parses a reassembled WSS frame and submits it to the
// worker pool for dispatch, so a slow application handler never blocks the
// WSS read loop (spec §4.6/§5).
func (c *Client) handleInboundFrame(frame []byte) {
	msg, err := msgparser.Parse(frame)
	if err != nil {
		c.diag.errors.inc()
		log.Warn("failed to parse inbound signaling frame", "error", err)
		return
	}
	c.diag.messagesReceived.inc()

	if msg.MessageType == model.MessageTypeStatusResponse && c.opts.OnStatusResponse != nil {
		c.opts.OnStatusResponse(msg)
	}

	if !c.pool.Submit(func() { c.dispatch(msg) }) {
		c.diag.runtimeErrors.inc()
		log.Warn("message router queue full, dropping frame", "peer", msg.SenderID, "totalDropped", c.pool.Dropped())
	}
}

func (c *Client) dispatch(msg model.ReceivedSignalingMessage) {
	result, err := c.router.Dispatch(msg)
	if err != nil {
		c.diag.errors.inc()
		log.Warn("session router rejected message", "error", err, "peer", msg.SenderID)
		return
	}
	if result == router.ResultReconnectIce {
		c.machine.NotifyReconnectIce()
	}
}

// runSessionGC periodically sweeps terminated sessions and expired pending
// queues (spec §5: "background session-GC worker").
func (c *Client) runSessionGC() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.SessionCleanupWait)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, s := range c.router.CollectTerminated() {
				log.Debug("session garbage collected", "peer", s.PeerID)
			}
			for _, peerID := range c.pending.Sweep(c.opts.PendingQueueExpiry) {
				log.Debug("pending queue expired", "peer", peerID)
			}
		case <-c.gcStop:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// Connect asks the machine to proceed past READY and wait until the
// connection reaches CONNECTED or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	c.machine.RequestConnect()
	return c.machine.WaitForState(ctx, model.StateConnected)
}

// Disconnect gracefully closes the WSS connection without triggering the
// channel's reconnect policy.
func (c *Client) Disconnect() {
	c.machine.RequestDisconnect()
}

// Delete runs the DELETE state path and waits for DELETED or ctx to be done.
func (c *Client) Delete(ctx context.Context) error {
	c.machine.RequestDelete()
	return c.machine.WaitForState(ctx, model.StateDeleted)
}

// SendMessage serializes and sends an outbound signaling message over the
// active WSS connection, filling in a correlation id if the caller left one
// unset (spec §4.6/§6).
func (c *Client) SendMessage(msg model.SignalingMessage) error {
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	frame, err := msgparser.Serialize(msg)
	if err != nil {
		return err
	}
	if _, err := c.machine.Send(frame); err != nil {
		c.diag.errors.inc()
		return err
	}
	c.diag.messagesSent.inc()
	return nil
}

// CurrentState returns the machine's current lifecycle state.
func (c *Client) CurrentState() model.State {
	return c.machine.CurrentState()
}

// GetIceConfigCount returns the number of currently held ICE server configs.
func (c *Client) GetIceConfigCount() int {
	return len(c.machine.IceConfigs())
}

// GetIceConfigInfo returns the ICE server config at index, or an error if
// index is out of range.
func (c *Client) GetIceConfigInfo(index int) (model.IceConfigInfo, error) {
	configs := c.machine.IceConfigs()
	if index < 0 || index >= len(configs) {
		return model.IceConfigInfo{}, model.NewError(model.ErrInvalidArg, "ICE config index out of range")
	}
	return configs[index], nil
}

// GetMetrics returns a snapshot of the diagnostics counters, per-API
// latency EMA, current state, and active session count (spec §4.10).
func (c *Client) GetMetrics() model.Metrics {
	return model.Metrics{
		Diagnostics:     c.diag.snapshot(),
		ApiLatencyMsEMA: c.diag.latencySnapshot(),
		CurrentState:    c.machine.CurrentState(),
		SessionCount:    c.router.Count(),
	}
}

// Shutdown stops the client's background goroutines, closes any active WSS
// connection, and drains the message-router worker pool. Safe to call
// multiple times.
func (c *Client) Shutdown(ctx context.Context) {
	c.shutdownOnce.Do(func() {
		c.machine.Shutdown()
		close(c.gcStop)
		c.cancel()
		c.wg.Wait()

		c.pool.StopAccepting()
		c.pool.Drain(ctx)
		c.skew.Clear()
	})
}
