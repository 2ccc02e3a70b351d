// Package statemachine drives the twelve-state signaling-client lifecycle:
// token acquisition, channel discovery/creation, endpoint and ICE-config
// resolution, WSS connect, steady-state operation, and reconnect/delete
// orchestration (spec C9). It is grounded in the teacher's long-lived
// ticker+stopChan lifecycle loop (agent/internal/heartbeat/heartbeat.go)
// generalized from a fixed-interval heartbeat into an explicit,
// retry-aware finite state machine.
package statemachine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvs-signaling/core/internal/clockskew"
	"github.com/kvs-signaling/core/internal/logging"
	"github.com/kvs-signaling/core/internal/model"
	"github.com/kvs-signaling/core/internal/restapi"
	"github.com/kvs-signaling/core/internal/wsclient"
)

var log = logging.L("statemachine")

const (
	// iceRefreshLeadTime is how far ahead of ICE TTL expiry the background
	// refresh timer fires (spec §4.9: "ttl - 30s before the earliest ICE
	// TTL expires").
	iceRefreshLeadTime = 30 * time.Second
	iceRefreshTimeout  = 15 * time.Second

	initialBackoff = 50 * time.Millisecond
	maxBackoff     = 16 * time.Second

	// DefaultConnectTimeout is the default connect timeout (spec §4.10,
	// §5: "default 10s"). The façade adds 5s to it for its default REST
	// HTTP client timeout; Client.Connect itself waits only on its ctx.
	DefaultConnectTimeout = 10 * time.Second
)

// errHalted is returned from a step function to unwind the Run loop
// without invoking the fatal-error hook: the machine reached a terminal
// state through an expected path (reconnect disabled after an
// unsolicited transport drop, or shutdown), not a failure. A
// caller-requested Disconnect does not halt the loop — see
// stepDisconnected.
var errHalted = errors.New("statemachine: halted")

// event is a signal delivered to a step function that is blocked waiting
// for external input (READY idle, CONNECTED steady-state).
type event int

const (
	evConnectRequested event = iota
	evDisconnectRequested
	evDeleteRequested
	evShutdown
	evTransportDisconnected
	evGoAway
	evReconnectIce
)

// ConnectFunc opens a signed WSS connection. Satisfied by wsclient.Connect;
// passed as a value so tests can substitute a fake transport.
type ConnectFunc func(ctx context.Context, p wsclient.ConnectParams, cb wsclient.Callbacks) (*wsclient.Client, error)

// RestCaller is the subset of *restapi.Client the state machine drives.
// *restapi.Client satisfies this structurally.
type RestCaller interface {
	DescribeChannel(ctx context.Context, controlPlaneURL string, info model.ChannelInfo) (model.SignalingChannelDescription, error)
	CreateChannel(ctx context.Context, controlPlaneURL string, info model.ChannelInfo) (string, error)
	GetEndpoint(ctx context.Context, controlPlaneURL, channelArn string, role model.ChannelRole) (model.Endpoints, error)
	GetIceConfig(ctx context.Context, controlPlaneURL, channelArn, clientID string) ([]model.IceConfigInfo, error)
	DeleteChannel(ctx context.Context, controlPlaneURL, channelArn, currentVersion string) error
}

var _ RestCaller = (*restapi.Client)(nil)

// Hooks are the façade-supplied callbacks the machine invokes on lifecycle
// events. None are called while the machine holds its internal lock
// (spec §5c).
type Hooks struct {
	OnStateChange  func(old, next model.State)
	OnIceRefresh   func()
	OnReconnect    func()
	OnError        func(err error)
	OnFatal        func(err error)
	OnMessage      func(frame []byte)
	OnConnected    func()
	OnDisconnected func()
}

// Params bundles everything the machine needs at construction time.
type Params struct {
	Channel       *model.ChannelInfo
	CredsProvider model.CredentialsProvider
	Rest          RestCaller
	ConnectWSS    ConnectFunc
	Skew          *clockskew.Table
	ClientID      string // signaling correlation id; required for VIEWER role
	Hooks         Hooks
	Now           func() time.Time
}

// Machine is the per-client lifecycle state machine (C9).
type Machine struct {
	channel       *model.ChannelInfo
	credsProvider model.CredentialsProvider
	rest          RestCaller
	connectWSS    ConnectFunc
	skew          *clockskew.Table
	clientID      string
	hooks         Hooks
	now           func() time.Time

	mu          sync.Mutex
	state       model.State
	stateCh     chan struct{}
	creds       model.Credentials
	resolvedArn string
	desc        model.SignalingChannelDescription
	endpoints   model.Endpoints
	iceConfigs  []model.IceConfigInfo
	wss         *wsclient.Client
	iceTimer    *time.Timer

	continueOnReady atomic.Bool
	deleteRequested atomic.Bool
	userDisconnect  atomic.Bool
	shutdown        atomic.Bool
	shutdownCh      chan struct{}
	events          chan event

	connectParamsFn func() wsclient.ConnectParams
}

// New constructs a Machine in StateNew. connectParamsFn supplies the
// endpoint-independent connect fields (region, CA pool) the façade owns.
func New(p Params, connectParamsFn func() wsclient.ConnectParams) *Machine {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	skew := p.Skew
	if skew == nil {
		skew = clockskew.NewTable()
	}
	return &Machine{
		channel:         p.Channel,
		credsProvider:   p.CredsProvider,
		rest:            p.Rest,
		connectWSS:      p.ConnectWSS,
		skew:            skew,
		clientID:        p.ClientID,
		hooks:           p.Hooks,
		now:             now,
		state:           model.StateNew,
		stateCh:         make(chan struct{}),
		shutdownCh:      make(chan struct{}),
		events:          make(chan event, 8),
		connectParamsFn: connectParamsFn,
	}
}

// CurrentState returns the machine's current lifecycle state.
func (m *Machine) CurrentState() model.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Endpoints returns the last-resolved service endpoints.
func (m *Machine) Endpoints() model.Endpoints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoints
}

// ChannelArn returns the resolved channel ARN (from Describe or Create).
func (m *Machine) ChannelArn() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolvedArn
}

// IceConfigs returns a copy of the current ICE server configurations.
func (m *Machine) IceConfigs() []model.IceConfigInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.IceConfigInfo, len(m.iceConfigs))
	copy(out, m.iceConfigs)
	return out
}

// RequestConnect asks the machine to proceed past an idle READY state, and
// keeps it auto-continuing through READY on every future cycle (initial
// connect, ICE refresh, and post-disconnect reconnect all resume the WSS
// without requiring a second explicit call).
func (m *Machine) RequestConnect() {
	m.continueOnReady.Store(true)
	m.sendEvent(evConnectRequested)
}

// RequestDisconnect asks the machine to gracefully close the WSS and halt
// without triggering the channel's reconnect policy.
func (m *Machine) RequestDisconnect() {
	m.userDisconnect.Store(true)
	m.sendEvent(evDisconnectRequested)
}

// RequestDelete asks the machine to run the DELETE state path. If the
// channel is not yet known to exist, this is remembered and honored the
// next time DESCRIBE reports the channel is being deleted.
func (m *Machine) RequestDelete() {
	m.deleteRequested.Store(true)
	m.sendEvent(evDeleteRequested)
}

// NotifyReconnectIce is invoked by the façade's message router when a
// RECONNECT_ICE_SERVER control message is dispatched (spec §4.8), forcing
// a re-step into GET_ICE_CONFIG without waiting for the WSS to drop.
func (m *Machine) NotifyReconnectIce() {
	m.sendEvent(evReconnectIce)
}

// Send writes an outbound signaling frame over the active WSS connection.
func (m *Machine) Send(payload []byte) (int, error) {
	m.mu.Lock()
	wss := m.wss
	m.mu.Unlock()
	if wss == nil {
		return 0, model.NewError(model.ErrNotConnected, "no active WSS connection")
	}
	return wss.Send(payload)
}

// Shutdown stops the machine and closes any active WSS connection. Safe to
// call multiple times and from any goroutine.
func (m *Machine) Shutdown() {
	if !m.shutdown.CompareAndSwap(false, true) {
		return
	}
	close(m.shutdownCh)
	m.sendEvent(evShutdown)
	m.stopIceTimer()
	m.closeWSS()
}

func (m *Machine) sendEvent(ev event) {
	select {
	case m.events <- ev:
	default:
		log.Warn("statemachine event queue full, dropping event", "event", ev)
	}
}

// WaitForState blocks until the machine reaches target or a terminal state
// other than target, or ctx is done.
func (m *Machine) WaitForState(ctx context.Context, target model.State) error {
	for {
		m.mu.Lock()
		cur := m.state
		ch := m.stateCh
		m.mu.Unlock()

		if cur == target {
			return nil
		}
		if isTerminal(cur) {
			return model.NewError(model.ErrOperationTimedOut, "state machine halted in "+cur.String()+" while waiting for "+target.String())
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return model.WrapError(model.ErrOperationTimedOut, "timed out waiting for state "+target.String(), ctx.Err())
		}
	}
}

// Run drives the lifecycle loop until a terminal state is reached, the
// context is canceled, or Shutdown is called. It is intended to run in its
// own goroutine for the lifetime of the client.
func (m *Machine) Run(ctx context.Context) {
	state := model.StateNew
	for {
		if m.shutdown.Load() {
			m.setState(state)
			return
		}
		m.setState(state)

		next, err := m.step(ctx, state)
		if err != nil {
			m.setState(next)
			if errors.Is(err, errHalted) || errors.Is(err, context.Canceled) {
				return
			}
			if m.hooks.OnFatal != nil {
				m.hooks.OnFatal(err)
			}
			return
		}
		if next == state && isTerminal(state) {
			return
		}
		state = next
	}
}

func (m *Machine) step(ctx context.Context, state model.State) (model.State, error) {
	switch state {
	case model.StateNew:
		return model.StateGetToken, nil
	case model.StateGetToken:
		return m.stepGetToken(ctx)
	case model.StateDescribe:
		return m.stepDescribe(ctx)
	case model.StateCreate:
		return m.stepCreate(ctx)
	case model.StateGetEndpoint:
		return m.stepGetEndpoint(ctx)
	case model.StateGetIceConfig:
		return m.stepGetIceConfig(ctx)
	case model.StateReady:
		return m.stepReady(ctx)
	case model.StateConnect:
		return m.stepConnect(ctx)
	case model.StateConnected:
		return m.stepConnected(ctx)
	case model.StateDisconnected:
		return m.stepDisconnected(ctx)
	case model.StateDelete:
		return m.stepDelete(ctx)
	case model.StateDeleted:
		return model.StateDeleted, nil
	default:
		return state, model.NewError(model.ErrInternalError, "unknown state")
	}
}

func isTerminal(s model.State) bool {
	return s == model.StateDeleted
}

func (m *Machine) setState(s model.State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	ch := m.stateCh
	m.stateCh = make(chan struct{})
	m.mu.Unlock()
	close(ch)
	if old != s && m.hooks.OnStateChange != nil {
		m.hooks.OnStateChange(old, s)
	}
}

// --- GET_TOKEN ---

func (m *Machine) stepGetToken(ctx context.Context) (model.State, error) {
	err := m.retry(ctx, func() error {
		creds, err := m.credsProvider.Fetch(ctx, m.now())
		if err != nil {
			return model.WrapError(model.ErrNoCredentials, "credentials fetch failed", err)
		}
		m.mu.Lock()
		m.creds = creds
		m.mu.Unlock()
		return nil
	})
	if err != nil {
		return model.StateGetToken, err
	}
	return model.StateDescribe, nil
}

// --- DESCRIBE ---

func (m *Machine) stepDescribe(ctx context.Context) (model.State, error) {
	var desc model.SignalingChannelDescription
	err := m.retry(ctx, func() error {
		var e error
		desc, e = m.rest.DescribeChannel(ctx, m.channel.ControlPlaneURL, m.describeArg())
		return e
	})

	switch {
	case err == nil:
		m.mu.Lock()
		m.desc = desc
		if desc.ChannelArn != "" {
			m.resolvedArn = desc.ChannelArn
		}
		m.mu.Unlock()
		return model.StateGetEndpoint, nil

	case model.CodeOf(err) == model.ErrServiceCallNotAuthorized:
		return model.StateGetToken, nil

	case model.CodeOf(err) == model.ErrResourceNotFound:
		return model.StateCreate, nil

	case model.CodeOf(err) == model.ErrChannelBeingDeleted:
		if m.deleteRequested.Load() {
			m.mu.Lock()
			m.desc = desc
			if desc.ChannelArn != "" {
				m.resolvedArn = desc.ChannelArn
			}
			m.mu.Unlock()
			return model.StateDelete, nil
		}
		return model.StateDescribe, err

	default:
		return model.StateDescribe, err
	}
}

// describeArg returns the channel info to send to DescribeChannel,
// preferring a previously-resolved ARN (from a prior Create) over the
// user-supplied name/ARN so a reconnect cycle targets the exact resource.
func (m *Machine) describeArg() model.ChannelInfo {
	m.mu.Lock()
	arn := m.resolvedArn
	m.mu.Unlock()
	info := *m.channel
	if arn != "" {
		info.ChannelArn = arn
	}
	return info
}

// --- CREATE ---

func (m *Machine) stepCreate(ctx context.Context) (model.State, error) {
	var arn string
	err := m.retry(ctx, func() error {
		var e error
		arn, e = m.rest.CreateChannel(ctx, m.channel.ControlPlaneURL, *m.channel)
		return e
	})
	if err != nil {
		if model.CodeOf(err) == model.ErrServiceCallNotAuthorized {
			return model.StateGetToken, nil
		}
		return model.StateCreate, err
	}
	m.mu.Lock()
	m.resolvedArn = arn
	m.mu.Unlock()
	return model.StateDescribe, nil
}

// --- GET_ENDPOINT ---

func (m *Machine) stepGetEndpoint(ctx context.Context) (model.State, error) {
	var eps model.Endpoints
	err := m.retry(ctx, func() error {
		var e error
		eps, e = m.rest.GetEndpoint(ctx, m.channel.ControlPlaneURL, m.ChannelArn(), m.channel.Role)
		return e
	})
	if err != nil {
		if model.CodeOf(err) == model.ErrServiceCallNotAuthorized {
			return model.StateGetToken, nil
		}
		return model.StateGetEndpoint, err
	}
	m.mu.Lock()
	m.endpoints = eps
	m.mu.Unlock()
	return model.StateGetIceConfig, nil
}

// --- GET_ICE_CONFIG ---

func (m *Machine) stepGetIceConfig(ctx context.Context) (model.State, error) {
	configs, err := m.rest.GetIceConfig(ctx, m.channel.ControlPlaneURL, m.ChannelArn(), m.clientID)
	if err != nil {
		if model.CodeOf(err) == model.ErrServiceCallNotAuthorized {
			return model.StateGetToken, nil
		}
		// A transient ICE refresh failure never fails the overall state
		// step (spec §4.5); proceed with whatever config is already held.
		log.Warn("ICE config refresh failed, continuing", "error", err)
		if m.hooks.OnError != nil {
			m.hooks.OnError(err)
		}
		return model.StateReady, nil
	}
	m.mu.Lock()
	m.iceConfigs = configs
	m.mu.Unlock()
	if m.hooks.OnIceRefresh != nil {
		m.hooks.OnIceRefresh()
	}
	return model.StateReady, nil
}

// --- READY ---

func (m *Machine) stepReady(ctx context.Context) (model.State, error) {
	m.scheduleIceRefresh()

	if m.continueOnReady.Load() {
		return model.StateConnect, nil
	}

	for {
		select {
		case ev := <-m.events:
			switch ev {
			case evConnectRequested:
				return model.StateConnect, nil
			case evDeleteRequested:
				return model.StateDelete, nil
			case evShutdown:
				return model.StateReady, errHalted
			default:
				// Ignore stray transport/reconnect events while idle; they
				// can arrive from a previous connection's teardown racing
				// with this READY entry.
			}
		case <-ctx.Done():
			return model.StateReady, ctx.Err()
		case <-m.shutdownCh:
			return model.StateReady, errHalted
		}
	}
}

// --- CONNECT ---

func (m *Machine) stepConnect(ctx context.Context) (model.State, error) {
	m.mu.Lock()
	creds := m.creds
	endpoints := m.endpoints
	arn := m.resolvedArn
	m.mu.Unlock()

	if endpoints.WSS == "" {
		return model.StateGetEndpoint, nil
	}

	params := m.connectParamsFn()
	params.WSSEndpoint = endpoints.WSS
	params.ChannelArn = arn
	params.Role = m.channel.Role
	params.ClientID = m.clientID
	params.Creds = creds
	params.Region = m.channel.Region
	params.Skew = m.skew
	params.State = model.StateConnect
	params.Now = m.now()

	cb := m.wssCallbacks()

	var client *wsclient.Client
	err := m.retry(ctx, func() error {
		var e error
		client, e = m.connectWSS(ctx, params, cb)
		return e
	})
	if err != nil {
		if model.CodeOf(err) == model.ErrCredentialExpired || model.CodeOf(err) == model.ErrNoCredentials {
			return model.StateGetToken, nil
		}
		return model.StateConnect, err
	}

	m.mu.Lock()
	m.wss = client
	m.mu.Unlock()

	if m.hooks.OnConnected != nil {
		m.hooks.OnConnected()
	}
	return model.StateConnected, nil
}

func (m *Machine) wssCallbacks() wsclient.Callbacks {
	return wsclient.Callbacks{
		OnMessage: func(frame []byte) {
			if m.hooks.OnMessage != nil {
				m.hooks.OnMessage(frame)
			}
		},
		OnGoAway: func() {},
		OnDisconnected: func(lastErr error) {
			if m.shutdown.Load() {
				return
			}
			switch model.CodeOf(lastErr) {
			case model.ErrGoAway:
				m.sendEvent(evGoAway)
			default:
				// spec §4.6: an unsolicited drop that isn't a GO_AWAY (or is
				// of unknown cause) is surfaced as ReconnectFailed so the
				// hook layer can distinguish "transport died, reconnecting"
				// from a clean GO_AWAY-driven CONNECT re-entry.
				if m.hooks.OnError != nil {
					m.hooks.OnError(model.WrapError(model.ErrReconnectFailed, "wss connection dropped", lastErr))
				}
				m.sendEvent(evTransportDisconnected)
			}
		},
		OnError: func(err error) {
			if m.hooks.OnError != nil {
				m.hooks.OnError(err)
			}
		},
	}
}

// --- CONNECTED ---

func (m *Machine) stepConnected(ctx context.Context) (model.State, error) {
	for {
		select {
		case ev := <-m.events:
			switch ev {
			case evTransportDisconnected:
				return model.StateDisconnected, nil
			case evGoAway:
				return model.StateConnect, nil
			case evReconnectIce:
				return model.StateGetIceConfig, nil
			case evDisconnectRequested:
				m.closeWSS()
				return model.StateDisconnected, nil
			case evDeleteRequested:
				m.closeWSS()
				return model.StateDelete, nil
			case evShutdown:
				m.closeWSS()
				return model.StateConnected, errHalted
			}
		case <-ctx.Done():
			return model.StateConnected, ctx.Err()
		}
	}
}

func (m *Machine) closeWSS() {
	m.mu.Lock()
	wss := m.wss
	m.wss = nil
	m.mu.Unlock()
	if wss != nil {
		wss.Close()
	}
	if m.hooks.OnDisconnected != nil {
		m.hooks.OnDisconnected()
	}
}

// --- DISCONNECTED ---

func (m *Machine) stepDisconnected(ctx context.Context) (model.State, error) {
	if m.userDisconnect.Swap(false) {
		// A caller-requested disconnect is not a halt: channel/endpoint/ICE
		// state already resolved earlier in the lifecycle is still valid,
		// so go idle in READY rather than killing Run's loop, letting a
		// future RequestConnect drive straight back to CONNECT (spec §8's
		// round-trip law: connect(); disconnect(); connect() -> CONNECTED).
		m.continueOnReady.Store(false)
		return model.StateReady, nil
	}
	if !m.channel.Reconnect {
		return model.StateDisconnected, errHalted
	}
	if m.hooks.OnReconnect != nil {
		m.hooks.OnReconnect()
	}
	return model.StateGetToken, nil
}

// --- DELETE / DELETED ---

func (m *Machine) stepDelete(ctx context.Context) (model.State, error) {
	m.stopIceTimer()
	arn := m.ChannelArn()
	m.mu.Lock()
	version := m.desc.UpdateVersion
	m.mu.Unlock()

	err := m.retry(ctx, func() error {
		return m.rest.DeleteChannel(ctx, m.channel.ControlPlaneURL, arn, version)
	})
	if err != nil {
		if model.CodeOf(err) == model.ErrServiceCallNotAuthorized {
			return model.StateGetToken, nil
		}
		return model.StateDelete, err
	}
	if m.skew != nil {
		m.skew.Clear()
	}
	return model.StateDeleted, nil
}

// --- ICE refresh timer ---

func (m *Machine) scheduleIceRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.iceTimer != nil {
		m.iceTimer.Stop()
	}
	ttl := m.earliestIceTTLLocked()
	if ttl <= 0 {
		return
	}
	delay := ttl - iceRefreshLeadTime
	if delay < 0 {
		delay = 0
	}
	m.iceTimer = time.AfterFunc(delay, m.refreshIceInBackground)
}

func (m *Machine) earliestIceTTLLocked() time.Duration {
	var min time.Duration
	now := m.now()
	for _, c := range m.iceConfigs {
		remaining := c.TTL - now.Sub(c.FetchedAt)
		if min == 0 || remaining < min {
			min = remaining
		}
	}
	return min
}

// refreshIceInBackground performs a GET_ICE_CONFIG refresh without leaving
// CONNECTED (spec §4.9: "performed in the timer's callback without leaving
// CONNECTED when possible").
func (m *Machine) refreshIceInBackground() {
	if m.shutdown.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), iceRefreshTimeout)
	defer cancel()

	configs, err := m.rest.GetIceConfig(ctx, m.channel.ControlPlaneURL, m.ChannelArn(), m.clientID)
	if err != nil {
		log.Warn("background ICE refresh failed", "error", err)
		if m.hooks.OnError != nil {
			m.hooks.OnError(err)
		}
		return
	}
	m.mu.Lock()
	m.iceConfigs = configs
	m.mu.Unlock()
	if m.hooks.OnIceRefresh != nil {
		m.hooks.OnIceRefresh()
	}
	m.scheduleIceRefresh()
}

func (m *Machine) stopIceTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.iceTimer != nil {
		m.iceTimer.Stop()
		m.iceTimer = nil
	}
}

// --- retry/backoff ---

// retry runs op, retrying transient failures with exponential backoff
// (50ms * 2^n capped at 16s) up to the channel's configured retry policy.
// InfiniteRetryCount means retry forever (spec §4.9).
func (m *Machine) retry(ctx context.Context, op func() error) error {
	attempt := 0
	delay := initialBackoff
	for {
		err := op()
		if err == nil {
			return nil
		}
		if !m.channel.Retry || !isRetryable(err) {
			return err
		}
		attempt++
		if m.channel.MaxRetryCount != model.InfiniteRetryCount && attempt >= m.channel.MaxRetryCount {
			return err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.WrapError(model.ErrOperationTimedOut, "retry aborted", ctx.Err())
		case <-m.shutdownCh:
			return errHalted
		}

		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

func isRetryable(err error) bool {
	switch model.CodeOf(err) {
	case model.ErrTransportFailed, model.ErrOperationTimedOut:
		return true
	default:
		return false
	}
}
