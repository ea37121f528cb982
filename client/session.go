// Package client runs the LOCO connection lifecycle: booking, check-in, login, keep-alive
// and server-switch handling on top of a dispatcher.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/floegence/loco-go/crypto/secure"
	"github.com/floegence/loco-go/dispatch"
	"github.com/floegence/loco-go/internal/contextutil"
	"github.com/floegence/loco-go/locoerr"
	"github.com/floegence/loco-go/observability"
	"github.com/floegence/loco-go/packet"
	"github.com/floegence/loco-go/stream"
)

// Session owns at most one logged-on connection and the discovery caches used to open it.
//
// All methods are safe for concurrent use. Booking, Checkin, Login, Connect and Reconnect
// run one at a time.
type Session struct {
	cfg  Config
	opts options
	log  zerolog.Logger

	discoveryReg *packet.Registry
	sessionReg   *packet.Registry

	flowMu sync.Mutex

	mu            sync.Mutex
	state         State
	attempt       uint64
	booking       *BookingInfo
	checkin       *CheckinInfo
	conn          *dispatch.Dispatcher
	stopKeepalive context.CancelFunc
	closed        bool
	events        *eventQueue
}

// New validates cfg and returns a disconnected session. Call Close to release it.
func New(cfg Config, opts ...Option) (*Session, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, locoerr.Wrap(locoerr.KindState, locoerr.StageValidate, locoerr.CodeInvalidOption, err)
	}
	switch {
	case !cfg.Booking.Valid():
		return nil, invalidInput(ErrMissingBookingEndpoint)
	case cfg.PublicKey == nil:
		return nil, invalidInput(ErrMissingPublicKey)
	case cfg.Device.UUID == "":
		return nil, invalidInput(ErrMissingDeviceUUID)
	}
	discoveryReg, err := packet.NewRegistry(lifecycleShapes())
	if err != nil {
		return nil, invalidInput(err)
	}
	sessionReg, err := discoveryReg.With(o.shapes)
	if err != nil {
		return nil, locoerr.Wrap(locoerr.KindState, locoerr.StageValidate, locoerr.CodeInvalidOption, err)
	}
	return &Session{
		cfg:          cfg,
		opts:         o,
		log:          o.logger,
		discoveryReg: discoveryReg,
		sessionReg:   sessionReg,
		events:       newEventQueue(o.eventBuffer, o.logger),
	}, nil
}

func invalidInput(err error) error {
	return locoerr.Wrap(locoerr.KindState, locoerr.StageValidate, locoerr.CodeInvalidInput, err)
}

// Events returns the session event channel. It is closed by Close.
//
// Events are delivered in order. Server switch, disconnect, error and KICKOUT events
// are never dropped; other pushes and state changes are dropped, with a warning log,
// when the consumer falls more than the buffer size behind.
func (s *Session) Events() <-chan Event { return s.events.out }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CachedBooking returns the cached booking answer, or nil.
func (s *Session) CachedBooking() *BookingInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.booking
}

// CachedCheckin returns the cached check-in answer, or nil. It may be expired.
func (s *Session) CachedCheckin() *CheckinInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkin
}

// Booking returns the check-in endpoints, asking the bootstrap server only when no
// answer is cached. Failures are returned as-is; there is no retry.
func (s *Session) Booking(ctx context.Context) (*BookingInfo, error) {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	return s.doBooking(ctx)
}

// Checkin returns the main server endpoint. A cached, unexpired answer is returned
// without a network call unless force is set. A failed check-in drops the booking cache.
func (s *Session) Checkin(ctx context.Context, force bool) (*CheckinInfo, error) {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	return s.doCheckin(ctx, force)
}

// Login opens the long-lived connection to the checked-in server and authenticates it.
// An expired check-in is rejected like a missing one. On success the session is LoggedOn
// and keep-alive is running.
func (s *Session) Login(ctx context.Context, cred Credential) (*LoginResult, error) {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	return s.doLogin(ctx, cred)
}

// Connect runs booking (when not cached), check-in (subject to the cache) and login.
func (s *Session) Connect(ctx context.Context, cred Credential) (*LoginResult, error) {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	if _, err := s.doBooking(ctx); err != nil {
		return nil, err
	}
	if _, err := s.doCheckin(ctx, false); err != nil {
		return nil, err
	}
	return s.doLogin(ctx, cred)
}

// Reconnect refreshes check-in, drops the current connection and logs in again. It is
// the response to EventServerSwitch and to an unexpected disconnect.
func (s *Session) Reconnect(ctx context.Context, cred Credential) (*LoginResult, error) {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	if _, err := s.doBooking(ctx); err != nil {
		return nil, err
	}
	if _, err := s.doCheckin(ctx, true); err != nil {
		return nil, err
	}
	s.disconnect()
	return s.doLogin(ctx, cred)
}

// Send issues a request on the logged-on connection.
func (s *Session) Send(ctx context.Context, method string, payload any) (*dispatch.Ticket, error) {
	d, err := s.loggedOn()
	if err != nil {
		return nil, err
	}
	return d.Send(ctx, method, payload)
}

// Call issues a request and waits for its outcome. A non-zero status is data: inspect
// Response.Status or Response.StatusErr.
func (s *Session) Call(ctx context.Context, method string, payload any) (*dispatch.Response, error) {
	t, err := s.Send(ctx, method, payload)
	if err != nil {
		return nil, err
	}
	return t.Wait(ctx)
}

// Disconnect closes the logged-on connection, failing its pending requests. Discovery
// caches are kept.
func (s *Session) Disconnect() error {
	s.disconnect()
	return nil
}

// Close disconnects and closes the event channel. The session cannot be reused.
func (s *Session) Close() error {
	s.disconnect()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.events.close()
	return nil
}

func (s *Session) loggedOn() (*dispatch.Dispatcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoggedOn || s.conn == nil {
		return nil, locoerr.State(locoerr.StageDispatch, locoerr.CodeNotConnected, ErrNotConnected)
	}
	return s.conn, nil
}

func (s *Session) doBooking(ctx context.Context) (*BookingInfo, error) {
	if b := s.CachedBooking(); b != nil {
		s.opts.observer.Step(observability.StepBooking, observability.StepResultCached, 0)
		return b, nil
	}
	start := time.Now()
	resp, err := s.exchange(ctx, locoerr.StageBooking, s.cfg.Booking, false, MethodGetConf, GetConfRequest{
		MCCMNC: s.cfg.Device.MCCMNC,
		OS:     s.cfg.Device.OS,
		Model:  s.cfg.Device.Model,
	})
	if err == nil {
		body, _ := resp.Payload.(GetConfResponse)
		eps := bookingEndpoints(body)
		if len(eps) == 0 {
			err = locoerr.Protocol(locoerr.StageBooking, locoerr.CodeNoEndpoint, ErrNoEndpoint)
		} else {
			info := &BookingInfo{Endpoints: eps, Selected: eps[0], FetchedAt: s.opts.clock()}
			s.mu.Lock()
			s.booking = info
			s.mu.Unlock()
			s.opts.observer.Step(observability.StepBooking, observability.StepResultOK, time.Since(start))
			s.log.Info().Str("endpoint", info.Selected.String()).Int("candidates", len(eps)).Msg("booking complete")
			return info, nil
		}
	}
	s.opts.observer.Step(observability.StepBooking, observability.StepResultFail, time.Since(start))
	s.log.Warn().Err(err).Msg("booking failed")
	return nil, err
}

func (s *Session) doCheckin(ctx context.Context, force bool) (*CheckinInfo, error) {
	s.mu.Lock()
	b, cached := s.booking, s.checkin
	s.mu.Unlock()
	if b == nil {
		return nil, locoerr.State(locoerr.StageCheckin, locoerr.CodeNotBooked, ErrNotBooked)
	}
	requestStart := s.opts.clock()
	if !force && !cached.Expired(requestStart) {
		s.opts.observer.Step(observability.StepCheckin, observability.StepResultCached, 0)
		return cached, nil
	}

	start := time.Now()
	resp, err := s.exchange(ctx, locoerr.StageCheckin, b.Selected, true, MethodCheckin, CheckinRequest{
		UserID:     s.cfg.UserID,
		OS:         s.cfg.Device.OS,
		NetType:    s.cfg.Device.NetType,
		AppVersion: s.cfg.Device.AppVersion,
		MCCMNC:     s.cfg.Device.MCCMNC,
		Language:   s.cfg.Device.Language,
		CountryISO: s.cfg.Device.CountryISO,
		UseSub:     true,
	})
	if err == nil {
		body, _ := resp.Payload.(CheckinResponse)
		ep := stream.Endpoint{Host: body.Host, Port: body.Port}
		if !ep.Valid() {
			err = locoerr.Protocol(locoerr.StageCheckin, locoerr.CodeNoEndpoint, ErrNoEndpoint)
		} else {
			info := &CheckinInfo{
				Endpoint:  ep,
				FetchedAt: requestStart,
				ExpiresAt: requestStart.Add(time.Duration(body.CacheExpire) * time.Second),
				Response:  body,
			}
			s.mu.Lock()
			s.checkin = info
			s.mu.Unlock()
			s.opts.observer.Step(observability.StepCheckin, observability.StepResultOK, time.Since(start))
			s.log.Info().Str("endpoint", ep.String()).Time("expires_at", info.ExpiresAt).Msg("check-in complete")
			return info, nil
		}
	}
	s.mu.Lock()
	s.booking = nil
	s.checkin = nil
	s.mu.Unlock()
	s.opts.observer.Step(observability.StepCheckin, observability.StepResultFail, time.Since(start))
	s.log.Warn().Err(err).Str("endpoint", b.Selected.String()).Msg("check-in failed; booking cache dropped")
	return nil, err
}

func (s *Session) doLogin(ctx context.Context, cred Credential) (*LoginResult, error) {
	if cred.AccessToken == "" {
		return nil, invalidInput(ErrMissingAccessToken)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, locoerr.State(locoerr.StageLogin, locoerr.CodeNotConnected, ErrSessionClosed)
	}
	switch s.state {
	case StateLoggedOn:
		s.mu.Unlock()
		return nil, locoerr.State(locoerr.StageLogin, locoerr.CodeAlreadyLoggedOn, ErrAlreadyLoggedOn)
	case StateConnecting, StateHandshaking, StateReady:
		s.mu.Unlock()
		return nil, locoerr.State(locoerr.StageLogin, locoerr.CodeBusy, ErrConnecting)
	}
	c := s.checkin
	if c.Expired(s.opts.clock()) {
		s.mu.Unlock()
		return nil, locoerr.State(locoerr.StageLogin, locoerr.CodeNotCheckedIn, ErrNotCheckedIn)
	}
	s.attempt++
	attempt := s.attempt
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	start := time.Now()
	result, err := s.login(ctx, attempt, c.Endpoint, cred)
	if err != nil {
		s.opts.observer.Step(observability.StepLogin, observability.StepResultFail, time.Since(start))
		s.log.Warn().Err(err).Str("endpoint", c.Endpoint.String()).Msg("login failed")
		return nil, err
	}
	s.opts.observer.Step(observability.StepLogin, observability.StepResultOK, time.Since(start))
	s.log.Info().Int64("user_id", result.UserID).Str("endpoint", c.Endpoint.String()).Msg("logged on")
	return result, nil
}

func (s *Session) login(ctx context.Context, attempt uint64, ep stream.Endpoint, cred Credential) (*LoginResult, error) {
	rctx, cancel := contextutil.WithTimeout(ctx, s.opts.requestTimeout)
	defer cancel()

	raw, err := s.opts.dialer.Dial(rctx, ep)
	if err != nil {
		s.abandon(attempt, nil)
		return nil, locoerr.Transport(locoerr.StageLogin, locoerr.ClassifyDialCode(err), err)
	}
	if !s.transition(attempt, StateHandshaking) {
		_ = raw.Close()
		return nil, disconnectedDuringLogin()
	}
	tr, err := s.secure(rctx, raw)
	if err != nil {
		s.abandon(attempt, nil)
		return nil, restage(locoerr.StageLogin, err)
	}
	d := dispatch.New(tr, s.sessionReg, s.dispatchOptions(true, ep)...)
	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		_ = d.Close()
		return nil, disconnectedDuringLogin()
	}
	s.conn = d
	s.setStateLocked(StateReady)
	s.mu.Unlock()
	go s.watch(attempt, d)

	resp, err := d.Call(rctx, MethodLogin, LoginRequest{
		AppVersion:  s.cfg.Device.AppVersion,
		ProtoVer:    "1",
		OS:          s.cfg.Device.OS,
		Language:    s.cfg.Device.Language,
		DeviceUUID:  s.cfg.Device.UUID,
		OAuthToken:  cred.AccessToken,
		DeviceType:  s.cfg.Device.DeviceType,
		NetType:     s.cfg.Device.NetType,
		MCCMNC:      s.cfg.Device.MCCMNC,
		Revision:    cred.Revision,
		ChatIDs:     cred.ChatIDs,
		MaxIDs:      cred.MaxIDs,
		LastTokenID: cred.LastTokenID,
	})
	if err != nil {
		s.abandon(attempt, d)
		return nil, restage(locoerr.StageLogin, err)
	}
	if serr := resp.StatusErr(); serr != nil {
		s.abandon(attempt, d)
		return nil, locoerr.Wrap(locoerr.KindApplication, locoerr.StageLogin, locoerr.CodeStatus, serr)
	}
	body, _ := resp.Payload.(LoginResponse)

	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return nil, disconnectedDuringLogin()
	}
	s.setStateLocked(StateLoggedOn)
	if s.opts.keepaliveInterval > 0 {
		kctx, stop := context.WithCancel(context.Background())
		s.stopKeepalive = stop
		go s.keepalive(kctx, d, s.opts.keepaliveInterval)
	}
	s.mu.Unlock()
	return &LoginResult{UserID: body.UserID, Revision: body.Revision, Endpoint: ep}, nil
}

func disconnectedDuringLogin() error {
	return locoerr.State(locoerr.StageLogin, locoerr.CodeCanceled, ErrDisconnected)
}

// exchange runs one single-shot request on a fresh connection to ep.
func (s *Session) exchange(ctx context.Context, stage locoerr.Stage, ep stream.Endpoint, secured bool, method string, payload any) (*dispatch.Response, error) {
	rctx, cancel := contextutil.WithTimeout(ctx, s.opts.requestTimeout)
	defer cancel()

	raw, err := s.opts.dialer.Dial(rctx, ep)
	if err != nil {
		return nil, locoerr.Transport(stage, locoerr.ClassifyDialCode(err), err)
	}
	st := stream.Stream(raw)
	if secured {
		tr, err := s.secure(rctx, raw)
		if err != nil {
			return nil, restage(stage, err)
		}
		st = tr
	}
	d := dispatch.New(st, s.discoveryReg, s.dispatchOptions(false, ep)...)
	defer d.Close()

	resp, err := d.Call(rctx, method, payload)
	if err != nil {
		return nil, restage(stage, err)
	}
	if serr := resp.StatusErr(); serr != nil {
		return nil, locoerr.Wrap(locoerr.KindApplication, stage, locoerr.CodeStatus, serr)
	}
	return resp, nil
}

// secure performs the handshake on raw. raw is closed on failure.
func (s *Session) secure(ctx context.Context, raw stream.Stream) (*secure.Transport, error) {
	sess, err := secure.NewSession(s.cfg.PublicKey)
	if err != nil {
		_ = raw.Close()
		return nil, locoerr.Crypto(locoerr.StageHandshake, locoerr.CodeHandshakeFailed, err)
	}
	hctx, cancel := contextutil.WithTimeout(ctx, s.opts.handshakeTimeout)
	defer cancel()
	return secure.Client(hctx, raw, sess, secure.Options{MaxFrameBytes: s.opts.maxFrameBytes})
}

func (s *Session) dispatchOptions(keepAlive bool, ep stream.Endpoint) []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithKeepAlive(keepAlive),
		dispatch.WithLogger(s.log.With().Str("endpoint", ep.String()).Logger()),
		dispatch.WithObserver(s.opts.dispatch),
		dispatch.WithMaxBodyBytes(s.opts.maxBodyBytes),
	}
}

// restage re-labels err with the lifecycle stage while keeping its kind and code.
func restage(stage locoerr.Stage, err error) error {
	if e, ok := locoerr.As(err); ok {
		return locoerr.Wrap(e.Kind, stage, e.Code, err)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return locoerr.Transport(stage, locoerr.CodeTimeout, err)
	case errors.Is(err, context.Canceled):
		return locoerr.Transport(stage, locoerr.CodeCanceled, err)
	default:
		return locoerr.Transport(stage, locoerr.CodeReadFailed, err)
	}
}
