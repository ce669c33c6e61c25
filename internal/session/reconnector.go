package session

import (
	"context"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	wire "qatmarket/pkg/domain"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

var (
	// ErrServerClosed marks a connection the server ended on purpose.
	ErrServerClosed = errors.New("server closed the connection")
	// ErrOffline is returned by Run once the retry budget is spent.
	ErrOffline = errors.New("offline: reconnect attempts exhausted")
)

// Conn is one established push connection.
type Conn interface {
	// Next blocks for the next event. It returns ErrServerClosed (wrapped)
	// when the server closed the connection deliberately.
	Next(ctx context.Context) (wire.OutboundEvent, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type ReconnectorConfig struct {
	Policy BackoffPolicy
	// OnEvent receives every pushed event.
	OnEvent func(wire.OutboundEvent)
	// Pull runs after every successful connect to fetch what was missed.
	Pull func(ctx context.Context) error
	// OnState observes every transition.
	OnState func(Step)
}

// Reconnector keeps a push connection alive, applying the Machine's
// transitions to a real Dialer.
type Reconnector struct {
	dialer  Dialer
	cfg     ReconnectorConfig
	machine *Machine
	logger  logger.Logger
	after   func(time.Duration) <-chan time.Time
}

func NewReconnector(dialer Dialer, cfg ReconnectorConfig, log logger.Logger) *Reconnector {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Reconnector{
		dialer:  dialer,
		cfg:     cfg,
		machine: NewMachine(cfg.Policy, rnd.Float64),
		logger:  log,
		after:   time.After,
	}
}

func (r *Reconnector) State() State { return r.machine.State() }

func (r *Reconnector) fire(ev Event) Step {
	step, err := r.machine.Fire(ev)
	if err != nil {
		r.logger.Error("Unexpected client transition", map[string]interface{}{"error": err.Error()})
		return step
	}
	r.logger.Debug("Client state changed", map[string]interface{}{
		"from":  step.From.String(),
		"to":    step.To.String(),
		"event": ev.String(),
		"delay": step.Delay.String(),
	})
	if r.cfg.OnState != nil {
		r.cfg.OnState(step)
	}
	return step
}

// Run connects and reconnects until ctx ends or the client goes offline.
func (r *Reconnector) Run(ctx context.Context) error {
	var delay time.Duration
	for {
		if delay > 0 {
			select {
			case <-r.after(delay):
			case <-ctx.Done():
				r.fire(EventStop)
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			r.fire(EventStop)
			return ctx.Err()
		}

		r.fire(EventDial)
		conn, err := r.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.fire(EventStop)
				return ctx.Err()
			}
			step := r.fire(EventDialFailed)
			r.logger.Warn("Dial failed", map[string]interface{}{
				"error":    err.Error(),
				"failures": r.machine.Failures(),
				"retry_in": step.Delay.String(),
			})
			if step.To == StateOffline {
				return ErrOffline
			}
			delay = step.Delay
			continue
		}

		r.fire(EventDialSucceeded)
		if r.cfg.Pull != nil {
			if err := r.cfg.Pull(ctx); err != nil {
				r.logger.Warn("Pull after connect failed", map[string]interface{}{"error": err.Error()})
			}
		}

		err = r.consume(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			r.fire(EventStop)
			return ctx.Err()
		}
		if errors.Is(err, ErrServerClosed) {
			delay = r.fire(EventServerClosed).Delay
		} else {
			delay = r.fire(EventDropped).Delay
		}
	}
}

func (r *Reconnector) consume(ctx context.Context, conn Conn) error {
	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		if r.cfg.OnEvent != nil {
			r.cfg.OnEvent(ev)
		}
	}
}

// WebSocketDialer dials the /ws endpoint authenticating with a bearer token
// in the query string.
type WebSocketDialer struct {
	URL    string
	Token  string
	Header http.Header
	Dialer *websocket.Dialer
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid push url")
	}
	if d.Token != "" {
		q := u.Query()
		q.Set("token", d.Token)
		u.RawQuery = q.Encode()
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, u.String(), d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Next(ctx context.Context) (wire.OutboundEvent, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	var ev wire.OutboundEvent
	if err := c.conn.ReadJSON(&ev); err != nil {
		if websocket.IsCloseError(err, websocket.CloseServiceRestart, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			return ev, errors.Wrap(ErrServerClosed, err.Error())
		}
		return ev, err
	}
	return ev, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
