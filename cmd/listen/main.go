// Command listen tails a user's notifications over the push channel,
// reconnecting with backoff and pulling anything missed while away.
//
//	listen --server http://localhost:8080 --token $(go run ./cmd/dev/genjwt)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"qatmarket/internal/domain"
	"qatmarket/internal/notification"
	"qatmarket/internal/session"
	wire "qatmarket/pkg/domain"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

type printer struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	lastSeq int64
}

func (p *printer) print(ev wire.OutboundEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.seen[ev.ID]; dup {
		return
	}
	p.seen[ev.ID] = struct{}{}
	if ev.Seq > p.lastSeq {
		p.lastSeq = ev.Seq
	}
	fmt.Println(line(ev))
}

// line renders known events the way the server titles them and falls back
// to the raw payload for anything this build cannot decode.
func line(ev wire.OutboundEvent) string {
	at := ev.CommittedAt.Format(time.RFC3339)
	decoded, err := domain.FromOutbound(ev)
	if err != nil {
		return fmt.Sprintf("%s  %-26s %s", at, ev.Type, ev.Payload)
	}
	subject, body, _ := notification.Render(decoded.Payload)
	return fmt.Sprintf("%s  %-26s %s: %s", at, ev.Type, subject, body)
}

func (p *printer) after() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq
}

func main() {
	_ = godotenv.Load()

	server := flag.String("server", "http://localhost:8080", "qatmarket base URL")
	token := flag.String("token", os.Getenv("QATMARKET_TOKEN"), "bearer token (defaults to QATMARKET_TOKEN)")
	verbose := flag.BoolP("verbose", "v", false, "log state transitions")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "a --token is required")
		os.Exit(2)
	}
	base, err := url.Parse(*server)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid --server:", err)
		os.Exit(2)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log := logger.NewWithLevel("listen", level)

	wsURL := *base
	wsURL.Scheme = strings.Replace(base.Scheme, "http", "ws", 1)
	wsURL.Path = "/ws"

	p := &printer{seen: make(map[string]struct{})}
	client := &http.Client{Timeout: 10 * time.Second}

	r := session.NewReconnector(&session.WebSocketDialer{URL: wsURL.String(), Token: *token}, session.ReconnectorConfig{
		Policy:  session.DefaultBackoff(),
		OnEvent: p.print,
		Pull: func(ctx context.Context) error {
			return pull(ctx, client, *base, *token, p)
		},
		OnState: func(s session.Step) {
			if s.To == session.StateConnected {
				fmt.Fprintln(os.Stderr, "connected")
			}
		},
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = r.Run(ctx)
	switch {
	case errors.Is(err, session.ErrOffline):
		fmt.Fprintln(os.Stderr, "giving up:", err)
		os.Exit(1)
	case err != nil && ctx.Err() == nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// pull fetches unread notifications past the last seq seen, page by page.
func pull(ctx context.Context, client *http.Client, base url.URL, token string, p *printer) error {
	for {
		u := base
		u.Path = "/api/v1/notifications"
		u.RawQuery = url.Values{"after": {strconv.FormatInt(p.after(), 10)}, "limit": {"100"}}.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		if err != nil {
			return err
		}

		var page struct {
			Events []wire.OutboundEvent `json:"events"`
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("pull unread: %s", resp.Status)
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return err
		}

		for _, ev := range page.Events {
			p.print(ev)
		}
		if len(page.Events) < 100 {
			return nil
		}
	}
}
