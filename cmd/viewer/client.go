package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"balldrop.ai/internal/protocol"
)

var errNoRace = errors.New("no race built yet")

// update is one message from the network goroutines to the draw loop.
type update struct {
	boot   *protocol.BootstrapResponse
	frame  *protocol.FrameMsg
	status string
}

type client struct {
	base    string
	http    *http.Client
	dialer  *websocket.Dialer
	maxFPS  int
	retry   time.Duration
	updates chan update
}

func newClient(base string, maxFPS int) *client {
	return &client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		maxFPS:  maxFPS,
		retry:   time.Second,
		updates: make(chan update, 16),
	}
}

func (c *client) bootstrap(ctx context.Context) (protocol.BootstrapResponse, error) {
	var boot protocol.BootstrapResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/observer/bootstrap", nil)
	if err != nil {
		return boot, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return boot, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return boot, err
	}
	if resp.StatusCode != http.StatusOK {
		var e protocol.ErrorMsg
		if json.Unmarshal(body, &e) == nil && e.Code == protocol.ErrNoRace {
			return boot, errNoRace
		}
		return boot, fmt.Errorf("bootstrap: %s", resp.Status)
	}
	if err := json.Unmarshal(body, &boot); err != nil {
		return boot, fmt.Errorf("bootstrap: %w", err)
	}
	if boot.ProtocolVersion != protocol.Version {
		return boot, fmt.Errorf("bootstrap: protocol_version %q not supported", boot.ProtocolVersion)
	}
	return boot, nil
}

// fetchLoop refetches the bootstrap whenever refetch fires, retrying until
// it succeeds.
func (c *client) fetchLoop(ctx context.Context, refetch <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-refetch:
		}
		for {
			boot, err := c.bootstrap(ctx)
			if err == nil {
				c.push(ctx, update{boot: &boot})
				break
			}
			c.push(ctx, update{status: err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retry):
			}
		}
	}
}

func (c *client) wsURL() (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/observer/ws"
	return u.String(), nil
}

// streamLoop keeps one subscription open, reconnecting after failures.
func (c *client) streamLoop(ctx context.Context, actuators bool) {
	for ctx.Err() == nil {
		err := c.stream(ctx, actuators)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.push(ctx, update{status: "stream: " + err.Error()})
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retry):
		}
	}
}

func (c *client) stream(ctx context.Context, actuators bool) error {
	u, err := c.wsURL()
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sub := protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, MaxFPS: c.maxFPS, Actuators: actuators}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeFrame:
			var f protocol.FrameMsg
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			c.push(ctx, update{frame: &f})
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			return fmt.Errorf("%s: %s", e.Code, e.Message)
		}
	}
}

func (c *client) push(ctx context.Context, u update) {
	select {
	case c.updates <- u:
	case <-ctx.Done():
	}
}
