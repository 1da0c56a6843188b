package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
)

// clientPingInterval keeps long-lived operator connections from idling out.
const clientPingInterval = 30 * time.Second

// Client is the operator-side counterpart of Server: it dials the control
// listener's WebSocket endpoint and invokes the recording tools. The bot
// never dials out; this exists for operator tooling and integration tests.
type Client struct {
	client  *sdk.Client
	session *sdk.ClientSession
}

func NewClient(name, version string) *Client {
	return &Client{client: sdk.NewClient(&sdk.Implementation{Name: name, Version: version}, nil)}
}

// Connect dials rawurl and opens the MCP session. http/https schemes are
// rewritten to their WebSocket equivalents. The keepalive ping stops when
// ctx is cancelled or the session drops.
func (c *Client) Connect(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return fmt.Errorf("parse control url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial control listener: %w", err)
	}
	sess, err := c.client.Connect(ctx, NewWebSocketTransport(conn), nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mcp connect: %w", err)
	}
	c.session = sess
	go func() {
		ticker := time.NewTicker(clientPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sess.Ping(context.Background(), nil); err != nil {
					logging.Debugw("mcp client ping failed", "err", err)
					return
				}
			}
		}
	}()
	logging.Debugw("mcp client connected", "url", u.String())
	return nil
}

// CallText invokes one tool and returns its text payload. Every tool the
// server registers answers with a single text content item.
func (c *Client) CallText(ctx context.Context, tool string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", errors.New("mcp client: not connected")
	}
	res, err := c.session.CallTool(ctx, &sdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", tool, err)
	}
	for _, content := range res.Content {
		if tc, ok := content.(*sdk.TextContent); ok {
			return tc.Text, nil
		}
	}
	return "", fmt.Errorf("call %s: no text content in result", tool)
}

func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}
