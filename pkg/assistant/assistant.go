// Package assistant is the outbound MCP client for the AI assistant backend.
// The gateway connects over the streamable HTTP transport at startup and
// forwards admitted prompts, carrying a bounded slice of recent conversation
// history so the backend can answer in context.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sarvinshrivastava/assistant-gateway/pkg/session"
)

const (
	// DefaultTool is the tool name called for each prompt.
	DefaultTool = "ask"

	// DefaultHistoryLimit bounds how many prior exchanges accompany a prompt.
	DefaultHistoryLimit = 10
)

// clientInfo identifies the gateway to the backend during the MCP handshake.
var clientInfo = &mcp.Implementation{Name: "assistant-gateway", Version: "0.1.0"}

// Config holds assistant client parameters.
type Config struct {
	// Endpoint is the backend's streamable HTTP URL.
	Endpoint string

	// Tool is the tool name to call. Defaults to DefaultTool.
	Tool string

	// HistoryLimit caps the exchanges sent with each prompt.
	// Defaults to DefaultHistoryLimit.
	HistoryLimit int

	// HTTPClient overrides the transport's HTTP client, e.g. to inject
	// auth headers. Nil uses the default client.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.Tool == "" {
		c.Tool = DefaultTool
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	return c
}

// historyEntry is one exchange in the wire payload.
type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is a connected assistant backend session.
type Client struct {
	cfg  Config
	conn *mcp.ClientSession
}

// Dial connects to the assistant backend.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" {
		return nil, errors.New("assistant endpoint not configured")
	}

	client := mcp.NewClient(clientInfo, nil)
	conn, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: cfg.HTTPClient,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to assistant backend: %w", err)
	}

	slog.Info("assistant: connected", "endpoint", cfg.Endpoint, "tool", cfg.Tool)
	return &Client{cfg: cfg, conn: conn}, nil
}

// Ask forwards a prompt with the most recent exchanges from history. The
// history slice is truncated to the configured limit before sending.
func (c *Client) Ask(ctx context.Context, prompt string, history []session.Exchange) (string, error) {
	if len(history) > c.cfg.HistoryLimit {
		history = history[len(history)-c.cfg.HistoryLimit:]
	}
	entries := make([]historyEntry, len(history))
	for i, ex := range history {
		entries[i] = historyEntry{Role: ex.Role, Content: ex.Content}
	}

	result, err := c.conn.CallTool(ctx, &mcp.CallToolParams{
		Name: c.cfg.Tool,
		Arguments: map[string]any{
			"prompt":  prompt,
			"history": entries,
		},
	})
	if err != nil {
		return "", fmt.Errorf("calling assistant tool %q: %w", c.cfg.Tool, err)
	}
	if result.IsError {
		return "", fmt.Errorf("assistant tool %q: %s", c.cfg.Tool, resultText(result))
	}

	text := resultText(result)
	if text == "" {
		return "", errors.New("assistant returned no text content")
	}
	return text, nil
}

// Ping checks the backend connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx, nil)
}

// StartPing pings the backend on the given interval until the context is
// cancelled, logging failures. The returned channel closes when the loop
// exits.
func (c *Client) StartPing(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Ping(ctx); err != nil {
					slog.Warn("assistant: health ping failed", "error", err)
				}
			}
		}
	}()
	return done
}

// Close closes the backend session.
func (c *Client) Close() error {
	return c.conn.Close()
}

func resultText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
