// HTTP client for the Composio account-linking and tool router APIs.
//
// Only the calls the login and chat flows need are covered:
//   - POST /api/v3/connected_accounts/link   start a hosted consent flow
//   - GET  /api/v3/connected_accounts        list accounts linked to a user
//   - POST /api/v3/tool_router/session       open a per-user MCP tool session

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/open-gamma/backend/internal/config"
	"github.com/open-gamma/backend/internal/model"
)

const maxErrorBody = 4 << 10

// ComposioClient talks to the account-linking provider.
type ComposioClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type composioLinkRequest struct {
	AuthConfigID string `json:"auth_config_id"`
	UserID       string `json:"user_id"`
	CallbackURL  string `json:"callback_url,omitempty"`
}

type composioLinkResponse struct {
	RedirectURL        string `json:"redirect_url"`
	ConnectedAccountID string `json:"connected_account_id"`
	ID                 string `json:"id"`
}

type composioAccount struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Toolkit struct {
		Slug string `json:"slug"`
	} `json:"toolkit"`
}

type composioAccountList struct {
	Items []composioAccount `json:"items"`
}

type composioToolkitFilter struct {
	Enable []string `json:"enable"`
}

type composioToolSessionRequest struct {
	UserID   string                `json:"user_id"`
	Toolkits composioToolkitFilter `json:"toolkits"`
}

type composioToolSessionResponse struct {
	SessionID string `json:"session_id"`
	MCP       struct {
		Type    string            `json:"type"`
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"mcp"`
}

// ToolSession is a tool router session scoped to one user and reachable over MCP.
type ToolSession struct {
	ID      string
	MCPURL  string
	Headers map[string]string
}

// LinkResult is the provider's answer to a link request.
type LinkResult struct {
	RedirectURL  string
	ConnectionID string
}

func NewComposioClient(cfg config.ComposioConfig) *ComposioClient {
	return &ComposioClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Link asks the provider for a hosted consent URL for userID.
func (c *ComposioClient) Link(ctx context.Context, userID, authConfigID, callbackURL string) (*LinkResult, error) {
	var resp composioLinkResponse
	err := c.do(ctx, http.MethodPost, "/api/v3/connected_accounts/link", composioLinkRequest{
		AuthConfigID: authConfigID,
		UserID:       userID,
		CallbackURL:  callbackURL,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.RedirectURL == "" {
		return nil, fmt.Errorf("composio returned empty redirect_url")
	}

	connectionID := resp.ConnectedAccountID
	if connectionID == "" {
		connectionID = resp.ID
	}
	return &LinkResult{RedirectURL: resp.RedirectURL, ConnectionID: connectionID}, nil
}

// ListConnections returns the accounts linked to userID.
func (c *ComposioClient) ListConnections(ctx context.Context, userID string) ([]model.Connection, error) {
	q := url.Values{}
	q.Set("user_ids", userID)

	var resp composioAccountList
	if err := c.do(ctx, http.MethodGet, "/api/v3/connected_accounts?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	conns := make([]model.Connection, 0, len(resp.Items))
	for _, item := range resp.Items {
		conns = append(conns, model.Connection{
			ID:      item.ID,
			Status:  item.Status,
			Toolkit: item.Toolkit.Slug,
		})
	}
	return conns, nil
}

// CreateToolSession opens a tool router session for userID limited to toolkits.
func (c *ComposioClient) CreateToolSession(ctx context.Context, userID string, toolkits []string) (*ToolSession, error) {
	var resp composioToolSessionResponse
	err := c.do(ctx, http.MethodPost, "/api/v3/tool_router/session", composioToolSessionRequest{
		UserID:   userID,
		Toolkits: composioToolkitFilter{Enable: toolkits},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.MCP.URL == "" {
		return nil, fmt.Errorf("composio returned empty mcp url")
	}
	return &ToolSession{ID: resp.SessionID, MCPURL: resp.MCP.URL, Headers: resp.MCP.Headers}, nil
}

// OpenToolset creates a tool session for userID and connects to its MCP
// endpoint. The caller must Close the returned toolset.
func (c *ComposioClient) OpenToolset(ctx context.Context, userID string, toolkits []string) (Toolset, error) {
	session, err := c.CreateToolSession(ctx, userID, toolkits)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{"x-api-key": c.apiKey}
	for k, v := range session.Headers {
		headers[k] = v
	}
	return DialMCP(ctx, session.MCPURL, headers)
}

func (c *ComposioClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal composio request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to composio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("composio returned status %d: %s", resp.StatusCode, string(detail))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse composio response: %w", err)
	}
	return nil
}
