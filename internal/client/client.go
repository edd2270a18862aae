package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/pinmind/internal/manager"
	"github.com/steemit/pinmind/pkg/logging"
	"github.com/steemit/pinmind/pkg/telemetry"
)

// RPCError is an error returned by the server
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s: %v", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Client talks to a running pinmind server over JSON-RPC
type Client struct {
	url    string
	http   *http.Client
	nextID atomic.Int64
	logger *zap.Logger
}

// New creates a client for the server at url
func New(url string, timeout time.Duration) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("server url is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("server url must be http or https: %s", url)
	}

	return &Client{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logging.WithComponent("pinmind-client"),
	}, nil
}

// Call invokes method and decodes its result into out, which may be nil
func (c *Client) Call(ctx context.Context, method string, params, out interface{}) error {
	ctx, span := telemetry.StartSpan(ctx, "client."+method)
	defer span.End()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, snippet)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		span.RecordError(rpcResp.Error)
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}

	c.logger.Debug("RPC call completed", zap.String("method", method))
	return nil
}

// TriggerMaintenance asks the server to sweep now
func (c *Client) TriggerMaintenance(ctx context.Context) (manager.Report, error) {
	var report manager.Report
	err := c.Call(ctx, "pins.trigger_maintenance", nil, &report)
	return report, err
}

// MaintenanceStats fetches the server's sweep freshness
func (c *Client) MaintenanceStats(ctx context.Context) (manager.MaintenanceStats, error) {
	var stats manager.MaintenanceStats
	err := c.Call(ctx, "pins.get_maintenance_stats", nil, &stats)
	return stats, err
}

// Counts fetches the number of pins per view
func (c *Client) Counts(ctx context.Context) (manager.Counts, error) {
	var counts manager.Counts
	err := c.Call(ctx, "pins.get_counts", nil, &counts)
	return counts, err
}
