package client

import (
	"context"
	"encoding/json"

	"daemon-rpc/message"
)

// Thin typed wrappers over common daemon methods. Results that are domain
// objects stay opaque.

func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var n int64
	err := c.Call(ctx, "getblockcount", message.Positional(), &n)
	return n, err
}

func (c *Client) GetBestBlockHash(ctx context.Context) (string, error) {
	var h string
	err := c.Call(ctx, "getbestblockhash", message.Positional(), &h)
	return h, err
}

func (c *Client) GetBlockHash(ctx context.Context, height int64) (string, error) {
	var h string
	err := c.Call(ctx, "getblockhash", message.Positional(height), &h)
	return h, err
}

func (c *Client) GetConnectionCount(ctx context.Context) (int, error) {
	var n int
	err := c.Call(ctx, "getconnectioncount", message.Positional(), &n)
	return n, err
}

func (c *Client) GetNetworkInfo(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	err := c.Call(ctx, "getnetworkinfo", message.Positional(), &info)
	return info, err
}

// GetBlockStats accepts a height or a block hash.
func (c *Client) GetBlockStats(ctx context.Context, block message.IntOrString, stats ...string) (json.RawMessage, error) {
	args := []any{block}
	if len(stats) > 0 {
		args = append(args, stats)
	}
	var raw json.RawMessage
	err := c.Call(ctx, "getblockstats", message.Positional(args...), &raw)
	return raw, err
}

// Help returns the daemon's help text, for one method when method is not empty.
func (c *Client) Help(ctx context.Context, method string) (string, error) {
	params := message.Positional()
	if method != "" {
		params = message.Positional(method)
	}
	var text string
	err := c.Call(ctx, "help", params, &text)
	return text, err
}

// Stop asks the daemon to shut down.
func (c *Client) Stop(ctx context.Context) (string, error) {
	var msg string
	err := c.Call(ctx, "stop", message.Positional(), &msg)
	return msg, err
}

// Uptime returns the daemon uptime in seconds.
func (c *Client) Uptime(ctx context.Context) (int64, error) {
	var n int64
	err := c.Call(ctx, "uptime", message.Positional(), &n)
	return n, err
}
