package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(serviceName+"."+method, req, resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Add enqueues paths visible to the daemon.
func (c *Client) Add(paths []string) (*AddResponse, error) {
	var resp AddResponse
	if err := c.call("Add", AddRequest{Paths: paths}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns tasks, optionally filtered by status.
func (c *Client) List(statuses []string) (*ListResponse, error) {
	var resp ListResponse
	if err := c.call("List", ListRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Retry requeues failed tasks.
func (c *Client) Retry(ids []string) (*RetryResponse, error) {
	var resp RetryResponse
	if err := c.call("Retry", RetryRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels tasks by id.
func (c *Client) Cancel(ids []string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.call("Cancel", CancelRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Prune removes finished tasks older than the given age.
func (c *Client) Prune(olderThan time.Duration) (*PruneResponse, error) {
	var resp PruneResponse
	req := PruneRequest{OlderThanSeconds: int64(olderThan / time.Second)}
	if err := c.call("Prune", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History queries the upload journal.
func (c *Client) History(req HistoryRequest) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call("History", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification sends a test notification.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
