package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client is the socket side of the daemon RPC surface. Construct one
// per command invocation; it is not safe to share across goroutines
// that expect independent failure handling.
type Client struct {
	client *rpc.Client
	conn   net.Conn
}

// dialTimeout bounds how long commands wait on a dead socket before
// falling back.
const dialTimeout = 2 * time.Second

// Dial connects to the daemon socket. The short timeout keeps CLI
// commands snappy when the daemon is down and the caller falls back to
// direct store access.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close shuts down the RPC machinery and the socket it rides on.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// call wraps the synchronous RPC round trip shared by every method.
func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.client.Call(method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Start asks the daemon to begin workflow processing.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Capstan.Start", StartRequest{})
}

// Stop halts workflow processing.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Capstan.Stop", StopRequest{})
}

// Status retrieves the daemon snapshot.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Capstan.Status", StatusRequest{})
}

// Release queues a dispatch-triggered release for the given scope.
func (c *Client) Release(req ReleaseRequest) (*ReleaseResponse, error) {
	return call[ReleaseResponse](c, "Capstan.Release", req)
}

// LogTail reads daemon log lines.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailResponse](c, "Capstan.LogTail", req)
}

// DatabaseHealth runs the queue database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	return call[DatabaseHealthResponse](c, "Capstan.DatabaseHealth", DatabaseHealthRequest{})
}

// TestNotification sends a probe through the daemon's notifier.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "Capstan.TestNotification", TestNotificationRequest{})
}

// QueueList returns queue rows, optionally filtered by status.
func (c *Client) QueueList(statuses []string) (*QueueListResponse, error) {
	return call[QueueListResponse](c, "Capstan.QueueList", QueueListRequest{Statuses: statuses})
}

// QueueDescribe returns one queue row by id.
func (c *Client) QueueDescribe(id int64) (*QueueDescribeResponse, error) {
	return call[QueueDescribeResponse](c, "Capstan.QueueDescribe", QueueDescribeRequest{ID: id})
}

// QueueClear removes every queue row.
func (c *Client) QueueClear() (*QueueClearResponse, error) {
	return call[QueueClearResponse](c, "Capstan.QueueClear", QueueClearRequest{})
}

// QueueClearCompleted removes published rows.
func (c *Client) QueueClearCompleted() (*QueueClearCompletedResponse, error) {
	return call[QueueClearCompletedResponse](c, "Capstan.QueueClearCompleted", QueueClearCompletedRequest{})
}

// QueueClearFailed removes failed rows.
func (c *Client) QueueClearFailed() (*QueueClearFailedResponse, error) {
	return call[QueueClearFailedResponse](c, "Capstan.QueueClearFailed", QueueClearFailedRequest{})
}

// QueueReset returns stuck in-flight rows to their retry statuses.
func (c *Client) QueueReset() (*QueueResetResponse, error) {
	return call[QueueResetResponse](c, "Capstan.QueueReset", QueueResetRequest{})
}

// QueueRetry requeues failed or review rows; nil means all of them.
func (c *Client) QueueRetry(ids []int64) (*QueueRetryResponse, error) {
	return call[QueueRetryResponse](c, "Capstan.QueueRetry", QueueRetryRequest{IDs: ids})
}

// QueueStop parks the given rows at the review gate.
func (c *Client) QueueStop(ids []int64) (*QueueStopResponse, error) {
	return call[QueueStopResponse](c, "Capstan.QueueStop", QueueStopRequest{IDs: ids})
}

// QueueHealth returns the aggregate queue counters.
func (c *Client) QueueHealth() (*QueueHealthResponse, error) {
	return call[QueueHealthResponse](c, "Capstan.QueueHealth", QueueHealthRequest{})
}
