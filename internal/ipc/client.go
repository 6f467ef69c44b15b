package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"doorkeeper/internal/configbus"
)

const dialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
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

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// VideoStart begins a capture session.
func (c *Client) VideoStart() (*VideoResponse, error) {
	return call[VideoResponse](c, "VideoStart", VideoRequest{})
}

// VideoStop ends the capture session.
func (c *Client) VideoStop() (*VideoResponse, error) {
	return call[VideoResponse](c, "VideoStop", VideoRequest{})
}

// VideoToggle flips the capture session state.
func (c *Client) VideoToggle() (*VideoResponse, error) {
	return call[VideoResponse](c, "VideoToggle", VideoRequest{})
}

// IdentityList returns every enrolled identity.
func (c *Client) IdentityList() (*IdentityListResponse, error) {
	return call[IdentityListResponse](c, "IdentityList", IdentityListRequest{})
}

// IdentityAdd creates an identity.
func (c *Client) IdentityAdd(name, accessLevel string) (*IdentityResponse, error) {
	return call[IdentityResponse](c, "IdentityAdd", IdentityAddRequest{Name: name, AccessLevel: accessLevel})
}

// IdentityUpdate patches the provided fields of an identity.
func (c *Client) IdentityUpdate(req IdentityUpdateRequest) (*IdentityResponse, error) {
	return call[IdentityResponse](c, "IdentityUpdate", req)
}

// IdentityRemove deletes an identity and its samples.
func (c *Client) IdentityRemove(id int64) (*IdentityRemoveResponse, error) {
	return call[IdentityRemoveResponse](c, "IdentityRemove", IdentityRemoveRequest{ID: id})
}

// SampleList returns the samples enrolled for an identity.
func (c *Client) SampleList(id int64) (*SampleListResponse, error) {
	return call[SampleListResponse](c, "SampleList", SampleListRequest{ID: id})
}

// SampleAdd enrolls a sample from either a JPEG image or a raw embedding.
func (c *Client) SampleAdd(req SampleAddRequest) (*IdentityResponse, error) {
	return call[IdentityResponse](c, "SampleAdd", req)
}

// SampleRemove deletes one sample by label.
func (c *Client) SampleRemove(id int64, label string) (*IdentityResponse, error) {
	return call[IdentityResponse](c, "SampleRemove", SampleRemoveRequest{ID: id, Label: label})
}

// ConfigGet reads one runtime config section, or all when section is empty.
func (c *Client) ConfigGet(section string) (*ConfigGetResponse, error) {
	return call[ConfigGetResponse](c, "ConfigGet", ConfigGetRequest{Section: section})
}

// ConfigSet replaces a runtime config section.
func (c *Client) ConfigSet(section string, doc configbus.Document) (*ConfigSetResponse, error) {
	return call[ConfigSetResponse](c, "ConfigSet", ConfigSetRequest{Section: section, Document: doc})
}

// TestNotification sends the test message through every enabled channel.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
