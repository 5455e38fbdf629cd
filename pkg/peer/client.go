package peer

import (
	"context"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	relaypb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/relay"

	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/dial"
	"github.com/cuemby/relay/pkg/relayerr"
)

// Client is the relay's outbound client to remote relays, covering the four
// peer protocols: data transfer, event subscription, event publication and
// asset transfer. Connections are pooled per peer endpoint.
type Client struct {
	pool *dial.Pool
}

// NewClient creates a peer client with an empty connection pool.
func NewClient() *Client {
	return &Client{pool: dial.NewPool()}
}

// Close releases the pooled connections.
func (c *Client) Close() error {
	return c.pool.Close()
}

func wrapTransport(ack *common.Ack, err error) (*common.Ack, error) {
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Transport, "peer call failed", err)
	}
	return ack, nil
}

// --- relay.datatransfer.DataTransfer ---

// RequestState forwards a query to the remote relay serving the target
// network.
func (c *Client) RequestState(ctx context.Context, loc config.Location, query *common.Query) (*common.Ack, error) {
	conn, err := c.pool.Get(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(relaypb.NewDataTransferClient(conn).RequestState(ctx, query))
}

// SendState returns a view payload to the relay that originated the query.
func (c *Client) SendState(ctx context.Context, loc config.Location, payload *common.ViewPayload) (*common.Ack, error) {
	conn, err := c.pool.Get(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(relaypb.NewDataTransferClient(conn).SendState(ctx, payload))
}

// SendDriverState delivers a driver's view payload to the local relay's own
// DataTransfer surface, reusing the peer wire path for driver replies.
func (c *Client) SendDriverState(ctx context.Context, loc config.Location, payload *common.ViewPayload) (*common.Ack, error) {
	conn, err := c.pool.Get(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(relaypb.NewDataTransferClient(conn).SendDriverState(ctx, payload))
}

// --- relay.events.EventSubscribe ---

// SubscribeEvent forwards a subscription (or unsubscription) to the remote
// relay serving the source network.
func (c *Client) SubscribeEvent(ctx context.Context, loc config.Location, sub *common.EventSubscription) (*common.Ack, error) {
	conn, err := c.pool.Get(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(relaypb.NewEventSubscribeClient(conn).SubscribeEvent(ctx, sub))
}

// SendSubscriptionStatus returns the source driver's subscription ack to
// the subscribing relay.
func (c *Client) SendSubscriptionStatus(ctx context.Context, loc config.Location, ack *common.Ack) (*common.Ack, error) {
	conn, err := c.pool.Get(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(relaypb.NewEventSubscribeClient(conn).SendSubscriptionStatus(ctx, ack))
}

// SendDriverSubscriptionStatus delivers a driver's subscription ack to the
// local relay's own EventSubscribe surface.
func (c *Client) SendDriverSubscriptionStatus(ctx context.Context, loc config.Location, ack *common.Ack) (*common.Ack, error) {
	conn, err := c.pool.Get(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(relaypb.NewEventSubscribeClient(conn).SendDriverSubscriptionStatus(ctx, ack))
}

// --- relay.events.EventPublish ---

// PublishState forwards an event payload to the subscribing relay.
func (c *Client) PublishState(ctx context.Context, loc config.Location, payload *common.ViewPayload) (*common.Ack, error) {
	conn, err := c.pool.Get(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(relaypb.NewEventPublishClient(conn).SendState(ctx, payload))
}

// PublishDriverState delivers a driver-emitted event payload to the local
// relay's own EventPublish surface.
func (c *Client) PublishDriverState(ctx context.Context, loc config.Location, payload *common.ViewPayload) (*common.Ack, error) {
	conn, err := c.pool.Get(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(relaypb.NewEventPublishClient(conn).SendDriverState(ctx, payload))
}
