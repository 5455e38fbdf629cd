package driver

import (
	"context"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	driverpb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/driver"

	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/dial"
	"github.com/cuemby/relay/pkg/relayerr"
)

// Client is the relay's outbound client to its local drivers. Connections
// are pooled per driver endpoint; the caller resolves the endpoint through
// config before each call.
type Client struct {
	pool *dial.Pool
}

// NewClient creates a driver client with an empty connection pool.
func NewClient() *Client {
	return &Client{pool: dial.NewPool()}
}

// Close releases the pooled connections.
func (c *Client) Close() error {
	return c.pool.Close()
}

func (c *Client) stub(loc config.Location) (driverpb.DriverCommunicationClient, error) {
	conn, err := c.pool.Get(loc)
	if err != nil {
		return nil, err
	}
	return driverpb.NewDriverCommunicationClient(conn), nil
}

// ackErr converts a driver Error ack into a typed error; transport errors
// pass through as Transport.
func ackErr(ack *common.Ack, err error) error {
	if err != nil {
		return relayerr.Wrap(relayerr.Transport, "driver call failed", err)
	}
	if ack.Status == common.Ack_ERROR {
		return relayerr.Newf(relayerr.Driver, "error from driver: %s", ack.Message)
	}
	return nil
}

// RequestDriverState asks the driver to assemble the view for a query. The
// driver replies asynchronously through the relay's DataTransfer service.
func (c *Client) RequestDriverState(ctx context.Context, loc config.Location, query *common.Query) error {
	stub, err := c.stub(loc)
	if err != nil {
		return err
	}
	ack, err := stub.RequestDriverState(ctx, query)
	return ackErr(ack, err)
}

// SubscribeEvent registers an event subscription with the driver. The
// driver acks asynchronously through the relay's EventSubscribe service.
func (c *Client) SubscribeEvent(ctx context.Context, loc config.Location, sub *common.EventSubscription) error {
	stub, err := c.stub(loc)
	if err != nil {
		return err
	}
	ack, err := stub.SubscribeEvent(ctx, sub)
	return ackErr(ack, err)
}

// SignEventSubscription has the driver sign a subscription query on behalf
// of the subscribing contract. The signed query must echo the request id it
// was asked to sign.
func (c *Client) SignEventSubscription(ctx context.Context, loc config.Location, sub *common.EventSubscription, requestID string) (*common.Query, error) {
	stub, err := c.stub(loc)
	if err != nil {
		return nil, err
	}
	signed, err := stub.RequestSignedEventSubscriptionQuery(ctx, sub)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Transport, "driver call failed", err)
	}
	if signed.RequestId != requestID {
		return nil, relayerr.Newf(relayerr.Driver, "driver signed query for request %s, want %s", signed.RequestId, requestID)
	}
	return signed, nil
}

// WriteExternalState hands a received event payload to the driver for a
// ledger write described by the contract transaction context.
func (c *Client) WriteExternalState(ctx context.Context, loc config.Location, payload *common.ViewPayload, tx *common.ContractTransaction) error {
	stub, err := c.stub(loc)
	if err != nil {
		return err
	}
	ack, err := stub.WriteExternalState(ctx, &driverpb.WriteExternalStateMessage{
		ViewPayload: payload,
		Ctx:         tx,
	})
	return ackErr(ack, err)
}

// PerformLock asks the sender-side driver to lock the asset under transfer.
func (c *Client) PerformLock(ctx context.Context, loc config.Location, sessionID string) error {
	stub, err := c.stub(loc)
	if err != nil {
		return err
	}
	ack, err := stub.PerformLock(ctx, &driverpb.PerformLockRequest{SessionId: sessionID})
	return ackErr(ack, err)
}

// CreateAsset asks the receiver-side driver to create the asset.
func (c *Client) CreateAsset(ctx context.Context, loc config.Location, sessionID string) error {
	stub, err := c.stub(loc)
	if err != nil {
		return err
	}
	ack, err := stub.CreateAsset(ctx, &driverpb.CreateAssetRequest{SessionId: sessionID})
	return ackErr(ack, err)
}

// Extinguish asks the sender-side driver to extinguish the locked asset.
func (c *Client) Extinguish(ctx context.Context, loc config.Location, sessionID string) error {
	stub, err := c.stub(loc)
	if err != nil {
		return err
	}
	ack, err := stub.Extinguish(ctx, &driverpb.ExtinguishRequest{SessionId: sessionID})
	return ackErr(ack, err)
}

// AssignAsset asks the receiver-side driver to assign the created asset to
// the beneficiary.
func (c *Client) AssignAsset(ctx context.Context, loc config.Location, sessionID string) error {
	stub, err := c.stub(loc)
	if err != nil {
		return err
	}
	ack, err := stub.AssignAsset(ctx, &driverpb.AssignAssetRequest{SessionId: sessionID})
	return ackErr(ack, err)
}
