package client

import (
	"context"
	"fmt"
	"time"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	networkspb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/networks"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/relay/pkg/relayerr"
)

// Client wraps the relay's client-facing Network service for application
// use: submit work, then poll for the result.
type Client struct {
	conn    *grpc.ClientConn
	network networkspb.NetworkClient

	callTimeout  time.Duration
	pollInterval time.Duration
	pollAttempts int
}

// Option adjusts client behavior.
type Option func(*Client)

// WithCallTimeout sets the per-call deadline (default 10s).
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithPolling sets the poll cadence and attempt budget (default 500ms, 30).
func WithPolling(interval time.Duration, attempts int) Option {
	return func(c *Client) { c.pollInterval = interval; c.pollAttempts = attempts }
}

// NewClient connects to a relay. An empty caCertPath connects plaintext;
// otherwise the relay is verified against the given trust cert.
func NewClient(addr, serverName, caCertPath string, opts ...Option) (*Client, error) {
	creds := insecure.NewCredentials()
	if caCertPath != "" {
		tlsCreds, err := credentials.NewClientTLSFromFile(caCertPath, serverName)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust cert: %w", err)
		}
		creds = tlsCreds
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	c := &Client{
		conn:         conn,
		network:      networkspb.NewNetworkClient(conn),
		callTimeout:  10 * time.Second,
		pollInterval: 500 * time.Millisecond,
		pollAttempts: 30,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// RequestState submits a data-sharing query and returns the request id to
// poll with.
func (c *Client) RequestState(ctx context.Context, query *networkspb.NetworkQuery) (string, error) {
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	ack, err := c.network.RequestState(callCtx, query)
	if err != nil {
		return "", relayerr.Wrap(relayerr.Transport, "request state failed", err)
	}
	if ack.Status == common.Ack_ERROR {
		return "", relayerr.Newf(relayerr.Peer, "relay rejected request: %s", ack.Message)
	}
	return ack.RequestId, nil
}

// GetState fetches the current request record once.
func (c *Client) GetState(ctx context.Context, requestID string) (*common.RequestState, error) {
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	state, err := c.network.GetState(callCtx, &networkspb.GetStateMessage{RequestId: requestID})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Transport, "get state failed", err)
	}
	return state, nil
}

// PollState polls until the request reaches a terminal state. Polling is a
// bounded loop with a fixed interval; the relay tombstones terminal records
// after the read that observed them.
func (c *Client) PollState(ctx context.Context, requestID string) (*common.RequestState, error) {
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		state, err := c.GetState(ctx, requestID)
		if err != nil {
			return nil, err
		}
		switch state.Status {
		case common.RequestState_COMPLETED, common.RequestState_ERROR, common.RequestState_DELETED:
			return state, nil
		}
		select {
		case <-ctx.Done():
			return nil, relayerr.Wrap(relayerr.Timeout, "polling interrupted", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
	return nil, relayerr.Newf(relayerr.Timeout, "request %s did not complete within %d polls", requestID, c.pollAttempts)
}

// SubscribeEvent submits an event subscription and returns its request id.
func (c *Client) SubscribeEvent(ctx context.Context, sub *networkspb.NetworkEventSubscription) (string, error) {
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	ack, err := c.network.SubscribeEvent(callCtx, sub)
	if err != nil {
		return "", relayerr.Wrap(relayerr.Transport, "subscribe event failed", err)
	}
	if ack.Status == common.Ack_ERROR {
		return "", relayerr.Newf(relayerr.Peer, "relay rejected subscription: %s", ack.Message)
	}
	return ack.RequestId, nil
}

// PollSubscriptionState polls until the subscription reaches a settled
// state (subscribed, duplicate, unsubscribed or error).
func (c *Client) PollSubscriptionState(ctx context.Context, requestID string) (*common.EventSubscriptionState, error) {
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		callCtx, cancel := c.callCtx(ctx)
		state, err := c.network.GetEventSubscriptionState(callCtx, &networkspb.GetStateMessage{RequestId: requestID})
		cancel()
		if err != nil {
			return nil, relayerr.Wrap(relayerr.Transport, "get event subscription state failed", err)
		}
		switch state.Status {
		case common.EventSubscriptionState_SUBSCRIBED,
			common.EventSubscriptionState_DUPLICATE_QUERY_SUBSCRIBED,
			common.EventSubscriptionState_UNSUBSCRIBED,
			common.EventSubscriptionState_ERROR:
			return state, nil
		}
		select {
		case <-ctx.Done():
			return nil, relayerr.Wrap(relayerr.Timeout, "polling interrupted", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
	return nil, relayerr.Newf(relayerr.Timeout, "subscription %s did not settle within %d polls", requestID, c.pollAttempts)
}

// UnsubscribeEvent removes one publication spec from a subscription.
func (c *Client) UnsubscribeEvent(ctx context.Context, requestID string, sub *networkspb.NetworkEventSubscription) error {
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	ack, err := c.network.UnsubscribeEvent(callCtx, &networkspb.NetworkEventUnsubscription{
		Request:   sub,
		RequestId: requestID,
	})
	if err != nil {
		return relayerr.Wrap(relayerr.Transport, "unsubscribe event failed", err)
	}
	if ack.Status == common.Ack_ERROR {
		return relayerr.Newf(relayerr.Peer, "relay rejected unsubscription: %s", ack.Message)
	}
	return nil
}

// GetEventStates fetches (and thereby consumes) the received events for a
// subscription.
func (c *Client) GetEventStates(ctx context.Context, requestID string) (*common.EventStates, error) {
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	states, err := c.network.GetEventStates(callCtx, &networkspb.GetStateMessage{RequestId: requestID})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Transport, "get event states failed", err)
	}
	return states, nil
}

// RequestAssetTransfer opens an asset transfer and returns the session id.
func (c *Client) RequestAssetTransfer(ctx context.Context, transfer *networkspb.NetworkAssetTransfer) (string, error) {
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	ack, err := c.network.RequestAssetTransfer(callCtx, transfer)
	if err != nil {
		return "", relayerr.Wrap(relayerr.Transport, "request asset transfer failed", err)
	}
	if ack.Status == common.Ack_ERROR {
		return "", relayerr.Newf(relayerr.Peer, "relay rejected asset transfer: %s", ack.Message)
	}
	return ack.RequestId, nil
}
