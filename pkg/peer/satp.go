package peer

import (
	"context"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	relaypb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/relay"

	"github.com/cuemby/relay/pkg/config"
)

// SATP gateway-to-gateway calls, one per protocol message. Each returns the
// counterpart gateway's synchronous ack; progress beyond the ack arrives as
// the next inbound protocol message.

func (c *Client) satp(loc config.Location) (relaypb.SATPClient, error) {
	conn, err := c.pool.Get(loc)
	if err != nil {
		return nil, err
	}
	return relaypb.NewSATPClient(conn), nil
}

func (c *Client) TransferProposalClaims(ctx context.Context, loc config.Location, req *relaypb.TransferProposalClaimsRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.TransferProposalClaims(ctx, req))
}

func (c *Client) TransferProposalReceipt(ctx context.Context, loc config.Location, req *relaypb.TransferProposalReceiptRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.TransferProposalReceipt(ctx, req))
}

func (c *Client) TransferCommence(ctx context.Context, loc config.Location, req *relaypb.TransferCommenceRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.TransferCommence(ctx, req))
}

func (c *Client) AckCommence(ctx context.Context, loc config.Location, req *relaypb.AckCommenceRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.AckCommence(ctx, req))
}

func (c *Client) SendAssetStatus(ctx context.Context, loc config.Location, req *relaypb.SendAssetStatusRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.SendAssetStatus(ctx, req))
}

func (c *Client) LockAssertion(ctx context.Context, loc config.Location, req *relaypb.LockAssertionRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.LockAssertion(ctx, req))
}

func (c *Client) LockAssertionReceipt(ctx context.Context, loc config.Location, req *relaypb.LockAssertionReceiptRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.LockAssertionReceipt(ctx, req))
}

func (c *Client) CommitPrepare(ctx context.Context, loc config.Location, req *relaypb.CommitPrepareRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.CommitPrepare(ctx, req))
}

func (c *Client) CommitReady(ctx context.Context, loc config.Location, req *relaypb.CommitReadyRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.CommitReady(ctx, req))
}

func (c *Client) CommitFinalAssertion(ctx context.Context, loc config.Location, req *relaypb.CommitFinalAssertionRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.CommitFinalAssertion(ctx, req))
}

func (c *Client) AckFinalReceipt(ctx context.Context, loc config.Location, req *relaypb.AckFinalReceiptRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.AckFinalReceipt(ctx, req))
}

func (c *Client) TransferCompleted(ctx context.Context, loc config.Location, req *relaypb.TransferCompletedRequest) (*common.Ack, error) {
	stub, err := c.satp(loc)
	if err != nil {
		return nil, err
	}
	return wrapTransport(stub.TransferCompleted(ctx, req))
}
