package eventsubscribe

import (
	"context"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	relaypb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/relay"

	"github.com/cuemby/relay/pkg/address"
	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/cuemby/relay/pkg/subscription"
)

// DriverClient is the slice of the driver client this service needs.
type DriverClient interface {
	SubscribeEvent(ctx context.Context, loc config.Location, sub *common.EventSubscription) error
}

// PeerClient is the slice of the peer relay client this service needs.
type PeerClient interface {
	SendSubscriptionStatus(ctx context.Context, loc config.Location, ack *common.Ack) (*common.Ack, error)
}

// Service implements the peer-facing relay.events.EventSubscribe surface.
// On the source relay it accepts subscriptions and relays driver acks back;
// on the subscribing relay it applies returned status to the local record.
type Service struct {
	relaypb.UnimplementedEventSubscribeServer

	resolver *config.Resolver
	remote   storage.Store
	subs     *subscription.Manager
	drivers  DriverClient
	peers    PeerClient
}

// NewService wires the event subscribe service.
func NewService(resolver *config.Resolver, remote storage.Store, subs *subscription.Manager, drivers DriverClient, peers PeerClient) *Service {
	return &Service{
		resolver: resolver,
		remote:   remote,
		subs:     subs,
		drivers:  drivers,
		peers:    peers,
	}
}

// SubscribeEvent runs on the source relay: the subscribing relay requests a
// subscription (or unsubscription) for its network. The record is persisted
// in the remote store, the serving driver is engaged in the background, and
// the peer is acked immediately.
func (s *Service) SubscribeEvent(ctx context.Context, sub *common.EventSubscription) (*common.Ack, error) {
	logger := log.WithComponent("eventsubscribe")
	if sub.Query == nil {
		return &common.Ack{Status: common.Ack_ERROR, Message: "no query passed with event subscription request"}, nil
	}
	requestID := sub.Query.RequestId
	logger.Info().Str("request_id", requestID).Str("operation", sub.Operation.String()).Msg("received event subscription from peer")

	if err := s.acceptSubscription(sub, requestID); err != nil {
		metrics.RequestsTotal.WithLabelValues("event_subscribe_remote", "rejected").Inc()
		return &common.Ack{
			Status:    common.Ack_ERROR,
			RequestId: requestID,
			Message:   "error: event subscription from driver failed: " + err.Error(),
		}, nil
	}
	metrics.RequestsTotal.WithLabelValues("event_subscribe_remote", "accepted").Inc()
	return &common.Ack{Status: common.Ack_OK, RequestId: requestID}, nil
}

func (s *Service) acceptSubscription(sub *common.EventSubscription, requestID string) error {
	if requestID == "" {
		return relayerr.New(relayerr.Protocol, "subscription query has no request id")
	}
	if err := storage.PutMessage(s.remote, storage.EventSubscriptionKey(requestID), sub); err != nil {
		return err
	}
	parsed, err := address.Parse(sub.Query.Address)
	if err != nil {
		return err
	}
	driverLoc, err := s.resolver.GetDriver(parsed.NetworkID)
	if err != nil {
		return err
	}

	s.spawnDriverSubscribe(sub, driverLoc, requestID)
	return nil
}

// spawnDriverSubscribe forwards the subscription to the driver. A driver
// failure is re-expressed as an error ack pushed through the same path a
// real driver ack takes, so the subscribing relay always hears back.
func (s *Service) spawnDriverSubscribe(sub *common.EventSubscription, driverLoc config.Location, requestID string) {
	timeout := s.resolver.CallTimeout()
	go func() {
		logger := log.WithComponent("eventsubscribe")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := s.drivers.SubscribeEvent(ctx, driverLoc, sub)
		if err == nil {
			logger.Debug().Str("request_id", requestID).Msg("driver accepted event subscription")
			return
		}
		logger.Error().Err(err).Str("request_id", requestID).Msg("driver rejected event subscription")

		errorAck := &common.Ack{
			Status:    common.Ack_ERROR,
			RequestId: requestID,
			Message:   "driver error: " + err.Error(),
		}
		if _, err := s.relayDriverAck(requestID, errorAck); err != nil {
			logger.Error().Err(err).Str("request_id", requestID).Msg("failed to return driver error to subscribing relay")
		}
	}()
}

// SendDriverSubscriptionStatus runs on the source relay when its driver
// acks the subscription. The ack is routed back to the subscribing relay;
// a completed unsubscription additionally removes the stored record.
func (s *Service) SendDriverSubscriptionStatus(ctx context.Context, ack *common.Ack) (*common.Ack, error) {
	logger := log.WithComponent("eventsubscribe")
	logger.Info().Str("request_id", ack.RequestId).Msg("received subscription ack from driver")

	reply, err := s.relayDriverAck(ack.RequestId, ack)
	if err != nil {
		return &common.Ack{
			Status:    common.Ack_ERROR,
			RequestId: ack.RequestId,
			Message:   "error: " + err.Error(),
		}, nil
	}
	return reply, nil
}

// relayDriverAck looks up the stored subscription to find the subscribing
// relay and the operation, then spawns the status return. For an Ok
// unsubscribe round-trip the remote record is removed once the subscribing
// relay acks.
func (s *Service) relayDriverAck(requestID string, ack *common.Ack) (*common.Ack, error) {
	sub := &common.EventSubscription{}
	if err := storage.GetMessage(s.remote, storage.EventSubscriptionKey(requestID), sub); err != nil {
		return nil, err
	}
	if sub.Query == nil {
		return nil, relayerr.New(relayerr.Protocol, "stored event subscription has no query")
	}
	originLoc, err := s.resolver.GetPeerRelay(sub.Query.RequestingRelay)
	if err != nil {
		return nil, err
	}
	unsubscribe := sub.Operation == common.EventSubOperation_UNSUBSCRIBE

	timeout := s.resolver.CallTimeout()
	go func() {
		logger := log.WithComponent("eventsubscribe")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		reply, err := s.peers.SendSubscriptionStatus(ctx, originLoc, ack)
		if err != nil {
			logger.Error().Err(err).Str("request_id", requestID).Msg("failed to send subscription status to subscribing relay")
			return
		}
		logger.Debug().Str("request_id", requestID).Msg("subscription status sent to subscribing relay")

		if unsubscribe && reply.Status == common.Ack_OK && ack.Status == common.Ack_OK {
			if err := storage.UnsetMessage(s.remote, storage.EventSubscriptionKey(requestID), nil); err != nil {
				logger.Error().Err(err).Str("request_id", requestID).Msg("failed to remove unsubscribed record from remote store")
				return
			}
			logger.Debug().Str("request_id", requestID).Msg("removed event subscription from remote store")
		}
	}()

	return &common.Ack{Status: common.Ack_OK, RequestId: requestID}, nil
}

// SendSubscriptionStatus runs on the subscribing relay: the source relay
// returns the driver's ack and the local subscription record advances
// through the status table (or folds into a canonical record when the
// driver reported a duplicate).
func (s *Service) SendSubscriptionStatus(ctx context.Context, ack *common.Ack) (*common.Ack, error) {
	logger := log.WithComponent("eventsubscribe")
	logger.Info().Str("request_id", ack.RequestId).Str("status", ack.Status.String()).Msg("received subscription status from source relay")

	s.subs.UpdateStatus(ack.RequestId, ack.Status, ack.Message)
	return &common.Ack{Status: common.Ack_OK, RequestId: ack.RequestId}, nil
}
