package network

import (
	"context"

	"github.com/google/uuid"
	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	networkspb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/networks"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/cuemby/relay/pkg/address"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/cuemby/relay/pkg/subscription"
)

// SubscribeEvent accepts an event subscription from a local client. The
// subscription is recorded as SubscribePendingAck and forwarded to the
// source relay in the background; duplicate subscriptions fold into the
// canonical record when the source driver reports one already exists.
func (s *Service) SubscribeEvent(ctx context.Context, req *networkspb.NetworkEventSubscription) (*common.Ack, error) {
	requestID := uuid.NewString()
	if req.Query == nil {
		return errAck(requestID, "no query passed with event subscription request"), nil
	}
	if req.EventPublicationSpec == nil {
		return errAck(requestID, "no event publication spec passed with event subscription request"), nil
	}

	target := &common.EventSubscriptionState{
		Status:                common.EventSubscriptionState_SUBSCRIBE_PENDING_ACK,
		RequestId:             requestID,
		PublishingRequestId:   "",
		EventMatcher:          req.EventMatcher,
		EventPublicationSpecs: []*common.EventPublication{req.EventPublicationSpec},
	}

	sub := &common.EventSubscription{
		EventMatcher: req.EventMatcher,
		Query:        s.buildQuery(req.Query, requestID),
		Operation:    common.EventSubOperation_SUBSCRIBE,
	}
	return s.dispatchSubscription(sub, req.EventPublicationSpec, target, requestID)
}

// UnsubscribeEvent removes one publication spec from an existing
// subscription. Only when the last spec goes does a real unsubscribe travel
// upstream; removing a duplicate leaves the canonical subscription alive.
func (s *Service) UnsubscribeEvent(ctx context.Context, req *networkspb.NetworkEventUnsubscription) (*common.Ack, error) {
	requestID := req.RequestId
	if req.Request == nil || req.Request.Query == nil {
		return errAck(requestID, "no event subscription passed with unsubscription request"), nil
	}
	spec := req.Request.EventPublicationSpec
	if spec == nil {
		return errAck(requestID, "no event publication spec provided for unsubscription request"), nil
	}

	result, err := s.subs.RemovePubSpec(requestID, spec)
	if err != nil {
		return errAck(requestID, err.Error()), nil
	}
	switch result {
	case subscription.SpecRemoved:
		return okAck(requestID, "unsubscribed requested event publication specification"), nil
	case subscription.SpecMismatch:
		return errAck(requestID, "unsubscription request does not match existing subscription: check event publication specification"), nil
	}

	// Last spec: dispatch a real unsubscribe to the source relay.
	target := &common.EventSubscriptionState{
		Status:                common.EventSubscriptionState_UNSUBSCRIBE_PENDING_ACK,
		RequestId:             requestID,
		PublishingRequestId:   requestID,
		EventMatcher:          req.Request.EventMatcher,
		EventPublicationSpecs: []*common.EventPublication{spec},
	}
	sub := &common.EventSubscription{
		EventMatcher: req.Request.EventMatcher,
		Query:        s.buildQuery(req.Request.Query, requestID),
		Operation:    common.EventSubOperation_UNSUBSCRIBE,
	}
	return s.dispatchSubscription(sub, spec, target, requestID)
}

// buildQuery rewrites a client-supplied NetworkQuery as the wire Query sent
// to the source relay, stamped with this relay's name and the request id.
func (s *Service) buildQuery(query *networkspb.NetworkQuery, requestID string) *common.Query {
	return &common.Query{
		Policy:             query.Policy,
		Address:            query.Address,
		RequestingRelay:    s.resolver.LocalName(),
		RequestingNetwork:  query.RequestingNetwork,
		RequestingOrg:      query.RequestingOrg,
		Certificate:        query.Certificate,
		RequestorSignature: query.RequestorSignature,
		Nonce:              query.Nonce,
		RequestId:          requestID,
		Confidential:       query.Confidential,
	}
}

// dispatchSubscription stores the pending state and forwards the operation
// to the source relay. Driver-targeted subscriptions are first signed by
// the local driver so the source network can validate the subscriber.
func (s *Service) dispatchSubscription(sub *common.EventSubscription, spec *common.EventPublication, target *common.EventSubscriptionState, requestID string) (*common.Ack, error) {
	logger := log.WithComponent("network")

	if tx := spec.GetCtx(); tx != nil {
		driverLoc, err := s.resolver.GetDriver(tx.DriverId)
		if err != nil {
			return errAck(requestID, err.Error()), nil
		}
		signCtx, cancel := context.WithTimeout(context.Background(), s.resolver.CallTimeout())
		signed, err := s.drivers.SignEventSubscription(signCtx, driverLoc, sub, requestID)
		cancel()
		if err != nil {
			logger.Error().Err(err).Str("request_id", requestID).Msg("driver did not sign the subscription request")
			return errAck(requestID, err.Error()), nil
		}
		sub.Query = signed
	}

	if err := storage.PutMessage(s.local, storage.EventSubscriptionKey(requestID), target); err != nil {
		return errAck(requestID, err.Error()), nil
	}

	parsed, err := address.Parse(sub.Query.Address)
	if err != nil {
		return errAck(requestID, err.Error()), nil
	}

	peerLoc := s.resolver.FindPeerRelay(parsed.Location.Hostname, parsed.Location.Port)
	timeout := s.resolver.CallTimeout()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ack, err := s.peers.SubscribeEvent(ctx, peerLoc, sub)
		if err != nil {
			s.subs.UpdateStatus(requestID, common.Ack_ERROR, err.Error())
			return
		}
		s.subs.UpdateStatus(requestID, ack.Status, ack.Message)
	}()

	metrics.RequestsTotal.WithLabelValues("event_subscribe", "accepted").Inc()
	return okAck(requestID, ""), nil
}

// GetEventSubscriptionState returns the subscription record; handing out an
// Unsubscribed record removes it (one-shot cleanup).
func (s *Service) GetEventSubscriptionState(ctx context.Context, msg *networkspb.GetStateMessage) (*common.EventSubscriptionState, error) {
	state, err := s.subs.GetSubscriptionState(msg.RequestId)
	if err != nil {
		if relayerr.IsKind(err, relayerr.NotFound) {
			return nil, status.Errorf(codes.NotFound, "event subscription not found: %s", msg.RequestId)
		}
		return nil, status.Errorf(codes.Internal, "failed to read event subscription: %v", err)
	}
	if state.Status == common.EventSubscriptionState_UNSUBSCRIBED {
		if err := storage.UnsetMessage(s.local, storage.EventSubscriptionKey(msg.RequestId), nil); err != nil {
			logger := log.WithComponent("network")
			logger.Error().Err(err).Str("request_id", msg.RequestId).Msg("failed to remove unsubscribed record")
		}
	}
	return state, nil
}

// GetEventStates returns the received events for a subscription and
// tombstones every entry, so a re-poll observes the same event ids marked
// Deleted.
func (s *Service) GetEventStates(ctx context.Context, msg *networkspb.GetStateMessage) (*common.EventStates, error) {
	states := &common.EventStates{}
	if err := storage.GetMessage(s.local, storage.EventPublicationKey(msg.RequestId), states); err != nil {
		if relayerr.IsKind(err, relayerr.NotFound) {
			return nil, status.Errorf(codes.NotFound, "event states not found for request: %s", msg.RequestId)
		}
		return nil, status.Errorf(codes.Internal, "failed to read event states: %v", err)
	}

	fetched := proto.Clone(states).(*common.EventStates)
	if err := s.subs.MarkEventStatesDeleted(msg.RequestId, states); err != nil {
		logger := log.WithComponent("network")
		logger.Error().Err(err).Str("request_id", msg.RequestId).Msg("failed to tombstone event states")
	}
	return fetched, nil
}
