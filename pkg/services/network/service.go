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
	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/cuemby/relay/pkg/subscription"
)

// PeerClient is the slice of the peer relay client this service needs.
type PeerClient interface {
	RequestState(ctx context.Context, loc config.Location, query *common.Query) (*common.Ack, error)
	SubscribeEvent(ctx context.Context, loc config.Location, sub *common.EventSubscription) (*common.Ack, error)
}

// DriverClient is the slice of the driver client this service needs.
type DriverClient interface {
	SignEventSubscription(ctx context.Context, loc config.Location, sub *common.EventSubscription, requestID string) (*common.Query, error)
}

// TransferInitiator opens an asset-transfer session on the sender gateway.
type TransferInitiator interface {
	InitiateTransfer(transfer *networkspb.NetworkAssetTransfer) (sessionID string, err error)
}

// Service is the client-facing gRPC surface of the relay. Clients submit
// work here and poll here; everything downstream happens in background
// tasks that communicate through the local store.
type Service struct {
	networkspb.UnimplementedNetworkServer

	resolver  *config.Resolver
	local     storage.Store
	remote    storage.Store
	subs      *subscription.Manager
	peers     PeerClient
	drivers   DriverClient
	transfers TransferInitiator
}

// NewService wires the client-facing service.
func NewService(resolver *config.Resolver, local, remote storage.Store, subs *subscription.Manager, peers PeerClient, drivers DriverClient, transfers TransferInitiator) *Service {
	return &Service{
		resolver:  resolver,
		local:     local,
		remote:    remote,
		subs:      subs,
		peers:     peers,
		drivers:   drivers,
		transfers: transfers,
	}
}

func okAck(requestID, message string) *common.Ack {
	return &common.Ack{Status: common.Ack_OK, RequestId: requestID, Message: message}
}

func errAck(requestID, message string) *common.Ack {
	return &common.Ack{Status: common.Ack_ERROR, RequestId: requestID, Message: message}
}

// RequestState accepts a data-sharing query from a local client, records it
// as PendingAck and forwards it to the remote relay in the background. The
// returned ack carries the request id the client polls with.
func (s *Service) RequestState(ctx context.Context, query *networkspb.NetworkQuery) (*common.Ack, error) {
	logger := log.WithComponent("network")
	requestID := uuid.NewString()
	logger.Info().Str("request_id", requestID).Str("address", query.Address).Msg("received network query")

	pending := &common.RequestState{
		Status:    common.RequestState_PENDING_ACK,
		RequestId: requestID,
	}
	if err := storage.PutMessage(s.local, requestID, pending); err != nil {
		logger.Error().Err(err).Str("request_id", requestID).Msg("failed to store request state")
		return errAck(requestID, err.Error()), nil
	}

	parsed, err := address.Parse(query.Address)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("data_transfer", "malformed").Inc()
		return errAck(requestID, err.Error()), nil
	}

	s.spawnRequestState(query, requestID, parsed.Location)
	metrics.RequestsTotal.WithLabelValues("data_transfer", "accepted").Inc()
	return okAck(requestID, ""), nil
}

// spawnRequestState forwards the query to the remote relay and records the
// outcome of the ack round-trip. The task holds only the request id; all
// state flows through the store.
func (s *Service) spawnRequestState(query *networkspb.NetworkQuery, requestID string, loc address.Location) {
	relayName := s.resolver.LocalName()
	peerLoc := s.resolver.FindPeerRelay(loc.Hostname, loc.Port)
	timeout := s.resolver.CallTimeout()

	go func() {
		logger := log.ForRequest("network", requestID)
		metrics.RequestsInFlight.WithLabelValues("data_transfer").Inc()
		defer metrics.RequestsInFlight.WithLabelValues("data_transfer").Dec()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		ack, err := s.peers.RequestState(ctx, peerLoc, &common.Query{
			Policy:             query.Policy,
			Address:            query.Address,
			RequestingRelay:    relayName,
			RequestingNetwork:  query.RequestingNetwork,
			RequestingOrg:      query.RequestingOrg,
			Certificate:        query.Certificate,
			RequestorSignature: query.RequestorSignature,
			Nonce:              query.Nonce,
			RequestId:          requestID,
			Confidential:       query.Confidential,
		})
		switch {
		case err != nil:
			s.updateRequestStatus(requestID, common.RequestState_ERROR, err.Error())
		case ack.Status == common.Ack_OK:
			s.updateRequestStatus(requestID, common.RequestState_PENDING, "")
		default:
			s.updateRequestStatus(requestID, common.RequestState_ERROR, ack.Message)
		}
		logger.Debug().Msg("peer ack recorded")
	}()
}

// updateRequestStatus rewrites the request record after the remote relay's
// ack. A later SendState from the peer overwrites it with the final view.
func (s *Service) updateRequestStatus(requestID string, newStatus common.RequestState_STATUS, errMsg string) {
	target := &common.RequestState{
		Status:    newStatus,
		RequestId: requestID,
	}
	if errMsg != "" {
		target.State = &common.RequestState_Error{Error: errMsg}
	}
	if err := storage.PutMessage(s.local, requestID, target); err != nil {
		logger := log.WithComponent("network")
		logger.Error().Err(err).Str("request_id", requestID).Msg("failed to update request state")
	}
}

// GetState returns the current request record. Handing out a Completed or
// Error record tombstones it, so a re-poll observes Deleted.
func (s *Service) GetState(ctx context.Context, msg *networkspb.GetStateMessage) (*common.RequestState, error) {
	state := &common.RequestState{}
	if err := storage.GetMessage(s.local, msg.RequestId, state); err != nil {
		if relayerr.IsKind(err, relayerr.NotFound) {
			return nil, status.Errorf(codes.NotFound, "request not found: %s", msg.RequestId)
		}
		return nil, status.Errorf(codes.Internal, "failed to read request: %v", err)
	}

	if state.Status == common.RequestState_COMPLETED || state.Status == common.RequestState_ERROR {
		deleted := proto.Clone(state).(*common.RequestState)
		deleted.Status = common.RequestState_DELETED
		if err := storage.PutMessage(s.local, msg.RequestId, deleted); err != nil {
			logger := log.WithComponent("network")
			logger.Error().Err(err).Str("request_id", msg.RequestId).Msg("failed to tombstone request state")
		}
	}
	return state, nil
}

// RequestDatabase dumps one of the relay's stores for debugging. Only the
// logical store names are accepted; arbitrary paths are not opened.
func (s *Service) RequestDatabase(ctx context.Context, name *networkspb.DbName) (*networkspb.RelayDatabase, error) {
	var store storage.Store
	local := false
	switch name.Name {
	case "local":
		store, local = s.local, true
	case "remote":
		store = s.remote
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown database %q: want local or remote", name.Name)
	}

	pairs := make(map[string]string)
	err := store.ScanPrefix("", func(key string, value []byte) error {
		pairs[key] = decodeForDump(key, value, local)
		return nil
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to scan database: %v", err)
	}
	return &networkspb.RelayDatabase{Pairs: pairs}, nil
}

// RequestAssetTransfer opens an asset-transfer session on this (sender)
// gateway and returns its session id.
func (s *Service) RequestAssetTransfer(ctx context.Context, transfer *networkspb.NetworkAssetTransfer) (*common.Ack, error) {
	sessionID, err := s.transfers.InitiateTransfer(transfer)
	if err != nil {
		return errAck("", err.Error()), nil
	}
	metrics.RequestsTotal.WithLabelValues("asset_transfer", "accepted").Inc()
	return okAck(sessionID, "asset transfer initiated"), nil
}
