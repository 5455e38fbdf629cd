package datatransfer

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
)

// DriverClient is the slice of the driver client this service needs.
type DriverClient interface {
	RequestDriverState(ctx context.Context, loc config.Location, query *common.Query) error
}

// PeerClient is the slice of the peer relay client this service needs.
type PeerClient interface {
	SendState(ctx context.Context, loc config.Location, payload *common.ViewPayload) (*common.Ack, error)
}

// Service implements the peer-facing relay.datatransfer.DataTransfer
// surface on both sides of a data-sharing exchange: the remote relay
// receives RequestState and SendDriverState; the originating relay receives
// SendState.
type Service struct {
	relaypb.UnimplementedDataTransferServer

	resolver *config.Resolver
	local    storage.Store
	remote   storage.Store
	drivers  DriverClient
	peers    PeerClient
}

// NewService wires the data transfer service.
func NewService(resolver *config.Resolver, local, remote storage.Store, drivers DriverClient, peers PeerClient) *Service {
	return &Service{
		resolver: resolver,
		local:    local,
		remote:   remote,
		drivers:  drivers,
		peers:    peers,
	}
}

// RequestState runs on the remote relay: it persists the peer's query,
// hands it to the serving driver in the background and acks immediately.
func (s *Service) RequestState(ctx context.Context, query *common.Query) (*common.Ack, error) {
	logger := log.WithComponent("datatransfer")
	requestID := query.RequestId
	logger.Info().Str("request_id", requestID).Str("address", query.Address).Msg("received query from peer")

	ack, err := s.acceptQuery(query)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("data_transfer_remote", "rejected").Inc()
		return &common.Ack{
			Status:    common.Ack_ERROR,
			RequestId: requestID,
			Message:   "error: requesting state from driver failed: " + err.Error(),
		}, nil
	}
	metrics.RequestsTotal.WithLabelValues("data_transfer_remote", "accepted").Inc()
	return ack, nil
}

func (s *Service) acceptQuery(query *common.Query) (*common.Ack, error) {
	requestID := query.RequestId
	if requestID == "" {
		return nil, relayerr.New(relayerr.Protocol, "query has no request id")
	}
	if err := storage.PutMessage(s.remote, requestID, query); err != nil {
		return nil, err
	}
	parsed, err := address.Parse(query.Address)
	if err != nil {
		return nil, err
	}
	driverLoc, err := s.resolver.GetDriver(parsed.NetworkID)
	if err != nil {
		return nil, err
	}

	s.spawnRequestDriverState(query, driverLoc)
	return &common.Ack{Status: common.Ack_OK, RequestId: requestID}, nil
}

// spawnRequestDriverState forwards the query to the driver. A driver
// failure is re-expressed as an error ViewPayload pushed through the same
// path a real driver reply takes, so the origin relay always hears back.
func (s *Service) spawnRequestDriverState(query *common.Query, driverLoc config.Location) {
	timeout := s.resolver.CallTimeout()
	go func() {
		logger := log.WithComponent("datatransfer")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := s.drivers.RequestDriverState(ctx, driverLoc, query)
		if err == nil {
			logger.Debug().Str("request_id", query.RequestId).Msg("driver accepted query")
			return
		}
		logger.Error().Err(err).Str("request_id", query.RequestId).Msg("driver rejected query")

		errorState := &common.ViewPayload{
			RequestId: query.RequestId,
			State:     &common.ViewPayload_Error{Error: "driver error: " + err.Error()},
		}
		if _, err := s.forwardToOrigin(query.RequestId, errorState); err != nil {
			logger.Error().Err(err).Str("request_id", query.RequestId).Msg("failed to return driver error to origin relay")
		}
	}()
}

// SendDriverState runs on the remote relay when its driver replies with the
// assembled view. The payload is routed back to the relay that originated
// the query.
func (s *Service) SendDriverState(ctx context.Context, payload *common.ViewPayload) (*common.Ack, error) {
	logger := log.WithComponent("datatransfer")
	logger.Info().Str("request_id", payload.RequestId).Msg("received state from driver")

	ack, err := s.forwardToOrigin(payload.RequestId, payload)
	if err != nil {
		return &common.Ack{
			Status:    common.Ack_ERROR,
			RequestId: payload.RequestId,
			Message:   "error: " + err.Error(),
		}, nil
	}
	return ack, nil
}

// forwardToOrigin looks up the stored query to find the originating relay
// and spawns the SendState call to it.
func (s *Service) forwardToOrigin(requestID string, payload *common.ViewPayload) (*common.Ack, error) {
	query := &common.Query{}
	if err := storage.GetMessage(s.remote, requestID, query); err != nil {
		return nil, err
	}
	originLoc, err := s.resolver.GetPeerRelay(query.RequestingRelay)
	if err != nil {
		return nil, err
	}

	timeout := s.resolver.CallTimeout()
	go func() {
		logger := log.WithComponent("datatransfer")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.peers.SendState(ctx, originLoc, payload); err != nil {
			logger.Error().Err(err).Str("request_id", requestID).Msg("failed to send state to origin relay")
			return
		}
		logger.Debug().Str("request_id", requestID).Msg("state sent to origin relay")
	}()

	return &common.Ack{Status: common.Ack_OK, RequestId: requestID}, nil
}

// SendState runs on the originating relay: the remote relay returns the
// final view (or error) and the local request record turns terminal. The
// ack is always Ok; a storage failure is logged and left for the poller to
// observe as a stuck request.
func (s *Service) SendState(ctx context.Context, payload *common.ViewPayload) (*common.Ack, error) {
	logger := log.WithComponent("datatransfer")
	requestID := payload.RequestId
	logger.Info().Str("request_id", requestID).Msg("received state from remote relay")

	target := &common.RequestState{RequestId: requestID}
	switch state := payload.State.(type) {
	case *common.ViewPayload_View:
		target.Status = common.RequestState_COMPLETED
		target.State = &common.RequestState_View{View: state.View}
	case *common.ViewPayload_Error:
		target.Status = common.RequestState_ERROR
		target.State = &common.RequestState_Error{Error: state.Error}
	default:
		target.Status = common.RequestState_ERROR
		target.State = &common.RequestState_Error{Error: "missing state"}
	}

	if err := storage.PutMessage(s.local, requestID, target); err != nil {
		logger.Error().Err(err).Str("request_id", requestID).Msg("failed to store final request state")
	} else {
		metrics.RequestsTotal.WithLabelValues("data_transfer", target.Status.String()).Inc()
	}
	return &common.Ack{Status: common.Ack_OK, RequestId: requestID}, nil
}
