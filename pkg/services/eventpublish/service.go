package eventpublish

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	relaypb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/relay"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/cuemby/relay/pkg/subscription"
)

// DriverClient is the slice of the driver client this service needs.
type DriverClient interface {
	WriteExternalState(ctx context.Context, loc config.Location, payload *common.ViewPayload, tx *common.ContractTransaction) error
}

// PeerClient is the slice of the peer relay client this service needs.
type PeerClient interface {
	PublishState(ctx context.Context, loc config.Location, payload *common.ViewPayload) (*common.Ack, error)
}

// Service implements the peer-facing relay.events.EventPublish surface. On
// the source relay it forwards driver-emitted payloads to the subscribing
// relay; on the subscribing relay it records the event and fans it out to
// every publication spec on the canonical subscription.
type Service struct {
	relaypb.UnimplementedEventPublishServer

	resolver *config.Resolver
	remote   storage.Store
	subs     *subscription.Manager
	drivers  DriverClient
	peers    PeerClient
	httpc    *http.Client
}

// NewService wires the event publish service.
func NewService(resolver *config.Resolver, remote storage.Store, subs *subscription.Manager, drivers DriverClient, peers PeerClient) *Service {
	return &Service{
		resolver: resolver,
		remote:   remote,
		subs:     subs,
		drivers:  drivers,
		peers:    peers,
		httpc:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SendDriverState runs on the source relay: the driver delivers an event
// payload matching a subscription. The stored subscription names the
// relay to forward it to.
func (s *Service) SendDriverState(ctx context.Context, payload *common.ViewPayload) (*common.Ack, error) {
	logger := log.WithComponent("eventpublish")
	requestID := payload.RequestId
	logger.Info().Str("request_id", requestID).Msg("received event payload from driver")

	if err := s.forwardToSubscriber(requestID, payload); err != nil {
		return &common.Ack{
			Status:    common.Ack_ERROR,
			RequestId: requestID,
			Message:   "error: " + err.Error(),
		}, nil
	}
	return &common.Ack{Status: common.Ack_OK, RequestId: requestID}, nil
}

func (s *Service) forwardToSubscriber(requestID string, payload *common.ViewPayload) error {
	sub := &common.EventSubscription{}
	if err := storage.GetMessage(s.remote, storage.EventSubscriptionKey(requestID), sub); err != nil {
		return err
	}
	if sub.Query == nil {
		return relayerr.New(relayerr.Protocol, "stored event subscription has no query")
	}
	destLoc, err := s.resolver.GetPeerRelay(sub.Query.RequestingRelay)
	if err != nil {
		return err
	}

	timeout := s.resolver.CallTimeout()
	go func() {
		logger := log.WithComponent("eventpublish")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.peers.PublishState(ctx, destLoc, payload); err != nil {
			logger.Error().Err(err).Str("request_id", requestID).Msg("failed to publish event to subscribing relay")
			return
		}
		logger.Debug().Str("request_id", requestID).Msg("event published to subscribing relay")
	}()
	return nil
}

// SendState runs on the subscribing relay: a fresh event id is minted, the
// event is prepended to the received list, and the payload fans out to
// every publication spec on the subscription. Fan-out targets are
// independent; no inter-spec ordering is guaranteed.
func (s *Service) SendState(ctx context.Context, payload *common.ViewPayload) (*common.Ack, error) {
	logger := log.WithComponent("eventpublish")
	requestID := payload.RequestId
	logger.Info().Str("request_id", requestID).Msg("received event payload from source relay")

	subState, err := s.subs.GetSubscriptionState(requestID)
	if err != nil {
		return &common.Ack{
			Status:    common.Ack_ERROR,
			RequestId: requestID,
			Message:   "error: " + err.Error(),
		}, nil
	}

	eventID := uuid.NewString()
	event := buildEventState(payload, requestID, eventID)
	if err := s.subs.PrependEventState(requestID, event); err != nil {
		return &common.Ack{
			Status:    common.Ack_ERROR,
			RequestId: requestID,
			Message:   "error: " + err.Error(),
		}, nil
	}

	for _, spec := range subState.EventPublicationSpecs {
		s.spawnDeliver(payload, spec, requestID, eventID)
	}
	return &common.Ack{Status: common.Ack_OK, RequestId: requestID}, nil
}

// buildEventState wraps a received payload as the stored EventState entry.
func buildEventState(payload *common.ViewPayload, requestID, eventID string) *common.EventState {
	state := &common.RequestState{RequestId: requestID}
	message := ""
	switch data := payload.State.(type) {
	case *common.ViewPayload_View:
		state.Status = common.RequestState_EVENT_RECEIVED
		state.State = &common.RequestState_View{View: data.View}
		message = "successfully received state for event subscribed"
	case *common.ViewPayload_Error:
		state.Status = common.RequestState_ERROR
		state.State = &common.RequestState_Error{Error: data.Error}
		message = "received error for the event subscribed"
	default:
		state.Status = common.RequestState_ERROR
		state.State = &common.RequestState_Error{Error: "missing state"}
		message = "no state received for the event subscribed"
	}
	return &common.EventState{State: state, EventId: eventID, Message: message}
}

// spawnDeliver pushes the payload to one publication target and records the
// per-target outcome on the stored event entry.
func (s *Service) spawnDeliver(payload *common.ViewPayload, spec *common.EventPublication, requestID, eventID string) {
	timeout := s.resolver.CallTimeout()
	go func() {
		logger := log.WithComponent("eventpublish")

		switch target := spec.PublicationTarget.(type) {
		case *common.EventPublication_AppUrl:
			// Fire and forget; the subscriber's recorded status is not
			// mutated for app deliveries.
			s.postToApp(target.AppUrl, payload)
			metrics.EventsPublishedTotal.WithLabelValues("app_url", "sent").Inc()

		case *common.EventPublication_Ctx:
			driverLoc, err := s.resolver.GetDriver(target.Ctx.DriverId)
			if err == nil {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				err = s.drivers.WriteExternalState(ctx, driverLoc, payload, target.Ctx)
				cancel()
			}
			if err != nil {
				logger.Error().Err(err).Str("request_id", requestID).Str("event_id", eventID).Msg("external state write failed")
				metrics.EventsPublishedTotal.WithLabelValues("driver", "error").Inc()
				s.recordDelivery(requestID, eventID, common.RequestState_EVENT_WRITE_ERROR, "write error: "+err.Error())
				return
			}
			metrics.EventsPublishedTotal.WithLabelValues("driver", "written").Inc()
			s.recordDelivery(requestID, eventID, common.RequestState_EVENT_WRITTEN, "successfully written to ledger")

		default:
			logger.Warn().Str("request_id", requestID).Msg("cannot publish event: no publication target found")
		}
	}()
}

func (s *Service) recordDelivery(requestID, eventID string, status common.RequestState_STATUS, message string) {
	if err := s.subs.UpdateEventState(requestID, eventID, status, message); err != nil {
		logger := log.WithComponent("eventpublish")
		logger.Error().Err(err).
			Str("request_id", requestID).
			Str("event_id", eventID).
			Msg("failed to record event delivery outcome")
	}
}

// postToApp delivers the payload JSON to a subscriber application URL.
func (s *Service) postToApp(appURL string, payload *common.ViewPayload) {
	logger := log.WithComponent("eventpublish")
	body, err := protojson.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Str("app_url", appURL).Msg("failed to encode event payload")
		return
	}
	resp, err := s.httpc.Post(appURL, "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Error().Err(err).Str("app_url", appURL).Msg("failed to post event payload to app")
		return
	}
	resp.Body.Close()
	logger.Debug().Str("app_url", appURL).Int("status", resp.StatusCode).Msg("event payload posted to app")
}
