package subscription

import (
	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	"google.golang.org/protobuf/proto"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/storage"
)

// Manager collapses duplicate client subscriptions onto a single upstream
// subscription and drives the subscription status state machine against the
// local store.
type Manager struct {
	local      storage.Store
	classifier *Classifier
}

// NewManager builds a manager over the relay's local store.
func NewManager(local storage.Store, classifier *Classifier) *Manager {
	return &Manager{local: local, classifier: classifier}
}

// UpdateStatus applies an ack from the remote relay (or a transport failure
// expressed as an error ack) to the subscription state at requestID.
//
// Pending states advance one hop per Ok ack:
//
//	SubscribePendingAck   -> SubscribePending
//	SubscribePending      -> Subscribed (publishing_request_id := request_id)
//	UnsubscribePendingAck -> UnsubscribePending
//	UnsubscribePending    -> Unsubscribed
//
// An error ack that matches the duplicate-subscription catalog entry turns
// the record into DuplicateQuerySubscribed pointing at the canonical record,
// whose spec list absorbs this record's publication spec; a spec the
// canonical record already carries leaves it unchanged. Any other error ack
// is terminal.
func (m *Manager) UpdateStatus(requestID string, ackStatus common.Ack_STATUS, message string) {
	logger := log.WithComponent("subscription")
	key := storage.EventSubscriptionKey(requestID)

	state := &common.EventSubscriptionState{}
	if err := storage.GetMessage(m.local, key, state); err != nil {
		logger.Error().Err(err).Str("request_id", requestID).Msg("subscription state not found for status update")
		return
	}

	var target *common.EventSubscriptionState
	if ackStatus == common.Ack_OK {
		target = m.advance(state, requestID, message)
	} else {
		target = m.fail(state, requestID, message)
	}

	if err := storage.PutMessage(m.local, key, target); err != nil {
		logger.Error().Err(err).Str("request_id", requestID).Msg("failed to write subscription state")
		return
	}
	switch target.Status {
	case common.EventSubscriptionState_SUBSCRIBED:
		metrics.SubscriptionsActive.Inc()
	case common.EventSubscriptionState_UNSUBSCRIBED:
		metrics.SubscriptionsActive.Dec()
	}
	logger.Debug().
		Str("request_id", requestID).
		Str("status", target.Status.String()).
		Msg("subscription state updated")
}

func (m *Manager) advance(state *common.EventSubscriptionState, requestID, message string) *common.EventSubscriptionState {
	next := &common.EventSubscriptionState{
		RequestId:             requestID,
		PublishingRequestId:   state.PublishingRequestId,
		Message:               message,
		EventMatcher:          state.EventMatcher,
		EventPublicationSpecs: state.EventPublicationSpecs,
	}
	switch state.Status {
	case common.EventSubscriptionState_SUBSCRIBE_PENDING_ACK:
		next.Status = common.EventSubscriptionState_SUBSCRIBE_PENDING
		next.PublishingRequestId = ""
	case common.EventSubscriptionState_SUBSCRIBE_PENDING:
		next.Status = common.EventSubscriptionState_SUBSCRIBED
		next.PublishingRequestId = requestID
	case common.EventSubscriptionState_UNSUBSCRIBE_PENDING_ACK:
		next.Status = common.EventSubscriptionState_UNSUBSCRIBE_PENDING
	case common.EventSubscriptionState_UNSUBSCRIBE_PENDING:
		next.Status = common.EventSubscriptionState_UNSUBSCRIBED
	default:
		// Terminal states never regress into pending.
		next.Status = common.EventSubscriptionState_ERROR
		next.PublishingRequestId = ""
		next.Message = "subscription status is not awaiting an ack"
	}
	return next
}

func (m *Manager) fail(state *common.EventSubscriptionState, requestID, message string) *common.EventSubscriptionState {
	classification := m.classifier.ClassifyError(message)
	if classification.Outcome == OutcomeDuplicate && len(state.EventPublicationSpecs) > 0 {
		target, err := m.recordDuplicate(state, requestID, classification.CanonicalID)
		if err == nil {
			return target
		}
		logger := log.WithComponent("subscription")
		logger.Error().Err(err).
			Str("request_id", requestID).
			Str("canonical_id", classification.CanonicalID).
			Msg("failed to fold duplicate subscription into canonical record")
	}
	return &common.EventSubscriptionState{
		Status:                common.EventSubscriptionState_ERROR,
		RequestId:             requestID,
		PublishingRequestId:   "",
		Message:               message,
		EventMatcher:          state.EventMatcher,
		EventPublicationSpecs: state.EventPublicationSpecs,
	}
}

// recordDuplicate folds this record into the canonical subscription: a new
// publication spec joins the canonical record's fan-out list, an identical
// one leaves it untouched. Either way the request resolves to
// DuplicateQuerySubscribed pointing at the canonical id. The canonical
// record is referenced by id only; it is re-read and rewritten through the
// store.
func (m *Manager) recordDuplicate(state *common.EventSubscriptionState, requestID, canonicalID string) (*common.EventSubscriptionState, error) {
	canonicalKey := storage.EventSubscriptionKey(canonicalID)
	canonical := &common.EventSubscriptionState{}
	if err := storage.GetMessage(m.local, canonicalKey, canonical); err != nil {
		return nil, err
	}

	newSpec := state.EventPublicationSpecs[0]
	unique := true
	for _, spec := range canonical.EventPublicationSpecs {
		if proto.Equal(spec, newSpec) {
			unique = false
			break
		}
	}

	message := "event publication already registered on subscription with request id " + canonicalID
	if unique {
		canonical.EventPublicationSpecs = append(canonical.EventPublicationSpecs, newSpec)
		canonical.Status = common.EventSubscriptionState_SUBSCRIBED
		canonical.RequestId = canonicalID
		canonical.PublishingRequestId = canonicalID
		if err := storage.PutMessage(m.local, canonicalKey, canonical); err != nil {
			return nil, err
		}
		message = "new event publication added to existing subscription with request id " + canonicalID
	}

	return &common.EventSubscriptionState{
		Status:                common.EventSubscriptionState_DUPLICATE_QUERY_SUBSCRIBED,
		RequestId:             requestID,
		PublishingRequestId:   canonicalID,
		Message:               message,
		EventMatcher:          state.EventMatcher,
		EventPublicationSpecs: state.EventPublicationSpecs,
	}, nil
}
