package subscription

import (
	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	"google.golang.org/protobuf/proto"

	"github.com/cuemby/relay/pkg/storage"
)

// RemoveResult describes the outcome of removing a publication spec from a
// subscription record.
type RemoveResult int

const (
	// SpecRemoved: the spec was removed locally and other specs remain;
	// the upstream subscription stays alive.
	SpecRemoved RemoveResult = iota
	// SpecLast: the spec is the last one on the record; the caller must
	// dispatch a real unsubscribe upstream.
	SpecLast
	// SpecMismatch: the spec is not present on the record.
	SpecMismatch
)

// RemovePubSpec removes spec from the subscription record at requestID.
//
// A DuplicateQuerySubscribed record is marked Unsubscribed and the removal
// is redirected to the canonical record it references, using the duplicate's
// own recorded spec. publishing_request_id is a weak reference: the
// canonical record is looked up through the store, never held directly.
func (m *Manager) RemovePubSpec(requestID string, spec *common.EventPublication) (RemoveResult, error) {
	key := storage.EventSubscriptionKey(requestID)
	state := &common.EventSubscriptionState{}
	if err := storage.GetMessage(m.local, key, state); err != nil {
		return SpecMismatch, err
	}

	if state.Status == common.EventSubscriptionState_DUPLICATE_QUERY_SUBSCRIBED {
		unsubscribed := &common.EventSubscriptionState{
			Status:                common.EventSubscriptionState_UNSUBSCRIBED,
			RequestId:             requestID,
			PublishingRequestId:   state.PublishingRequestId,
			Message:               "unsubscription successful",
			EventMatcher:          state.EventMatcher,
			EventPublicationSpecs: state.EventPublicationSpecs,
		}
		if err := storage.PutMessage(m.local, key, unsubscribed); err != nil {
			return SpecMismatch, err
		}
		if len(state.EventPublicationSpecs) > 0 {
			spec = state.EventPublicationSpecs[0]
		}
		key = storage.EventSubscriptionKey(state.PublishingRequestId)
		state = &common.EventSubscriptionState{}
		if err := storage.GetMessage(m.local, key, state); err != nil {
			return SpecMismatch, err
		}
	}

	for i, curr := range state.EventPublicationSpecs {
		if proto.Equal(curr, spec) {
			if len(state.EventPublicationSpecs) == 1 {
				return SpecLast, nil
			}
			state.EventPublicationSpecs = append(state.EventPublicationSpecs[:i], state.EventPublicationSpecs[i+1:]...)
			if err := storage.PutMessage(m.local, key, state); err != nil {
				return SpecMismatch, err
			}
			return SpecRemoved, nil
		}
	}
	return SpecMismatch, nil
}
