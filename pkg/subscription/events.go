package subscription

import (
	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"

	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/storage"
)

// PrependEventState adds a newly received event to the front of the
// EventStates list at event_pub_<requestID>, creating the list on first use.
func (m *Manager) PrependEventState(requestID string, event *common.EventState) error {
	key := storage.EventPublicationKey(requestID)
	states := &common.EventStates{}

	has, err := m.local.Has(key)
	if err != nil {
		return err
	}
	if has {
		if err := storage.GetMessage(m.local, key, states); err != nil {
			return err
		}
	}
	states.States = append([]*common.EventState{event}, states.States...)
	return storage.PutMessage(m.local, key, states)
}

// UpdateEventState rewrites the status and message of the event identified
// by eventID within the list at event_pub_<requestID>. Used by the fan-out
// tasks to record per-target delivery outcomes.
func (m *Manager) UpdateEventState(requestID, eventID string, status common.RequestState_STATUS, message string) error {
	key := storage.EventPublicationKey(requestID)
	states := &common.EventStates{}
	if err := storage.GetMessage(m.local, key, states); err != nil {
		return err
	}
	found := false
	for _, state := range states.States {
		if state.EventId != eventID {
			continue
		}
		found = true
		state.Message = message
		if state.State == nil {
			state.State = &common.RequestState{RequestId: requestID}
		}
		state.State.Status = status
	}
	if !found {
		return relayerr.Newf(relayerr.NotFound, "event %s not found under request %s", eventID, requestID)
	}
	return storage.PutMessage(m.local, key, states)
}

// MarkEventStatesDeleted tombstones every entry in the list at
// event_pub_<requestID> after the list has been handed to the client, so
// re-polls observe a stable Deleted marker per event.
func (m *Manager) MarkEventStatesDeleted(requestID string, states *common.EventStates) error {
	for _, state := range states.States {
		if state.State == nil {
			state.State = &common.RequestState{RequestId: requestID}
		}
		state.State.Status = common.RequestState_DELETED
	}
	return storage.PutMessage(m.local, storage.EventPublicationKey(requestID), states)
}

// GetSubscriptionState reads the subscription record at requestID.
func (m *Manager) GetSubscriptionState(requestID string) (*common.EventSubscriptionState, error) {
	state := &common.EventSubscriptionState{}
	if err := storage.GetMessage(m.local, storage.EventSubscriptionKey(requestID), state); err != nil {
		return nil, err
	}
	return state, nil
}
