package subscription

import (
	"testing"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/storage"
)

func eventState(requestID, eventID string, status common.RequestState_STATUS) *common.EventState {
	return &common.EventState{
		State: &common.RequestState{
			Status:    status,
			RequestId: requestID,
		},
		EventId: eventID,
	}
}

func TestPrependEventState(t *testing.T) {
	mgr, store := newTestManager(t)

	require.NoError(t, mgr.PrependEventState("r1", eventState("r1", "e1", common.RequestState_EVENT_RECEIVED)))
	require.NoError(t, mgr.PrependEventState("r1", eventState("r1", "e2", common.RequestState_EVENT_RECEIVED)))

	states := &common.EventStates{}
	require.NoError(t, storage.GetMessage(store, storage.EventPublicationKey("r1"), states))
	require.Len(t, states.States, 2)
	// Newest first.
	assert.Equal(t, "e2", states.States[0].EventId)
	assert.Equal(t, "e1", states.States[1].EventId)
}

func TestUpdateEventState(t *testing.T) {
	mgr, store := newTestManager(t)
	require.NoError(t, mgr.PrependEventState("r1", eventState("r1", "e1", common.RequestState_EVENT_RECEIVED)))
	require.NoError(t, mgr.PrependEventState("r1", eventState("r1", "e2", common.RequestState_EVENT_RECEIVED)))

	require.NoError(t, mgr.UpdateEventState("r1", "e1", common.RequestState_EVENT_WRITTEN, "written"))

	states := &common.EventStates{}
	require.NoError(t, storage.GetMessage(store, storage.EventPublicationKey("r1"), states))
	for _, state := range states.States {
		if state.EventId == "e1" {
			assert.Equal(t, common.RequestState_EVENT_WRITTEN, state.State.Status)
			assert.Equal(t, "written", state.Message)
		} else {
			assert.Equal(t, common.RequestState_EVENT_RECEIVED, state.State.Status)
		}
	}

	err := mgr.UpdateEventState("r1", "missing", common.RequestState_EVENT_WRITTEN, "")
	assert.True(t, relayerr.IsKind(err, relayerr.NotFound))
}

func TestMarkEventStatesDeleted(t *testing.T) {
	mgr, store := newTestManager(t)
	require.NoError(t, mgr.PrependEventState("r1", eventState("r1", "e1", common.RequestState_EVENT_RECEIVED)))
	require.NoError(t, mgr.PrependEventState("r1", eventState("r1", "e2", common.RequestState_ERROR)))

	states := &common.EventStates{}
	require.NoError(t, storage.GetMessage(store, storage.EventPublicationKey("r1"), states))
	require.NoError(t, mgr.MarkEventStatesDeleted("r1", states))

	reread := &common.EventStates{}
	require.NoError(t, storage.GetMessage(store, storage.EventPublicationKey("r1"), reread))
	require.Len(t, reread.States, 2)
	for _, state := range reread.States {
		assert.Equal(t, common.RequestState_DELETED, state.State.Status)
	}
	// Event ids survive the tombstoning.
	assert.Equal(t, "e2", reread.States[0].EventId)
	assert.Equal(t, "e1", reread.States[1].EventId)
}
