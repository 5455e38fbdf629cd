package subscription

import (
	"testing"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/storage"
)

func init() {
	log.Init(log.Options{Level: "error"})
}

func newTestManager(t *testing.T) (*Manager, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	classifier := NewClassifier("Subscription already exists for requestId: {0}")
	return NewManager(store, classifier), store
}

func appURLSpec(url string) *common.EventPublication {
	return &common.EventPublication{
		PublicationTarget: &common.EventPublication_AppUrl{AppUrl: url},
	}
}

func driverSpec(driverID string) *common.EventPublication {
	return &common.EventPublication{
		PublicationTarget: &common.EventPublication_Ctx{Ctx: &common.ContractTransaction{
			DriverId:   driverID,
			LedgerId:   "ledger1",
			ContractId: "contract1",
			Func:       "write",
		}},
	}
}

func seedState(t *testing.T, store storage.Store, requestID string, status common.EventSubscriptionState_STATUS, specs ...*common.EventPublication) {
	t.Helper()
	state := &common.EventSubscriptionState{
		Status:                status,
		RequestId:             requestID,
		EventPublicationSpecs: specs,
	}
	if status == common.EventSubscriptionState_SUBSCRIBED {
		state.PublishingRequestId = requestID
	}
	require.NoError(t, storage.PutMessage(store, storage.EventSubscriptionKey(requestID), state))
}

func readState(t *testing.T, store storage.Store, requestID string) *common.EventSubscriptionState {
	t.Helper()
	state := &common.EventSubscriptionState{}
	require.NoError(t, storage.GetMessage(store, storage.EventSubscriptionKey(requestID), state))
	return state
}

// The two-hop ack ladder of the subscription state machine: one Ok ack per
// hop, terminal state only after the second.
func TestUpdateStatusLadder(t *testing.T) {
	tests := []struct {
		name string
		from common.EventSubscriptionState_STATUS
		want common.EventSubscriptionState_STATUS
	}{
		{"subscribe pending ack advances", common.EventSubscriptionState_SUBSCRIBE_PENDING_ACK, common.EventSubscriptionState_SUBSCRIBE_PENDING},
		{"subscribe pending terminates", common.EventSubscriptionState_SUBSCRIBE_PENDING, common.EventSubscriptionState_SUBSCRIBED},
		{"unsubscribe pending ack advances", common.EventSubscriptionState_UNSUBSCRIBE_PENDING_ACK, common.EventSubscriptionState_UNSUBSCRIBE_PENDING},
		{"unsubscribe pending terminates", common.EventSubscriptionState_UNSUBSCRIBE_PENDING, common.EventSubscriptionState_UNSUBSCRIBED},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, store := newTestManager(t)
			seedState(t, store, "r1", tt.from, appURLSpec("http://app1"))

			mgr.UpdateStatus("r1", common.Ack_OK, "")

			got := readState(t, store, "r1")
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestUpdateStatusSubscribedSetsPublishingID(t *testing.T) {
	mgr, store := newTestManager(t)
	seedState(t, store, "r1", common.EventSubscriptionState_SUBSCRIBE_PENDING, appURLSpec("http://app1"))

	mgr.UpdateStatus("r1", common.Ack_OK, "")

	got := readState(t, store, "r1")
	assert.Equal(t, common.EventSubscriptionState_SUBSCRIBED, got.Status)
	assert.Equal(t, "r1", got.PublishingRequestId)
}

func TestUpdateStatusTerminalDoesNotRegress(t *testing.T) {
	mgr, store := newTestManager(t)
	seedState(t, store, "r1", common.EventSubscriptionState_SUBSCRIBED, appURLSpec("http://app1"))

	mgr.UpdateStatus("r1", common.Ack_OK, "")

	got := readState(t, store, "r1")
	assert.Equal(t, common.EventSubscriptionState_ERROR, got.Status)
}

func TestUpdateStatusPlainError(t *testing.T) {
	mgr, store := newTestManager(t)
	seedState(t, store, "r1", common.EventSubscriptionState_SUBSCRIBE_PENDING_ACK, appURLSpec("http://app1"))

	mgr.UpdateStatus("r1", common.Ack_ERROR, "ledger unavailable")

	got := readState(t, store, "r1")
	assert.Equal(t, common.EventSubscriptionState_ERROR, got.Status)
	assert.Equal(t, "ledger unavailable", got.Message)
}

// A duplicate subscription folds its spec into the canonical record and
// becomes DuplicateQuerySubscribed pointing at it.
func TestUpdateStatusDuplicateFoldsIntoCanonical(t *testing.T) {
	mgr, store := newTestManager(t)
	seedState(t, store, "r1", common.EventSubscriptionState_SUBSCRIBED, appURLSpec("http://u1"))
	seedState(t, store, "r2", common.EventSubscriptionState_SUBSCRIBE_PENDING, appURLSpec("http://u2"))

	mgr.UpdateStatus("r2", common.Ack_ERROR, "Subscription already exists for requestId: r1")

	dup := readState(t, store, "r2")
	assert.Equal(t, common.EventSubscriptionState_DUPLICATE_QUERY_SUBSCRIBED, dup.Status)
	assert.Equal(t, "r1", dup.PublishingRequestId)

	canonical := readState(t, store, "r1")
	assert.Equal(t, common.EventSubscriptionState_SUBSCRIBED, canonical.Status)
	require.Len(t, canonical.EventPublicationSpecs, 2)
	assert.Equal(t, "http://u1", canonical.EventPublicationSpecs[0].GetAppUrl())
	assert.Equal(t, "http://u2", canonical.EventPublicationSpecs[1].GetAppUrl())
}

// An identical spec does not join the canonical record twice: the new
// request still resolves to DuplicateQuerySubscribed and the canonical
// record's spec set is unchanged.
func TestUpdateStatusDuplicateIdenticalSpec(t *testing.T) {
	mgr, store := newTestManager(t)
	seedState(t, store, "r1", common.EventSubscriptionState_SUBSCRIBED, appURLSpec("http://u1"))
	seedState(t, store, "r2", common.EventSubscriptionState_SUBSCRIBE_PENDING, appURLSpec("http://u1"))

	mgr.UpdateStatus("r2", common.Ack_ERROR, "Subscription already exists for requestId: r1")

	dup := readState(t, store, "r2")
	assert.Equal(t, common.EventSubscriptionState_DUPLICATE_QUERY_SUBSCRIBED, dup.Status)
	assert.Equal(t, "r1", dup.PublishingRequestId)

	canonical := readState(t, store, "r1")
	assert.Equal(t, common.EventSubscriptionState_SUBSCRIBED, canonical.Status)
	require.Len(t, canonical.EventPublicationSpecs, 1)
	assert.Equal(t, "http://u1", canonical.EventPublicationSpecs[0].GetAppUrl())
}

func TestRemovePubSpec(t *testing.T) {
	t.Run("spec absent", func(t *testing.T) {
		mgr, store := newTestManager(t)
		seedState(t, store, "r1", common.EventSubscriptionState_SUBSCRIBED, appURLSpec("http://u1"))

		result, err := mgr.RemovePubSpec("r1", appURLSpec("http://other"))
		require.NoError(t, err)
		assert.Equal(t, SpecMismatch, result)
	})

	t.Run("removes one of several without touching upstream", func(t *testing.T) {
		mgr, store := newTestManager(t)
		seedState(t, store, "r1", common.EventSubscriptionState_SUBSCRIBED, appURLSpec("http://u1"), driverSpec("Fabric_Network"))

		result, err := mgr.RemovePubSpec("r1", appURLSpec("http://u1"))
		require.NoError(t, err)
		assert.Equal(t, SpecRemoved, result)

		got := readState(t, store, "r1")
		require.Len(t, got.EventPublicationSpecs, 1)
		assert.NotNil(t, got.EventPublicationSpecs[0].GetCtx())
	})

	t.Run("last spec requests upstream unsubscribe", func(t *testing.T) {
		mgr, _ := newTestManager(t)
		seedState(t, mgr.local, "r1", common.EventSubscriptionState_SUBSCRIBED, appURLSpec("http://u1"))

		result, err := mgr.RemovePubSpec("r1", appURLSpec("http://u1"))
		require.NoError(t, err)
		assert.Equal(t, SpecLast, result)
	})

	t.Run("duplicate is unsubscribed locally and canonical pruned", func(t *testing.T) {
		mgr, store := newTestManager(t)
		// Canonical record carries both specs; duplicate carries its own.
		seedState(t, store, "r1", common.EventSubscriptionState_SUBSCRIBED, appURLSpec("http://u1"), driverSpec("Fabric_Network"))
		dup := &common.EventSubscriptionState{
			Status:                common.EventSubscriptionState_DUPLICATE_QUERY_SUBSCRIBED,
			RequestId:             "r2",
			PublishingRequestId:   "r1",
			EventPublicationSpecs: []*common.EventPublication{appURLSpec("http://u1")},
		}
		require.NoError(t, storage.PutMessage(store, storage.EventSubscriptionKey("r2"), dup))

		result, err := mgr.RemovePubSpec("r2", appURLSpec("http://u1"))
		require.NoError(t, err)
		assert.Equal(t, SpecRemoved, result)

		gotDup := readState(t, store, "r2")
		assert.Equal(t, common.EventSubscriptionState_UNSUBSCRIBED, gotDup.Status)

		canonical := readState(t, store, "r1")
		require.Len(t, canonical.EventPublicationSpecs, 1)
		assert.NotNil(t, canonical.EventPublicationSpecs[0].GetCtx())
	})
}
