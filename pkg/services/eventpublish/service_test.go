package eventpublish

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/cuemby/relay/pkg/subscription"
)

func init() {
	log.Init(log.Options{Level: "error"})
}

type fakeDriver struct {
	mu         sync.Mutex
	err        error
	gotPayload *common.ViewPayload
	gotTx      *common.ContractTransaction
}

func (f *fakeDriver) WriteExternalState(ctx context.Context, loc config.Location, payload *common.ViewPayload, tx *common.ContractTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotPayload = payload
	f.gotTx = tx
	return f.err
}

type fakePeer struct {
	mu         sync.Mutex
	gotPayload *common.ViewPayload
}

func (f *fakePeer) PublishState(ctx context.Context, loc config.Location, payload *common.ViewPayload) (*common.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotPayload = payload
	return &common.Ack{Status: common.Ack_OK, RequestId: payload.RequestId}, nil
}

func newTestService(t *testing.T, drivers *fakeDriver, peers *fakePeer) (*Service, storage.Store, storage.Store, *subscription.Manager) {
	t.Helper()
	local, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	remote, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })

	resolver := config.NewResolver(&config.Config{
		Name:         "Relay_L",
		DBPath:       "unused",
		RemoteDBPath: "unused",
		Networks:     map[string]config.Network{"network1": {Network: "Fabric"}},
		Drivers:      map[string]config.Location{"Fabric": {Hostname: "localhost", Port: "9090"}},
		Relays:       map[string]config.Location{"Relay_L": {Hostname: "localhost", Port: "9080"}},
		Timeouts:     config.Timeouts{CallSeconds: 5, TLSHandshakeSeconds: 5},
	})
	subs := subscription.NewManager(local, subscription.NewClassifier(""))
	return NewService(resolver, remote, subs, drivers, peers), local, remote, subs
}

func viewPayload(requestID string, data []byte) *common.ViewPayload {
	return &common.ViewPayload{
		RequestId: requestID,
		State: &common.ViewPayload_View{View: &common.View{
			Meta: &common.Meta{Protocol: common.Meta_FABRIC},
			Data: data,
		}},
	}
}

// Scenario: a canonical subscription fans out to an app URL and a driver
// context; the app receives an HTTP POST and the driver entry is marked
// written.
func TestSendStateFansOutToAllSpecs(t *testing.T) {
	posted := make(chan []byte, 1)
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		posted <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer app.Close()

	drivers := &fakeDriver{}
	svc, local, _, _ := newTestService(t, drivers, &fakePeer{})

	require.NoError(t, storage.PutMessage(local, storage.EventSubscriptionKey("r1"), &common.EventSubscriptionState{
		Status:              common.EventSubscriptionState_SUBSCRIBED,
		RequestId:           "r1",
		PublishingRequestId: "r1",
		EventPublicationSpecs: []*common.EventPublication{
			{PublicationTarget: &common.EventPublication_AppUrl{AppUrl: app.URL}},
			{PublicationTarget: &common.EventPublication_Ctx{Ctx: &common.ContractTransaction{
				DriverId: "network1", LedgerId: "ledger1", ContractId: "c1", Func: "write",
			}}},
		},
	}))

	ack, err := svc.SendState(context.Background(), viewPayload("r1", []byte("P")))
	require.NoError(t, err)
	require.Equal(t, common.Ack_OK, ack.Status)

	// The app URL target received the payload JSON.
	select {
	case body := <-posted:
		assert.Contains(t, string(body), "requestId")
	case <-time.After(2 * time.Second):
		t.Fatal("app url never received the event payload")
	}

	// The driver target was written and its entry marked EventWritten.
	assert.Eventually(t, func() bool {
		states := &common.EventStates{}
		if err := storage.GetMessage(local, storage.EventPublicationKey("r1"), states); err != nil {
			return false
		}
		return len(states.States) == 1 &&
			states.States[0].State.Status == common.RequestState_EVENT_WRITTEN
	}, 2*time.Second, 10*time.Millisecond)

	drivers.mu.Lock()
	defer drivers.mu.Unlock()
	require.NotNil(t, drivers.gotTx)
	assert.Equal(t, "c1", drivers.gotTx.ContractId)
}

func TestSendStateDriverWriteError(t *testing.T) {
	drivers := &fakeDriver{err: relayerr.Newf(relayerr.Driver, "error from driver: chaincode down")}
	svc, local, _, _ := newTestService(t, drivers, &fakePeer{})

	require.NoError(t, storage.PutMessage(local, storage.EventSubscriptionKey("r1"), &common.EventSubscriptionState{
		Status:              common.EventSubscriptionState_SUBSCRIBED,
		RequestId:           "r1",
		PublishingRequestId: "r1",
		EventPublicationSpecs: []*common.EventPublication{
			{PublicationTarget: &common.EventPublication_Ctx{Ctx: &common.ContractTransaction{DriverId: "network1"}}},
		},
	}))

	_, err := svc.SendState(context.Background(), viewPayload("r1", []byte("P")))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		states := &common.EventStates{}
		if err := storage.GetMessage(local, storage.EventPublicationKey("r1"), states); err != nil {
			return false
		}
		return len(states.States) == 1 &&
			states.States[0].State.Status == common.RequestState_EVENT_WRITE_ERROR
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendStatePrependsNewestFirst(t *testing.T) {
	svc, local, _, _ := newTestService(t, &fakeDriver{}, &fakePeer{})

	require.NoError(t, storage.PutMessage(local, storage.EventSubscriptionKey("r1"), &common.EventSubscriptionState{
		Status:              common.EventSubscriptionState_SUBSCRIBED,
		RequestId:           "r1",
		PublishingRequestId: "r1",
	}))

	_, err := svc.SendState(context.Background(), viewPayload("r1", []byte("first")))
	require.NoError(t, err)
	_, err = svc.SendState(context.Background(), viewPayload("r1", []byte("second")))
	require.NoError(t, err)

	states := &common.EventStates{}
	require.NoError(t, storage.GetMessage(local, storage.EventPublicationKey("r1"), states))
	require.Len(t, states.States, 2)
	assert.Equal(t, []byte("second"), states.States[0].State.GetView().Data)
	assert.Equal(t, []byte("first"), states.States[1].State.GetView().Data)
}

func TestSendStateUnknownSubscription(t *testing.T) {
	svc, _, _, _ := newTestService(t, &fakeDriver{}, &fakePeer{})

	ack, err := svc.SendState(context.Background(), viewPayload("ghost", []byte("P")))
	require.NoError(t, err)
	assert.Equal(t, common.Ack_ERROR, ack.Status)
}

func TestSendStateErrorPayloadRecorded(t *testing.T) {
	svc, local, _, _ := newTestService(t, &fakeDriver{}, &fakePeer{})

	require.NoError(t, storage.PutMessage(local, storage.EventSubscriptionKey("r1"), &common.EventSubscriptionState{
		Status:              common.EventSubscriptionState_SUBSCRIBED,
		RequestId:           "r1",
		PublishingRequestId: "r1",
	}))

	_, err := svc.SendState(context.Background(), &common.ViewPayload{
		RequestId: "r1",
		State:     &common.ViewPayload_Error{Error: "source ledger error"},
	})
	require.NoError(t, err)

	states := &common.EventStates{}
	require.NoError(t, storage.GetMessage(local, storage.EventPublicationKey("r1"), states))
	require.Len(t, states.States, 1)
	assert.Equal(t, common.RequestState_ERROR, states.States[0].State.Status)
}

func TestSendDriverStateForwardsToSubscriber(t *testing.T) {
	peers := &fakePeer{}
	svc, _, remote, _ := newTestService(t, &fakeDriver{}, peers)

	require.NoError(t, storage.PutMessage(remote, storage.EventSubscriptionKey("r1"), &common.EventSubscription{
		EventMatcher: &common.EventMatcher{EventClassId: "trades"},
		Query: &common.Query{
			Address:         "localhost:9080/network1/view",
			RequestingRelay: "Relay_L",
			RequestId:       "r1",
		},
		Operation: common.EventSubOperation_SUBSCRIBE,
	}))

	ack, err := svc.SendDriverState(context.Background(), viewPayload("r1", []byte("P")))
	require.NoError(t, err)
	require.Equal(t, common.Ack_OK, ack.Status)

	assert.Eventually(t, func() bool {
		peers.mu.Lock()
		defer peers.mu.Unlock()
		return peers.gotPayload != nil && peers.gotPayload.RequestId == "r1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendDriverStateUnknownSubscription(t *testing.T) {
	svc, _, _, _ := newTestService(t, &fakeDriver{}, &fakePeer{})

	ack, err := svc.SendDriverState(context.Background(), viewPayload("ghost", []byte("P")))
	require.NoError(t, err)
	assert.Equal(t, common.Ack_ERROR, ack.Status)
}
