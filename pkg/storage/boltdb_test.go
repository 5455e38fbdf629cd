package storage

import (
	"testing"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/relayerr"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetUnset(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put("k1", []byte("v1")))

	got, err := store.Get("k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Overwrite
	require.NoError(t, store.Put("k1", []byte("v2")))
	got, err = store.Get("k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	prior, err := store.Unset("k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), prior)

	_, err = store.Get("k1")
	assert.True(t, relayerr.IsKind(err, relayerr.NotFound))

	_, err = store.Unset("k1")
	assert.True(t, relayerr.IsKind(err, relayerr.NotFound))
}

func TestHas(t *testing.T) {
	store := newTestStore(t)

	found, err := store.Has("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put("present", []byte("x")))
	found, err = store.Has("present")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestScanPrefix(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put("event_sub_a", []byte("1")))
	require.NoError(t, store.Put("event_sub_b", []byte("2")))
	require.NoError(t, store.Put("event_pub_a", []byte("3")))
	require.NoError(t, store.Put("bare", []byte("4")))

	var keys []string
	err := store.ScanPrefix("event_sub_", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"event_sub_a", "event_sub_b"}, keys)

	// Empty prefix visits everything in key order.
	keys = nil
	err = store.ScanPrefix("", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, keys, 4)
}

func TestMessageCodec(t *testing.T) {
	store := newTestStore(t)

	want := &common.RequestState{
		Status:    common.RequestState_COMPLETED,
		RequestId: "req-1",
		State: &common.RequestState_View{View: &common.View{
			Meta: &common.Meta{Protocol: common.Meta_FABRIC, SerializationFormat: "STRING"},
			Data: []byte("hello"),
		}},
	}
	require.NoError(t, PutMessage(store, "req-1", want))

	got := &common.RequestState{}
	require.NoError(t, GetMessage(store, "req-1", got))
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, []byte("hello"), got.GetView().Data)

	// A miss is NotFound, not Storage.
	err := GetMessage(store, "nope", &common.RequestState{})
	assert.True(t, relayerr.IsKind(err, relayerr.NotFound))

	// Garbage is Storage, not NotFound.
	require.NoError(t, store.Put("garbage", []byte{0xff, 0xfe, 0x01}))
	err = GetMessage(store, "garbage", &common.RequestState{})
	assert.True(t, relayerr.IsKind(err, relayerr.Storage))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "event_sub_abc", EventSubscriptionKey("abc"))
	assert.Equal(t, "event_pub_abc", EventPublicationKey("abc"))
	assert.Equal(t, "satp_abc", SessionKey("abc"))
}
