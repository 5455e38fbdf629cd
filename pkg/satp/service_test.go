package satp

import (
	"context"
	"testing"
	"time"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	networkspb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/networks"
	relaypb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/storage"
)

// loopbackPeer routes outbound gateway calls straight into the counterpart
// service, standing in for the gRPC hop.
type loopbackPeer struct {
	target *Service
}

func (p *loopbackPeer) TransferProposalClaims(ctx context.Context, loc config.Location, req *relaypb.TransferProposalClaimsRequest) (*common.Ack, error) {
	return p.target.TransferProposalClaims(ctx, req)
}

func (p *loopbackPeer) TransferProposalReceipt(ctx context.Context, loc config.Location, req *relaypb.TransferProposalReceiptRequest) (*common.Ack, error) {
	return p.target.TransferProposalReceipt(ctx, req)
}

func (p *loopbackPeer) TransferCommence(ctx context.Context, loc config.Location, req *relaypb.TransferCommenceRequest) (*common.Ack, error) {
	return p.target.TransferCommence(ctx, req)
}

func (p *loopbackPeer) AckCommence(ctx context.Context, loc config.Location, req *relaypb.AckCommenceRequest) (*common.Ack, error) {
	return p.target.AckCommence(ctx, req)
}

func (p *loopbackPeer) SendAssetStatus(ctx context.Context, loc config.Location, req *relaypb.SendAssetStatusRequest) (*common.Ack, error) {
	return p.target.SendAssetStatus(ctx, req)
}

func (p *loopbackPeer) LockAssertion(ctx context.Context, loc config.Location, req *relaypb.LockAssertionRequest) (*common.Ack, error) {
	return p.target.LockAssertion(ctx, req)
}

func (p *loopbackPeer) LockAssertionReceipt(ctx context.Context, loc config.Location, req *relaypb.LockAssertionReceiptRequest) (*common.Ack, error) {
	return p.target.LockAssertionReceipt(ctx, req)
}

func (p *loopbackPeer) CommitPrepare(ctx context.Context, loc config.Location, req *relaypb.CommitPrepareRequest) (*common.Ack, error) {
	return p.target.CommitPrepare(ctx, req)
}

func (p *loopbackPeer) CommitReady(ctx context.Context, loc config.Location, req *relaypb.CommitReadyRequest) (*common.Ack, error) {
	return p.target.CommitReady(ctx, req)
}

func (p *loopbackPeer) CommitFinalAssertion(ctx context.Context, loc config.Location, req *relaypb.CommitFinalAssertionRequest) (*common.Ack, error) {
	return p.target.CommitFinalAssertion(ctx, req)
}

func (p *loopbackPeer) AckFinalReceipt(ctx context.Context, loc config.Location, req *relaypb.AckFinalReceiptRequest) (*common.Ack, error) {
	return p.target.AckFinalReceipt(ctx, req)
}

func (p *loopbackPeer) TransferCompleted(ctx context.Context, loc config.Location, req *relaypb.TransferCompletedRequest) (*common.Ack, error) {
	return p.target.TransferCompleted(ctx, req)
}

// loopbackDriver acknowledges every side-effect and reports the resulting
// asset status back to its gateway, as a real driver process would.
type loopbackDriver struct {
	gateway *Service
	signer  Signer
}

func (d *loopbackDriver) report(sessionID, status string) {
	go d.gateway.SendAssetStatus(context.Background(), &relaypb.SendAssetStatusRequest{
		MessageType:     "urn:cacti:satp:msgtype:send-asset-status",
		SessionId:       sessionID,
		Status:          status,
		ServerSignature: d.signer.Sign(status),
	})
}

func (d *loopbackDriver) PerformLock(ctx context.Context, loc config.Location, sessionID string) error {
	d.report(sessionID, assetStatusLocked)
	return nil
}

func (d *loopbackDriver) CreateAsset(ctx context.Context, loc config.Location, sessionID string) error {
	d.report(sessionID, assetStatusCreated)
	return nil
}

func (d *loopbackDriver) Extinguish(ctx context.Context, loc config.Location, sessionID string) error {
	d.report(sessionID, assetStatusExtinguished)
	return nil
}

func (d *loopbackDriver) AssignAsset(ctx context.Context, loc config.Location, sessionID string) error {
	d.report(sessionID, assetStatusFinalized)
	return nil
}

func gatewayResolver(name string) *config.Resolver {
	return config.NewResolver(&config.Config{
		Name:         name,
		DBPath:       "unused",
		RemoteDBPath: "unused",
		Networks: map[string]config.Network{
			"sender-gw":   {Network: "SenderLedger"},
			"receiver-gw": {Network: "ReceiverLedger"},
		},
		Drivers: map[string]config.Location{
			"SenderLedger":   {Hostname: "localhost", Port: "9090"},
			"ReceiverLedger": {Hostname: "localhost", Port: "9091"},
		},
		Relays: map[string]config.Location{
			"sender-gw":   {Hostname: "localhost", Port: "9080"},
			"receiver-gw": {Hostname: "localhost", Port: "9083"},
		},
		Timeouts: config.Timeouts{CallSeconds: 5, TLSHandshakeSeconds: 5},
	})
}

// newGatewayPair wires a sender and receiver gateway with loopback peers
// and drivers, so the whole protocol runs in-process.
func newGatewayPair(t *testing.T) (*Service, *Service) {
	t.Helper()

	senderStore, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { senderStore.Close() })
	receiverStore, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { receiverStore.Close() })

	senderPeer := &loopbackPeer{}
	receiverPeer := &loopbackPeer{}
	senderDriver := &loopbackDriver{signer: InsecureSigner{Name: "sender-driver"}}
	receiverDriver := &loopbackDriver{signer: InsecureSigner{Name: "receiver-driver"}}

	sender := NewService(gatewayResolver("sender-gw"), senderStore,
		DefaultValidator(), InsecureSigner{Name: "sender-gw"}, senderPeer, senderDriver)
	receiver := NewService(gatewayResolver("receiver-gw"), receiverStore,
		DefaultValidator(), InsecureSigner{Name: "receiver-gw"}, receiverPeer, receiverDriver)

	senderPeer.target = receiver
	receiverPeer.target = sender
	senderDriver.gateway = sender
	receiverDriver.gateway = receiver
	return sender, receiver
}

func sessionPhase(svc *Service, sessionID string) (Phase, bool) {
	session, err := svc.sessions.Get(sessionID)
	if err != nil {
		return 0, false
	}
	return session.Phase, true
}

func TestTransferHappyPath(t *testing.T) {
	sender, receiver := newGatewayPair(t)

	sessionID, err := sender.InitiateTransfer(&networkspb.NetworkAssetTransfer{
		AssetType:        "bond",
		AssetId:          "bond-42",
		SourceRelay:      "sender-gw",
		DestinationRelay: "receiver-gw",
	})
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	// The full twelve-message exchange settles both gateways at Completed.
	require.Eventually(t, func() bool {
		senderPhase, ok := sessionPhase(sender, sessionID)
		if !ok {
			return false
		}
		receiverPhase, ok := sessionPhase(receiver, sessionID)
		return ok && senderPhase == PhaseCompleted && receiverPhase == PhaseCompleted
	}, 5*time.Second, 20*time.Millisecond)

	senderSession, err := sender.sessions.Get(sessionID)
	require.NoError(t, err)
	assert.Equal(t, RoleSender, senderSession.Role)
	assert.Equal(t, "bond-42", senderSession.AssetID)

	receiverSession, err := receiver.sessions.Get(sessionID)
	require.NoError(t, err)
	assert.Equal(t, RoleReceiver, receiverSession.Role)
}

func TestInitiateTransferRejectsIncompleteRequest(t *testing.T) {
	sender, _ := newGatewayPair(t)

	_, err := sender.InitiateTransfer(&networkspb.NetworkAssetTransfer{AssetId: "bond-42"})
	assert.Error(t, err)

	_, err = sender.InitiateTransfer(&networkspb.NetworkAssetTransfer{
		AssetType: "bond", AssetId: "bond-42", SourceRelay: "sender-gw",
	})
	assert.Error(t, err)
}

// A replayed message for an earlier phase is rejected without moving or
// failing the session.
func TestReplayedMessageIsRejected(t *testing.T) {
	sender, _ := newGatewayPair(t)

	sessionID, err := sender.InitiateTransfer(&networkspb.NetworkAssetTransfer{
		AssetType:        "bond",
		AssetId:          "bond-42",
		SourceRelay:      "sender-gw",
		DestinationRelay: "receiver-gw",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		phase, ok := sessionPhase(sender, sessionID)
		return ok && phase == PhaseCompleted
	}, 5*time.Second, 20*time.Millisecond)

	ack, err := sender.AckCommence(context.Background(), &relaypb.AckCommenceRequest{
		MessageType:     "urn:cacti:satp:msgtype:ack-commence",
		SessionId:       sessionID,
		ServerSignature: "stale",
	})
	require.NoError(t, err)
	assert.Equal(t, common.Ack_ERROR, ack.Status)

	phase, ok := sessionPhase(sender, sessionID)
	require.True(t, ok)
	assert.Equal(t, PhaseCompleted, phase)
}

// A phase-correct message with a broken hash chain fails the session.
func TestBrokenHashChainFailsSession(t *testing.T) {
	sender, _ := newGatewayPair(t)

	session := &Session{
		SessionID:        "s-tamper",
		Role:             RoleSender,
		Phase:            PhaseCommenceSent,
		SenderGateway:    "sender-gw",
		RecipientGateway: "receiver-gw",
		LastMessageHash:  "expected-hash",
	}
	require.NoError(t, sender.sessions.Put(session))

	ack, err := sender.AckCommence(context.Background(), &relaypb.AckCommenceRequest{
		SessionId:       "s-tamper",
		ServerSignature: "sig",
		HashPrevMessage: "tampered-hash",
	})
	require.NoError(t, err)
	assert.Equal(t, common.Ack_ERROR, ack.Status)

	stored, err := sender.sessions.Get("s-tamper")
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, stored.Phase)
}

// An unknown session yields an error ack, never a crash.
func TestUnknownSessionIsRejected(t *testing.T) {
	sender, _ := newGatewayPair(t)

	ack, err := sender.CommitReady(context.Background(), &relaypb.CommitReadyRequest{SessionId: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, common.Ack_ERROR, ack.Status)
}
