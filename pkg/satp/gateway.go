package satp

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	networkspb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/networks"
	relaypb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/relay"

	"github.com/cuemby/relay/pkg/address"
	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/relayerr"
)

// PeerClient is the slice of the peer relay client the gateway needs.
type PeerClient interface {
	TransferProposalClaims(ctx context.Context, loc config.Location, req *relaypb.TransferProposalClaimsRequest) (*common.Ack, error)
	TransferProposalReceipt(ctx context.Context, loc config.Location, req *relaypb.TransferProposalReceiptRequest) (*common.Ack, error)
	TransferCommence(ctx context.Context, loc config.Location, req *relaypb.TransferCommenceRequest) (*common.Ack, error)
	AckCommence(ctx context.Context, loc config.Location, req *relaypb.AckCommenceRequest) (*common.Ack, error)
	LockAssertion(ctx context.Context, loc config.Location, req *relaypb.LockAssertionRequest) (*common.Ack, error)
	LockAssertionReceipt(ctx context.Context, loc config.Location, req *relaypb.LockAssertionReceiptRequest) (*common.Ack, error)
	CommitPrepare(ctx context.Context, loc config.Location, req *relaypb.CommitPrepareRequest) (*common.Ack, error)
	CommitReady(ctx context.Context, loc config.Location, req *relaypb.CommitReadyRequest) (*common.Ack, error)
	CommitFinalAssertion(ctx context.Context, loc config.Location, req *relaypb.CommitFinalAssertionRequest) (*common.Ack, error)
	AckFinalReceipt(ctx context.Context, loc config.Location, req *relaypb.AckFinalReceiptRequest) (*common.Ack, error)
	TransferCompleted(ctx context.Context, loc config.Location, req *relaypb.TransferCompletedRequest) (*common.Ack, error)
}

// DriverClient is the slice of the driver client the gateway needs for the
// ledger side-effects of a transfer.
type DriverClient interface {
	PerformLock(ctx context.Context, loc config.Location, sessionID string) error
	CreateAsset(ctx context.Context, loc config.Location, sessionID string) error
	Extinguish(ctx context.Context, loc config.Location, sessionID string) error
	AssignAsset(ctx context.Context, loc config.Location, sessionID string) error
}

// Signer produces the opaque signatures stamped on outbound protocol
// messages. The core never verifies signatures itself; deployments pair a
// real Signer with a matching Validator.
type Signer interface {
	Sign(digest string) string
	Identity() string
}

// InsecureSigner marks messages with the relay name instead of a real
// signature. It pairs with the default validator's non-empty check only.
type InsecureSigner struct {
	Name string
}

func (s InsecureSigner) Sign(digest string) string {
	return "insecure:" + s.Name + ":" + digest
}

func (s InsecureSigner) Identity() string {
	return s.Name
}

// proposalRef points a stage-1 proposal at the session the sender minted
// for it; receipts carry no session id, so they resolve through this alias.
type proposalRef struct {
	SessionID string `json:"session_id"`
}

func senderProposalKey(profileID, assetID string) string {
	return "satp_proposal_" + profileID + ":" + assetID
}

func receiverProposalKey(claimsHash string) string {
	return "satp_proposal_" + claimsHash
}

// gatewayLoc resolves a gateway network id to a peer relay endpoint: a
// configured relay of that name wins, otherwise the id is parsed as a bare
// host:port address.
func (s *Service) gatewayLoc(gatewayID string) (config.Location, error) {
	if loc, err := s.resolver.GetPeerRelay(gatewayID); err == nil {
		return loc, nil
	}
	parsed, err := address.ParseLocation(gatewayID)
	if err != nil {
		return config.Location{}, relayerr.Newf(relayerr.NotFound, "gateway %q is neither a configured relay nor a host:port address", gatewayID)
	}
	return s.resolver.FindPeerRelay(parsed.Hostname, parsed.Port), nil
}

// InitiateTransfer opens a transfer session on this (sender) gateway and
// fires the stage-1 proposal at the receiver gateway.
func (s *Service) InitiateTransfer(transfer *networkspb.NetworkAssetTransfer) (string, error) {
	if transfer.AssetId == "" || transfer.AssetType == "" {
		return "", relayerr.New(relayerr.Malformed, "asset transfer request must name an asset id and type")
	}
	if transfer.SourceRelay == "" || transfer.DestinationRelay == "" {
		return "", relayerr.New(relayerr.Malformed, "asset transfer request must name source and destination relays")
	}
	recipientLoc, err := s.gatewayLoc(transfer.DestinationRelay)
	if err != nil {
		return "", err
	}

	sessionID := uuid.NewString()
	claims := &relaypb.TransferProposalClaimsRequest{
		MessageType:               messageTypeProposalClaims,
		AssetAssetId:              transfer.AssetId,
		AssetProfileId:            transfer.AssetType,
		SenderGatewayNetworkId:    transfer.SourceRelay,
		RecipientGatewayNetworkId: transfer.DestinationRelay,
		ClientIdentityPubkey:      s.signer.Identity(),
	}
	claimsHash := MessageHash(claims)

	session := &Session{
		SessionID:            sessionID,
		TransferContextID:    uuid.NewString(),
		Role:                 RoleSender,
		Phase:                PhaseProposalSent,
		AssetID:              transfer.AssetId,
		AssetProfileID:       transfer.AssetType,
		SenderGateway:        transfer.SourceRelay,
		RecipientGateway:     transfer.DestinationRelay,
		ClientIdentityPubkey: s.signer.Identity(),
		LastMessageHash:      claimsHash,
		ProposalHash:         claimsHash,
	}
	if err := s.sessions.Put(session); err != nil {
		return "", err
	}
	ref, _ := json.Marshal(proposalRef{SessionID: sessionID})
	if err := s.local.Put(senderProposalKey(transfer.AssetType, transfer.AssetId), ref); err != nil {
		return "", err
	}

	logStep(sessionID, "1.1", OpInit, transfer.SourceRelay, "")
	s.spawn(sessionID, "1.1", func(ctx context.Context) (*common.Ack, error) {
		return s.peers.TransferProposalClaims(ctx, recipientLoc, claims)
	})
	metrics.TransferPhase.WithLabelValues(string(RoleSender)).Set(float64(PhaseProposalSent))
	return sessionID, nil
}

// senderSession resolves the session a stage-1 receipt belongs to.
func (s *Service) senderSession(profileID, assetID string) (*Session, error) {
	data, err := s.local.Get(senderProposalKey(profileID, assetID))
	if err != nil {
		return nil, err
	}
	var ref proposalRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, relayerr.Wrap(relayerr.Storage, "failed to decode proposal reference", err)
	}
	return s.sessions.Get(ref.SessionID)
}

// spawn runs one outbound protocol step in the background, logging the
// counterpart's ack. Outbound steps are fire-and-forget: failures surface
// as a Failed session, never as an error to the caller.
func (s *Service) spawn(sessionID, stepID string, call func(ctx context.Context) (*common.Ack, error)) {
	timeout := s.resolver.CallTimeout()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ack, err := call(ctx)
		switch {
		case err != nil:
			logStep(sessionID, stepID, OpFailed, "", err.Error())
			if sessionID != "" {
				s.failSession(sessionID, err.Error())
			}
		case ack.Status == common.Ack_ERROR:
			logStep(sessionID, stepID, OpFailed, "", ack.Message)
			if sessionID != "" {
				s.failSession(sessionID, ack.Message)
			}
		default:
			logStep(sessionID, stepID, OpDone, "", "")
		}
	}()
}

// spawnDriver runs one ledger side-effect in the background. The driver
// reports progress by calling SendAssetStatus on this gateway; only a
// rejected call fails the session here.
func (s *Service) spawnDriver(session *Session, stepID string, networkID string, call func(ctx context.Context, loc config.Location) error) {
	sessionID := session.SessionID
	driverLoc, err := s.resolver.GetDriver(networkID)
	if err != nil {
		logStep(sessionID, stepID, OpFailed, networkID, err.Error())
		s.failSession(sessionID, err.Error())
		return
	}
	timeout := s.resolver.CallTimeout()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := call(ctx, driverLoc); err != nil {
			logStep(sessionID, stepID, OpFailed, networkID, err.Error())
			s.failSession(sessionID, err.Error())
			return
		}
		logStep(sessionID, stepID, OpDone, networkID, "")
	}()
}

// failSession moves a session to Failed; already-terminal sessions are
// left alone.
func (s *Service) failSession(sessionID, reason string) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		logger := log.WithComponent("satp")
		logger.Error().Err(err).Str("session_id", sessionID).Msg("cannot fail unknown session")
		return
	}
	if session.Phase == PhaseCompleted || session.Phase == PhaseFailed {
		return
	}
	s.sessions.Fail(session, reason)
	metrics.TransferSessionsTotal.WithLabelValues("failed").Inc()
}

// nextTransferNumber advances the per-side message counter.
func (s *Service) nextTransferNumber(session *Session) string {
	if session.Role == RoleSender {
		session.ClientTransferNumber++
		return strconv.Itoa(session.ClientTransferNumber)
	}
	session.ServerTransferNumber++
	return strconv.Itoa(session.ServerTransferNumber)
}
