package satp

import (
	"context"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	relaypb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/relay"

	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/storage"
)

// Message type identifiers stamped on outbound protocol messages.
const (
	messageTypeProposalClaims  = "urn:cacti:satp:msgtype:transfer-proposal-claims"
	messageTypeProposalReceipt = "urn:cacti:satp:msgtype:transfer-proposal-receipt"
	messageTypeCommence        = "urn:cacti:satp:msgtype:transfer-commence"
	messageTypeAckCommence     = "urn:cacti:satp:msgtype:ack-commence"
	messageTypeLockAssertion   = "urn:cacti:satp:msgtype:lock-assertion"
	messageTypeLockReceipt     = "urn:cacti:satp:msgtype:lock-assertion-receipt"
	messageTypeCommitPrepare   = "urn:cacti:satp:msgtype:commit-prepare"
	messageTypeCommitReady     = "urn:cacti:satp:msgtype:commit-ready"
	messageTypeCommitFinal     = "urn:cacti:satp:msgtype:commit-final-assertion"
	messageTypeAckFinal        = "urn:cacti:satp:msgtype:ack-final-receipt"
	messageTypeCompleted       = "urn:cacti:satp:msgtype:transfer-completed"
)

// Driver-reported asset statuses that drive the commit stages.
const (
	assetStatusLocked       = "Locked"
	assetStatusCreated      = "Created"
	assetStatusExtinguished = "Extinguished"
	assetStatusFinalized    = "Finalized"
)

// Service implements the gateway side of the asset transfer protocol
// (relay.satp.SATP) for both roles. Each inbound endpoint advances the
// session phase, fires the next step in the background and acks the caller
// immediately. TransferCommence, AckCommence, LockAssertion and
// LockAssertionReceipt run the Validator's signature and hash-chain checks;
// the stage-1 proposal messages and the commit-stage messages are accepted
// on phase alone, without signature or hash-chain checks.
type Service struct {
	relaypb.UnimplementedSATPServer

	resolver  *config.Resolver
	local     storage.Store
	sessions  *SessionStore
	validator *Validator
	signer    Signer
	peers     PeerClient
	drivers   DriverClient
}

// NewService wires the asset transfer service.
func NewService(resolver *config.Resolver, local storage.Store, validator *Validator, signer Signer, peers PeerClient, drivers DriverClient) *Service {
	return &Service{
		resolver:  resolver,
		local:     local,
		sessions:  NewSessionStore(local),
		validator: validator,
		signer:    signer,
		peers:     peers,
		drivers:   drivers,
	}
}

func okAck(sessionID, message string) (*common.Ack, error) {
	return &common.Ack{Status: common.Ack_OK, RequestId: sessionID, Message: message}, nil
}

func errAck(sessionID, message string) (*common.Ack, error) {
	return &common.Ack{Status: common.Ack_ERROR, RequestId: sessionID, Message: message}, nil
}

// rejectOrFail converts a processing error into an error ack. Protocol
// violations on live sessions are terminal; a phase mismatch (replay or
// out-of-order message) only rejects the message, leaving the session at
// its current phase.
func (s *Service) rejectOrFail(sessionID, stepID string, err error, terminal bool) (*common.Ack, error) {
	logStep(sessionID, stepID, OpFailed, "", err.Error())
	if terminal {
		s.failSession(sessionID, err.Error())
	}
	return errAck(sessionID, err.Error())
}

// --- Stage 1: negotiation ---

// TransferProposalClaims runs on the receiver gateway: the sender proposes
// an asset transfer. The proposal is recorded (keyed by its own hash, which
// TransferCommence later echoes) and a receipt is returned.
func (s *Service) TransferProposalClaims(ctx context.Context, req *relaypb.TransferProposalClaimsRequest) (*common.Ack, error) {
	const stepID = "1.1"
	logStep("", stepID, OpInit, req.SenderGatewayNetworkId, "")

	if req.AssetAssetId == "" || req.SenderGatewayNetworkId == "" {
		return errAck("", "transfer proposal claims must name an asset and a sender gateway")
	}
	senderLoc, err := s.gatewayLoc(req.SenderGatewayNetworkId)
	if err != nil {
		return errAck("", err.Error())
	}
	claimsHash := MessageHash(req)

	receipt := &relaypb.TransferProposalReceiptRequest{
		MessageType:                 messageTypeProposalReceipt,
		AssetAssetId:                req.AssetAssetId,
		AssetProfileId:              req.AssetProfileId,
		VerifiedOriginatorEntityId:  req.VerifiedOriginatorEntityId,
		VerifiedBeneficiaryEntityId: req.VerifiedBeneficiaryEntityId,
		OriginatorPubkey:            req.OriginatorPubkey,
		BeneficiaryPubkey:           req.BeneficiaryPubkey,
		SenderGatewayNetworkId:      req.SenderGatewayNetworkId,
		RecipientGatewayNetworkId:   req.RecipientGatewayNetworkId,
		ClientIdentityPubkey:        req.ClientIdentityPubkey,
		ServerIdentityPubkey:        s.signer.Identity(),
	}

	proposal := &Session{
		Role:                 RoleReceiver,
		Phase:                PhaseProposalAcked,
		AssetID:              req.AssetAssetId,
		AssetProfileID:       req.AssetProfileId,
		SenderGateway:        req.SenderGatewayNetworkId,
		RecipientGateway:     req.RecipientGatewayNetworkId,
		ClientIdentityPubkey: req.ClientIdentityPubkey,
		ServerIdentityPubkey: s.signer.Identity(),
		LastMessageHash:      MessageHash(receipt),
		ProposalHash:         claimsHash,
	}
	data, err := sessionBytes(proposal)
	if err != nil {
		return errAck("", err.Error())
	}
	if err := s.local.Put(receiverProposalKey(claimsHash), data); err != nil {
		return errAck("", err.Error())
	}

	logStep("", stepID, OpExec, req.SenderGatewayNetworkId, "")
	s.spawn("", stepID, func(ctx context.Context) (*common.Ack, error) {
		return s.peers.TransferProposalReceipt(ctx, senderLoc, receipt)
	})
	return okAck("", "ack of the transfer proposal claims request")
}

// TransferProposalReceipt runs on the sender gateway: the receiver accepted
// the proposal, so the sender mints the wire session id and commences.
func (s *Service) TransferProposalReceipt(ctx context.Context, req *relaypb.TransferProposalReceiptRequest) (*common.Ack, error) {
	const stepID = "1.2"
	logStep("", stepID, OpInit, req.RecipientGatewayNetworkId, "")

	session, err := s.senderSession(req.AssetProfileId, req.AssetAssetId)
	if err != nil {
		return errAck("", "no transfer proposal found for receipt: "+err.Error())
	}
	if session.Phase != PhaseProposalSent {
		return s.rejectOrFail(session.SessionID, stepID, relayerr.Newf(relayerr.Protocol,
			"session %s is in phase %s, not awaiting a proposal receipt", session.SessionID, session.Phase), false)
	}
	recipientLoc, err := s.gatewayLoc(session.RecipientGateway)
	if err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, true)
	}

	session.ServerIdentityPubkey = req.ServerIdentityPubkey
	session.Phase = PhaseProposalAcked
	receiptHash := MessageHash(req)

	commence := &relaypb.TransferCommenceRequest{
		MessageType:            messageTypeCommence,
		SessionId:              session.SessionID,
		TransferContextId:      session.TransferContextID,
		ClientIdentityPubkey:   session.ClientIdentityPubkey,
		ServerIdentityPubkey:   session.ServerIdentityPubkey,
		HashTransferInitClaims: session.ProposalHash,
		HashPrevMessage:        receiptHash,
		ClientTransferNumber:   s.nextTransferNumber(session),
	}
	commence.ClientSignature = s.signer.Sign(MessageHash(commence))

	session.LastMessageHash = MessageHash(commence)
	session.Phase = PhaseCommenceSent
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, true)
	}

	logStep(session.SessionID, stepID, OpExec, session.RecipientGateway, "")
	s.spawn(session.SessionID, stepID, func(ctx context.Context) (*common.Ack, error) {
		return s.peers.TransferCommence(ctx, recipientLoc, commence)
	})
	return okAck(session.SessionID, "ack of the transfer proposal receipt request")
}

// TransferCommence runs on the receiver gateway: the sender signals it is
// ready to start the transfer. The receiver adopts the session id minted by
// the sender and acks the commencement.
func (s *Service) TransferCommence(ctx context.Context, req *relaypb.TransferCommenceRequest) (*common.Ack, error) {
	const stepID = "1.3"
	logStep(req.SessionId, stepID, OpInit, "", "")

	if req.SessionId == "" {
		return errAck("", "transfer commence carries no session id")
	}
	if _, err := s.sessions.Get(req.SessionId); err == nil {
		// Replayed commence: the session already exists and must not be
		// rebuilt from the proposal record.
		logStep(req.SessionId, stepID, OpFailed, "", "session already commenced")
		return errAck(req.SessionId, "session already commenced")
	}
	data, err := s.local.Get(receiverProposalKey(req.HashTransferInitClaims))
	if err != nil {
		return errAck(req.SessionId, "no transfer proposal matches the commence request: "+err.Error())
	}
	session, err := sessionFromBytes(data)
	if err != nil {
		return errAck(req.SessionId, err.Error())
	}
	if err := s.validator.validateInbound(session, req.ClientSignature, req.ClientIdentityPubkey, req.HashPrevMessage); err != nil {
		// The proposal never became a session; reject without a session to fail.
		logStep(req.SessionId, stepID, OpFailed, "", err.Error())
		return errAck(req.SessionId, err.Error())
	}
	senderLoc, err := s.gatewayLoc(session.SenderGateway)
	if err != nil {
		return errAck(req.SessionId, err.Error())
	}

	session.SessionID = req.SessionId
	session.TransferContextID = req.TransferContextId
	session.LastMessageHash = MessageHash(req)

	ack := &relaypb.AckCommenceRequest{
		MessageType:          messageTypeAckCommence,
		SessionId:            session.SessionID,
		TransferContextId:    session.TransferContextID,
		ClientIdentityPubkey: session.ClientIdentityPubkey,
		ServerIdentityPubkey: session.ServerIdentityPubkey,
		HashPrevMessage:      session.LastMessageHash,
		ServerTransferNumber: s.nextTransferNumber(session),
	}
	ack.ServerSignature = s.signer.Sign(MessageHash(ack))

	session.LastMessageHash = MessageHash(ack)
	session.Phase = PhaseCommenceAcked
	if err := s.sessions.Put(session); err != nil {
		return errAck(req.SessionId, err.Error())
	}

	logStep(session.SessionID, stepID, OpExec, session.SenderGateway, "")
	s.spawn(session.SessionID, stepID, func(ctx context.Context) (*common.Ack, error) {
		return s.peers.AckCommence(ctx, senderLoc, ack)
	})
	return okAck(session.SessionID, "ack of the transfer commence request")
}

// AckCommence runs on the sender gateway: negotiation is complete, so the
// sender asks its driver to lock the asset. The lock assertion follows once
// the driver reports the asset Locked.
func (s *Service) AckCommence(ctx context.Context, req *relaypb.AckCommenceRequest) (*common.Ack, error) {
	const stepID = "1.4"
	logStep(req.SessionId, stepID, OpInit, "", "")

	session, err := s.sessions.Get(req.SessionId)
	if err != nil {
		return errAck(req.SessionId, "unknown session: "+err.Error())
	}
	if err := session.RequirePhase(PhaseCommenceSent); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, false)
	}
	if err := s.validator.validateInbound(session, req.ServerSignature, req.ServerIdentityPubkey, req.HashPrevMessage); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}
	if err := s.sessions.Advance(session, PhaseCommenceSent, PhaseCommenceAcked); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, false)
	}
	session.LastMessageHash = MessageHash(req)
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}

	logStep(session.SessionID, stepID, OpExec, session.SenderGateway, "requesting asset lock")
	s.spawnDriver(session, "2.1", session.SenderGateway, func(ctx context.Context, loc config.Location) error {
		return s.drivers.PerformLock(ctx, loc, session.SessionID)
	})
	return okAck(session.SessionID, "ack of the ack commence request")
}

// --- Driver progress reports ---

// SendAssetStatus is called by this gateway's own driver as each ledger
// side-effect lands. The reported status selects the next protocol message.
func (s *Service) SendAssetStatus(ctx context.Context, req *relaypb.SendAssetStatusRequest) (*common.Ack, error) {
	logStep(req.SessionId, "driver", OpInit, "", req.Status)

	session, err := s.sessions.Get(req.SessionId)
	if err != nil {
		return errAck(req.SessionId, "unknown session: "+err.Error())
	}
	if err := s.validator.CheckSignature(req.ServerSignature, req.ServerIdentityPubkey); err != nil {
		return s.rejectOrFail(req.SessionId, "driver", err, true)
	}

	switch req.Status {
	case assetStatusLocked:
		return s.assetLocked(session)
	case assetStatusCreated:
		return s.assetCreated(session)
	case assetStatusExtinguished:
		return s.assetExtinguished(session)
	case assetStatusFinalized:
		return s.assetFinalized(session)
	}
	return s.rejectOrFail(req.SessionId, "driver",
		relayerr.Newf(relayerr.Protocol, "invalid asset status %q", req.Status), true)
}

// assetLocked: sender broadcasts the lock assertion to the receiver.
func (s *Service) assetLocked(session *Session) (*common.Ack, error) {
	const stepID = "2.1B"
	if err := s.sessions.Advance(session, PhaseCommenceAcked, PhaseLockAsserted); err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, false)
	}
	recipientLoc, err := s.gatewayLoc(session.RecipientGateway)
	if err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, true)
	}

	assertion := &relaypb.LockAssertionRequest{
		MessageType:              messageTypeLockAssertion,
		SessionId:                session.SessionID,
		TransferContextId:        session.TransferContextID,
		ClientIdentityPubkey:     session.ClientIdentityPubkey,
		ServerIdentityPubkey:     session.ServerIdentityPubkey,
		LockAssertionClaim:       assetStatusLocked,
		LockAssertionClaimFormat: "status",
		HashPrevMessage:          session.LastMessageHash,
		ClientTransferNumber:     s.nextTransferNumber(session),
	}
	assertion.ClientSignature = s.signer.Sign(MessageHash(assertion))

	session.LastMessageHash = MessageHash(assertion)
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, true)
	}

	logStep(session.SessionID, stepID, OpExec, session.RecipientGateway, "asset locked, sending lock assertion")
	s.spawn(session.SessionID, stepID, func(ctx context.Context) (*common.Ack, error) {
		return s.peers.LockAssertion(ctx, recipientLoc, assertion)
	})
	return okAck(session.SessionID, "ack of the asset status request")
}

// assetCreated: receiver reports commit readiness to the sender.
func (s *Service) assetCreated(session *Session) (*common.Ack, error) {
	const stepID = "3.2B"
	if err := s.sessions.Advance(session, PhaseCommitPrepared, PhaseCommitReady); err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, false)
	}
	senderLoc, err := s.gatewayLoc(session.SenderGateway)
	if err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, true)
	}

	ready := &relaypb.CommitReadyRequest{
		MessageType:       messageTypeCommitReady,
		SessionId:         session.SessionID,
		TransferContextId: session.TransferContextID,
	}
	session.LastMessageHash = MessageHash(ready)
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, true)
	}

	logStep(session.SessionID, stepID, OpExec, session.SenderGateway, "asset created, sending commit ready")
	s.spawn(session.SessionID, stepID, func(ctx context.Context) (*common.Ack, error) {
		return s.peers.CommitReady(ctx, senderLoc, ready)
	})
	return okAck(session.SessionID, "ack of the asset status request")
}

// assetExtinguished: sender asserts the final commit to the receiver.
func (s *Service) assetExtinguished(session *Session) (*common.Ack, error) {
	const stepID = "3.4B"
	if err := s.sessions.Advance(session, PhaseCommitReady, PhaseCommitFinalAsserted); err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, false)
	}
	recipientLoc, err := s.gatewayLoc(session.RecipientGateway)
	if err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, true)
	}

	final := &relaypb.CommitFinalAssertionRequest{
		MessageType:       messageTypeCommitFinal,
		SessionId:         session.SessionID,
		TransferContextId: session.TransferContextID,
	}
	session.LastMessageHash = MessageHash(final)
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, true)
	}

	logStep(session.SessionID, stepID, OpExec, session.RecipientGateway, "asset extinguished, sending commit final assertion")
	s.spawn(session.SessionID, stepID, func(ctx context.Context) (*common.Ack, error) {
		return s.peers.CommitFinalAssertion(ctx, recipientLoc, final)
	})
	return okAck(session.SessionID, "ack of the asset status request")
}

// assetFinalized: receiver acknowledges the final receipt to the sender.
func (s *Service) assetFinalized(session *Session) (*common.Ack, error) {
	const stepID = "3.6B"
	if err := s.sessions.Advance(session, PhaseCommitFinalAsserted, PhaseFinalAcked); err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, false)
	}
	senderLoc, err := s.gatewayLoc(session.SenderGateway)
	if err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, true)
	}

	receipt := &relaypb.AckFinalReceiptRequest{
		MessageType:       messageTypeAckFinal,
		SessionId:         session.SessionID,
		TransferContextId: session.TransferContextID,
	}
	session.LastMessageHash = MessageHash(receipt)
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(session.SessionID, stepID, err, true)
	}

	logStep(session.SessionID, stepID, OpExec, session.SenderGateway, "asset finalized, sending ack final receipt")
	s.spawn(session.SessionID, stepID, func(ctx context.Context) (*common.Ack, error) {
		return s.peers.AckFinalReceipt(ctx, senderLoc, receipt)
	})
	return okAck(session.SessionID, "ack of the asset status request")
}

// --- Stage 2: lock ---

// LockAssertion runs on the receiver gateway: the sender asserts the asset
// is locked on its ledger.
func (s *Service) LockAssertion(ctx context.Context, req *relaypb.LockAssertionRequest) (*common.Ack, error) {
	const stepID = "2.2"
	logStep(req.SessionId, stepID, OpInit, "", "")

	session, err := s.sessions.Get(req.SessionId)
	if err != nil {
		return errAck(req.SessionId, "unknown session: "+err.Error())
	}
	if err := session.RequirePhase(PhaseCommenceAcked); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, false)
	}
	if err := s.validator.validateInbound(session, req.ClientSignature, req.ClientIdentityPubkey, req.HashPrevMessage); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}
	if err := s.sessions.Advance(session, PhaseCommenceAcked, PhaseLockAcked); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, false)
	}
	senderLoc, err := s.gatewayLoc(session.SenderGateway)
	if err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}
	session.LastMessageHash = MessageHash(req)

	receipt := &relaypb.LockAssertionReceiptRequest{
		MessageType:          messageTypeLockReceipt,
		SessionId:            session.SessionID,
		TransferContextId:    session.TransferContextID,
		ClientIdentityPubkey: session.ClientIdentityPubkey,
		ServerIdentityPubkey: session.ServerIdentityPubkey,
		HashPrevMessage:      session.LastMessageHash,
		ServerTransferNumber: s.nextTransferNumber(session),
	}
	receipt.ServerSignature = s.signer.Sign(MessageHash(receipt))

	session.LastMessageHash = MessageHash(receipt)
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}

	logStep(session.SessionID, stepID, OpExec, session.SenderGateway, "")
	s.spawn(session.SessionID, stepID, func(ctx context.Context) (*common.Ack, error) {
		return s.peers.LockAssertionReceipt(ctx, senderLoc, receipt)
	})
	return okAck(session.SessionID, "ack of the lock assertion request")
}

// LockAssertionReceipt runs on the sender gateway: the receiver accepted
// the lock assertion, so the commit stage opens.
func (s *Service) LockAssertionReceipt(ctx context.Context, req *relaypb.LockAssertionReceiptRequest) (*common.Ack, error) {
	const stepID = "2.4"
	logStep(req.SessionId, stepID, OpInit, "", "")

	session, err := s.sessions.Get(req.SessionId)
	if err != nil {
		return errAck(req.SessionId, "unknown session: "+err.Error())
	}
	if err := session.RequirePhase(PhaseLockAsserted); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, false)
	}
	if err := s.validator.validateInbound(session, req.ServerSignature, req.ServerIdentityPubkey, req.HashPrevMessage); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}
	if err := s.sessions.Advance(session, PhaseLockAsserted, PhaseLockAcked); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, false)
	}
	recipientLoc, err := s.gatewayLoc(session.RecipientGateway)
	if err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}

	prepare := &relaypb.CommitPrepareRequest{
		MessageType:       messageTypeCommitPrepare,
		SessionId:         session.SessionID,
		TransferContextId: session.TransferContextID,
	}
	session.LastMessageHash = MessageHash(prepare)
	session.Phase = PhaseCommitPrepared
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}

	logStep(session.SessionID, stepID, OpExec, session.RecipientGateway, "")
	s.spawn(session.SessionID, stepID, func(ctx context.Context) (*common.Ack, error) {
		return s.peers.CommitPrepare(ctx, recipientLoc, prepare)
	})
	return okAck(session.SessionID, "ack of the lock assertion receipt request")
}

// --- Stage 3: commit ---

// CommitPrepare runs on the receiver gateway: the sender opens the commit
// stage, so the receiver asks its driver to create the asset.
func (s *Service) CommitPrepare(ctx context.Context, req *relaypb.CommitPrepareRequest) (*common.Ack, error) {
	const stepID = "3.1"
	logStep(req.SessionId, stepID, OpInit, "", "")

	session, err := s.sessions.Get(req.SessionId)
	if err != nil {
		return errAck(req.SessionId, "unknown session: "+err.Error())
	}
	if err := s.sessions.Advance(session, PhaseLockAcked, PhaseCommitPrepared); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, false)
	}
	session.LastMessageHash = MessageHash(req)
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}

	logStep(session.SessionID, stepID, OpExec, session.RecipientGateway, "requesting asset creation")
	s.spawnDriver(session, stepID, session.RecipientGateway, func(ctx context.Context, loc config.Location) error {
		return s.drivers.CreateAsset(ctx, loc, session.SessionID)
	})
	return okAck(session.SessionID, "ack of the commit prepare request")
}

// CommitReady runs on the sender gateway: the receiver's asset exists, so
// the sender asks its driver to extinguish the original.
func (s *Service) CommitReady(ctx context.Context, req *relaypb.CommitReadyRequest) (*common.Ack, error) {
	const stepID = "3.3"
	logStep(req.SessionId, stepID, OpInit, "", "")

	session, err := s.sessions.Get(req.SessionId)
	if err != nil {
		return errAck(req.SessionId, "unknown session: "+err.Error())
	}
	if err := s.sessions.Advance(session, PhaseCommitPrepared, PhaseCommitReady); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, false)
	}
	session.LastMessageHash = MessageHash(req)
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}

	logStep(session.SessionID, stepID, OpExec, session.SenderGateway, "requesting asset extinguishment")
	s.spawnDriver(session, stepID, session.SenderGateway, func(ctx context.Context, loc config.Location) error {
		return s.drivers.Extinguish(ctx, loc, session.SessionID)
	})
	return okAck(session.SessionID, "ack of the commit ready request")
}

// CommitFinalAssertion runs on the receiver gateway: the original asset is
// extinguished, so the receiver asks its driver to assign the new asset.
func (s *Service) CommitFinalAssertion(ctx context.Context, req *relaypb.CommitFinalAssertionRequest) (*common.Ack, error) {
	const stepID = "3.5"
	logStep(req.SessionId, stepID, OpInit, "", "")

	session, err := s.sessions.Get(req.SessionId)
	if err != nil {
		return errAck(req.SessionId, "unknown session: "+err.Error())
	}
	if err := s.sessions.Advance(session, PhaseCommitReady, PhaseCommitFinalAsserted); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, false)
	}
	session.LastMessageHash = MessageHash(req)
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}

	logStep(session.SessionID, stepID, OpExec, session.RecipientGateway, "requesting asset assignment")
	s.spawnDriver(session, stepID, session.RecipientGateway, func(ctx context.Context, loc config.Location) error {
		return s.drivers.AssignAsset(ctx, loc, session.SessionID)
	})
	return okAck(session.SessionID, "ack of the commit final assertion request")
}

// AckFinalReceipt runs on the sender gateway: the receiver finalized the
// assignment, so the transfer is complete on the sender side.
func (s *Service) AckFinalReceipt(ctx context.Context, req *relaypb.AckFinalReceiptRequest) (*common.Ack, error) {
	const stepID = "3.7"
	logStep(req.SessionId, stepID, OpInit, "", "")

	session, err := s.sessions.Get(req.SessionId)
	if err != nil {
		return errAck(req.SessionId, "unknown session: "+err.Error())
	}
	if err := s.sessions.Advance(session, PhaseCommitFinalAsserted, PhaseFinalAcked); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, false)
	}
	recipientLoc, err := s.gatewayLoc(session.RecipientGateway)
	if err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}

	completed := &relaypb.TransferCompletedRequest{
		MessageType:       messageTypeCompleted,
		SessionId:         session.SessionID,
		TransferContextId: session.TransferContextID,
	}
	session.LastMessageHash = MessageHash(completed)
	session.Phase = PhaseCompleted
	if err := s.sessions.Put(session); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, true)
	}
	metrics.TransferSessionsTotal.WithLabelValues("completed").Inc()

	logStep(session.SessionID, stepID, OpExec, session.RecipientGateway, "transfer completed")
	s.spawn(session.SessionID, stepID, func(ctx context.Context) (*common.Ack, error) {
		return s.peers.TransferCompleted(ctx, recipientLoc, completed)
	})
	return okAck(session.SessionID, "ack of the ack final receipt request")
}

// TransferCompleted runs on the receiver gateway: the sender closed the
// protocol; the session is terminal on both sides.
func (s *Service) TransferCompleted(ctx context.Context, req *relaypb.TransferCompletedRequest) (*common.Ack, error) {
	const stepID = "3.8"
	logStep(req.SessionId, stepID, OpInit, "", "")

	session, err := s.sessions.Get(req.SessionId)
	if err != nil {
		return errAck(req.SessionId, "unknown session: "+err.Error())
	}
	if err := s.sessions.Advance(session, PhaseFinalAcked, PhaseCompleted); err != nil {
		return s.rejectOrFail(req.SessionId, stepID, err, false)
	}
	metrics.TransferSessionsTotal.WithLabelValues("completed").Inc()

	logStep(session.SessionID, stepID, OpDone, session.RecipientGateway, "transfer completed")
	return okAck(session.SessionID, "ack of the transfer completed request")
}
