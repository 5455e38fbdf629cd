package satp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"google.golang.org/protobuf/proto"

	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/storage"
)

// Role distinguishes the two gateways of a transfer.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Phase is the ordered progress marker of a transfer session. Phases only
// ever move forward; an out-of-order protocol message is rejected without
// touching the session.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseProposalSent
	PhaseProposalAcked
	PhaseCommenceSent
	PhaseCommenceAcked
	PhaseLockAsserted
	PhaseLockAcked
	PhaseCommitPrepared
	PhaseCommitReady
	PhaseCommitFinalAsserted
	PhaseFinalAcked
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseProposalSent:
		return "proposal_sent"
	case PhaseProposalAcked:
		return "proposal_acked"
	case PhaseCommenceSent:
		return "commence_sent"
	case PhaseCommenceAcked:
		return "commence_acked"
	case PhaseLockAsserted:
		return "lock_asserted"
	case PhaseLockAcked:
		return "lock_acked"
	case PhaseCommitPrepared:
		return "commit_prepared"
	case PhaseCommitReady:
		return "commit_ready"
	case PhaseCommitFinalAsserted:
		return "commit_final_asserted"
	case PhaseFinalAcked:
		return "final_acked"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Session is one gateway's record of an in-flight asset transfer. It is
// exclusively owned by the gateway's local store; the counterpart gateway
// keeps its own record under the same session id.
type Session struct {
	SessionID         string `json:"session_id"`
	TransferContextID string `json:"transfer_context_id"`
	Role              Role   `json:"role"`
	Phase             Phase  `json:"phase"`

	AssetID        string `json:"asset_id"`
	AssetProfileID string `json:"asset_profile_id"`

	// Gateway network ids as they appear on the wire; each doubles as the
	// config key for peer relay and driver resolution.
	SenderGateway    string `json:"sender_gateway"`
	RecipientGateway string `json:"recipient_gateway"`

	ClientIdentityPubkey string `json:"client_identity_pubkey"`
	ServerIdentityPubkey string `json:"server_identity_pubkey"`

	// Hash of the most recent protocol message, sent or received. The next
	// message in either direction must chain to it.
	LastMessageHash string `json:"last_message_hash"`

	// Hash of the stage-1 proposal claims, echoed in TransferCommence.
	ProposalHash string `json:"proposal_hash"`

	// Per-side message counters stamped on signed messages.
	ClientTransferNumber int `json:"client_transfer_number"`
	ServerTransferNumber int `json:"server_transfer_number"`

	FailureReason string `json:"failure_reason,omitempty"`
}

// SessionStore persists sessions in the relay's local store under the
// satp_ key prefix.
type SessionStore struct {
	local storage.Store
}

// NewSessionStore wraps the relay's local store.
func NewSessionStore(local storage.Store) *SessionStore {
	return &SessionStore{local: local}
}

// Put writes a session record.
func (s *SessionStore) Put(session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return relayerr.Wrap(relayerr.Storage, "failed to encode session "+session.SessionID, err)
	}
	if err := s.local.Put(storage.SessionKey(session.SessionID), data); err != nil {
		return err
	}
	metrics.TransferPhase.WithLabelValues(string(session.Role)).Set(float64(session.Phase))
	return nil
}

// Get reads a session record.
func (s *SessionStore) Get(sessionID string) (*Session, error) {
	data, err := s.local.Get(storage.SessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	session := &Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, relayerr.Wrap(relayerr.Storage, "failed to decode session "+sessionID, err)
	}
	return session, nil
}

// Advance moves the session from an expected phase to the next one. A
// session in any other phase rejects the transition, leaving its state
// untouched: replayed and out-of-order messages land here.
func (s *SessionStore) Advance(session *Session, from, to Phase) error {
	if session.Phase != from {
		return relayerr.Newf(relayerr.Protocol,
			"session %s is in phase %s, cannot apply transition %s -> %s",
			session.SessionID, session.Phase, from, to)
	}
	if to < from {
		return relayerr.Newf(relayerr.Protocol,
			"session %s phase may not regress from %s to %s", session.SessionID, from, to)
	}
	session.Phase = to
	return s.Put(session)
}

// RequirePhase rejects a message arriving while the session is not at the
// phase that expects it. Replayed and out-of-order messages fail here,
// before any terminal validation runs, so the session is left untouched.
func (sess *Session) RequirePhase(want Phase) error {
	if sess.Phase != want {
		return relayerr.Newf(relayerr.Protocol,
			"session %s is in phase %s, message expects phase %s", sess.SessionID, sess.Phase, want)
	}
	return nil
}

// Fail marks the session terminally failed. No rollback of already-locked
// assets is attempted; reconciliation is out-of-band.
func (s *SessionStore) Fail(session *Session, reason string) {
	session.Phase = PhaseFailed
	session.FailureReason = reason
	// Best effort: the failure is already logged by the caller.
	_ = s.Put(session)
}

// sessionBytes encodes a session record for storage outside the session
// keyspace (stage-1 proposal records).
func sessionBytes(session *Session) ([]byte, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Storage, "failed to encode proposal record", err)
	}
	return data, nil
}

func sessionFromBytes(data []byte) (*Session, error) {
	session := &Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, relayerr.Wrap(relayerr.Storage, "failed to decode proposal record", err)
	}
	return session, nil
}

// MessageHash computes the hash-chain digest of a protocol message.
func MessageHash(msg proto.Message) string {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
