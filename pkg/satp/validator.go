package satp

import (
	"github.com/cuemby/relay/pkg/relayerr"
)

// Validator holds the pluggable predicates applied to the inbound commence
// and lock messages; driver asset-status reports get the signature check
// only, and the proposal and commit-stage messages are not checked. The
// core treats signatures as opaque; deployments wire real verification
// here. A predicate failure rejects the message and fails an existing
// session.
type Validator struct {
	// CheckSignature validates the client or server signature carried by
	// the message.
	CheckSignature func(signature, identityPubkey string) error

	// CheckHashChain validates a message's hash_prev_message against the
	// hash of the last protocol message seen for the session.
	CheckHashChain func(want, got string) error
}

// DefaultValidator rejects empty signatures and broken hash chains.
func DefaultValidator() *Validator {
	return &Validator{
		CheckSignature: func(signature, identityPubkey string) error {
			if signature == "" {
				return relayerr.New(relayerr.Protocol, "message carries no signature")
			}
			return nil
		},
		CheckHashChain: func(want, got string) error {
			if got != want {
				return relayerr.Newf(relayerr.Protocol, "hash chain broken: message chains to %q, last message hash is %q", got, want)
			}
			return nil
		},
	}
}

// validateInbound applies both predicates to an inbound message's fields.
func (v *Validator) validateInbound(session *Session, signature, identityPubkey, hashPrev string) error {
	if err := v.CheckSignature(signature, identityPubkey); err != nil {
		return err
	}
	return v.CheckHashChain(session.LastMessageHash, hashPrev)
}
