package sequencer

import (
	"fmt"

	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/signer"
)

// BuildAndSign wraps msg in an interaction signed by s.
// The result is deterministic for a given message and key.
func BuildAndSign(s *signer.Signer, msg ir.Message) (ir.SignedInteraction, error) {
	msg, err := ir.WithID(msg)
	if err != nil {
		return ir.SignedInteraction{}, fmt.Errorf("build interaction: %w", err)
	}
	payload, err := ir.InteractionPayload(msg)
	if err != nil {
		return ir.SignedInteraction{}, fmt.Errorf("build interaction: %w", err)
	}
	sig := s.Sign(payload)
	return ir.SignedInteraction{
		ID:        ir.InteractionID(payload, sig),
		Message:   msg,
		Owner:     s.PublicKey(),
		Signature: sig,
	}, nil
}

// VerifyInteraction checks the signature and id of an interaction.
func VerifyInteraction(si ir.SignedInteraction) error {
	if si.Message.ID == "" {
		return fmt.Errorf("message id is required")
	}
	payload, err := ir.InteractionPayload(si.Message)
	if err != nil {
		return err
	}
	if err := signer.Verify(si.Owner, si.Signature, payload); err != nil {
		return err
	}
	if want := ir.InteractionID(payload, si.Signature); si.ID != want {
		return fmt.Errorf("interaction id %s does not match payload (want %s)", si.ID, want)
	}
	return nil
}
