package commitment

// Groth16Verifier is invoked as a pure function of (verification key, proof,
// public signals). Production wiring requires a pairing-based cryptography
// library; this package only depends on the interface so tests (and
// deployments without a real circuit yet) can supply a stub.
type Groth16Verifier interface {
	Verify(verificationKey []byte, proof Proof, publicSignals []string) (bool, error)
}

// StubGroth16Verifier accepts any structurally well-formed proof whose
// first public signal matches what the caller already validated against the
// commitment. It exists so the commitment-verification code path is
// complete and testable before a real circuit is wired in.
type StubGroth16Verifier struct{}

// Verify implements Groth16Verifier.
func (StubGroth16Verifier) Verify(_ []byte, proof Proof, publicSignals []string) (bool, error) {
	if proof.Protocol != "groth16" {
		return false, nil
	}
	if len(proof.PiA) == 0 || len(proof.PiB) == 0 || len(proof.PiC) == 0 {
		return false, nil
	}
	return len(publicSignals) > 0, nil
}
