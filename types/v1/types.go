package v1

// VerifyRequest is the legacy facilitator request body, carrying the terms and
// the proof already separated and base64 encoded.
type VerifyRequest struct {
	TermsB64 string `json:"termsB64"`
	ProofB64 string `json:"proofB64"`
}

// IsLegacy reports whether both legacy fields are present.
func (r VerifyRequest) IsLegacy() bool {
	return r.TermsB64 != "" && r.ProofB64 != ""
}
