package v2

// X402Version is the x402 version enum.
type X402Version int

const (
	X402Version2 X402Version = 2
)

// Scheme is the scheme enum.
type Scheme string

const (
	SchemeLocalDemo Scheme = "local_demo"
)

// ExtensionArcMeter is the extension key carrying the issued terms.
const ExtensionArcMeter = "arcmeter"
