package domain

import "errors"

// Error classes. Wrap them with fmt.Errorf("%w: ...", ErrX) and classify with errors.Is.
var (
	// ErrConnectivity: endpoint unreachable, the network is excluded for the process lifetime.
	ErrConnectivity = errors.New("connectivity error")
	// ErrScan: per-cycle, per-network scan failure.
	ErrScan = errors.New("scan error")
	// ErrFeature: malformed transaction fields, the candidate is dropped.
	ErrFeature = errors.New("feature error")
	// ErrEvaluation: scorer failure, the candidate is rejected.
	ErrEvaluation = errors.New("evaluation error")
	// ErrSigning: signer failure, the intent fails and its nonce is released.
	ErrSigning = errors.New("signing error")
	// ErrSubmission: relay and public submission both failed.
	ErrSubmission = errors.New("submission error")
	// ErrConfiguration: missing or invalid required configuration.
	ErrConfiguration = errors.New("configuration error")

	ErrNoLiveNetworks       = errors.New("no live networks")
	ErrNonceContention      = errors.New("nonce contention")
	ErrDuplicateOpportunity = errors.New("duplicate opportunity")
)
