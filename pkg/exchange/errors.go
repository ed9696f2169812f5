package exchange

import "fmt"

// NegotiationError reports a failed contract negotiation. The wrapped
// cause distinguishes transient transport failures (a *transport.Error,
// safe to retry) from terminal ones such as a peer rejection or an
// invalid response shape.
type NegotiationError struct {
	Peer string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("contract negotiation with %s failed: %v", e.Peer, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// TransferError reports a failed artifact or metadata transfer.
type TransferError struct {
	Peer string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer from %s failed: %v", e.Peer, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// PolicyRestrictionError reports a usage-policy denial. Reason carries
// the enforcement reason code (EXPIRED, COUNT_EXCEEDED, ...).
type PolicyRestrictionError struct {
	Reason string
}

func (e *PolicyRestrictionError) Error() string {
	return fmt.Sprintf("usage policy denied access: %s", e.Reason)
}
