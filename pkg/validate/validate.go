// Package validate interprets decoded peer responses for a given outgoing
// request kind. One validator exists per request kind, selected through an
// explicit dispatch table. Validators judge; they never transform payloads
// or touch persisted state.
package validate

import (
	"fmt"

	"github.com/datasphere-labs/connector/pkg/decode"
)

// RequestKind identifies the outgoing request a response answers. The set
// is closed; adding a kind means adding an owner and a table entry.
type RequestKind string

const (
	KindContractRequest    RequestKind = "contract-request"
	KindContractAgreement  RequestKind = "contract-agreement"
	KindArtifactRequest    RequestKind = "artifact-request"
	KindDescriptionRequest RequestKind = "description-request"
	KindQuery              RequestKind = "query"
	KindNotification       RequestKind = "notification"
)

// MessageResponseError reports that the peer explicitly rejected the
// request. Permanent; the reason is surfaced to the caller.
type MessageResponseError struct {
	Reason  string
	Content []byte
}

func (e *MessageResponseError) Error() string {
	return "peer rejected message: " + e.Reason
}

// InvalidResponseError reports that the peer answered, but not with the
// response kind expected for the request. Permanent.
type InvalidResponseError struct {
	Kind    RequestKind
	Got     string
	Content []byte
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("unexpected response %q to %s", e.Got, e.Kind)
}

// Outcome is the result of one validation call: accepted with a typed
// payload, or rejected with the rejection content attached. Constructed
// exactly once, never partially filled.
type Outcome struct {
	ok           bool
	payload      []byte
	peerRejected bool
	reason       string
	got          string
	content      []byte
	kind         RequestKind
}

// Accepted constructs a successful outcome carrying the response payload.
func Accepted(payload []byte) Outcome {
	return Outcome{ok: true, payload: payload}
}

// OK reports whether the response was accepted.
func (o Outcome) OK() bool { return o.ok }

// Payload returns the accepted response payload.
func (o Outcome) Payload() []byte { return o.payload }

// Reason returns the rejection reason for a failed outcome.
func (o Outcome) Reason() string { return o.reason }

// Content returns whatever content accompanied a failed outcome.
func (o Outcome) Content() []byte { return o.content }

// Err materializes a failed outcome as its typed error: a
// *MessageResponseError when the peer rejected outright, otherwise an
// *InvalidResponseError. Nil for accepted outcomes.
func (o Outcome) Err() error {
	if o.ok {
		return nil
	}
	if o.peerRejected {
		return &MessageResponseError{Reason: o.reason, Content: o.content}
	}
	return &InvalidResponseError{Kind: o.kind, Got: o.got, Content: o.content}
}

// RequestOwner is the canonical owner of a request kind. The owner — not
// the validator — decides whether a decoded response is of the kind
// expected for its requests, so owners may carry rules beyond plain
// message-tag comparison.
type RequestOwner interface {
	Kind() RequestKind
	ExpectsResponse(d *decode.Decoded) bool
}

// Chain dispatches validation by request kind. All validators share the
// base behavior: a response already classified as a rejection
// short-circuits before any owner is consulted.
type Chain struct {
	owners map[RequestKind]RequestOwner
}

// NewChain builds a chain over the given owners. Later owners for the
// same kind replace earlier ones.
func NewChain(owners ...RequestOwner) *Chain {
	c := &Chain{owners: make(map[RequestKind]RequestOwner, len(owners))}
	for _, o := range owners {
		c.owners[o.Kind()] = o
	}
	return c
}

// Validate judges a decoded response against the expectations for the
// request kind. The returned error is reserved for chain misuse (no owner
// registered for the kind); response-level failures are reported through
// the Outcome.
func (c *Chain) Validate(kind RequestKind, d *decode.Decoded) (Outcome, error) {
	owner, ok := c.owners[kind]
	if !ok {
		return Outcome{}, fmt.Errorf("validate: no owner registered for request kind %q", kind)
	}

	if d.IsRejection() {
		return Outcome{
			peerRejected: true,
			reason:       d.RejectionReason(),
			content:      d.Payload,
			kind:         kind,
		}, nil
	}

	if !owner.ExpectsResponse(d) {
		return Outcome{
			reason:  fmt.Sprintf("response type %q not expected for %s", d.Header.Type, kind),
			got:     string(d.Header.Type),
			content: d.Payload,
			kind:    kind,
		}, nil
	}

	return Accepted(d.Payload), nil
}
