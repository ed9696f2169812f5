package message

import (
	"time"

	"github.com/google/uuid"
)

// Builder constructs outgoing messages stamped with this connector's
// identity, a fresh message id, and the declared info-model version.
type Builder struct {
	issuerConnector string
	senderAgent     string
	modelVersion    string
	token           func() string
	clock           func() time.Time
}

// NewBuilder creates a message builder for the given connector identity.
// token supplies the current security token per message; it may be nil.
func NewBuilder(issuerConnector, senderAgent, modelVersion string, token func() string) *Builder {
	return &Builder{
		issuerConnector: issuerConnector,
		senderAgent:     senderAgent,
		modelVersion:    modelVersion,
		token:           token,
		clock:           time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) header(t Type) Header {
	h := Header{
		Type:            t,
		ID:              "msg:" + uuid.NewString(),
		ModelVersion:    b.modelVersion,
		Issued:          b.clock().UTC(),
		IssuerConnector: b.issuerConnector,
		SenderAgent:     b.senderAgent,
	}
	if b.token != nil {
		h.SecurityToken = b.token()
	}
	return h
}

// ContractRequest builds a contract request carrying the offered contract
// as payload.
func (b *Builder) ContractRequest(contract []byte) *Message {
	return &Message{Header: b.header(TypeContractRequest), Payload: contract}
}

// ContractAgreement builds the confirmation message closing a negotiation.
// correlationID references the peer's contract response.
func (b *Builder) ContractAgreement(agreement []byte, correlationID string) *Message {
	h := b.header(TypeContractAgreement)
	h.CorrelationID = correlationID
	return &Message{Header: h, Payload: agreement}
}

// ArtifactRequest builds a request for artifact bytes under a transfer
// contract (the remote id of a confirmed agreement).
func (b *Builder) ArtifactRequest(artifactID, transferContract string) *Message {
	h := b.header(TypeArtifactRequest)
	h.RequestedArtifact = artifactID
	h.TransferContract = transferContract
	return &Message{Header: h}
}

// DescriptionRequest builds a request for a peer's self-description, or
// for the description of a single element when requestedElement is set.
func (b *Builder) DescriptionRequest(requestedElement string) *Message {
	h := b.header(TypeDescriptionRequest)
	h.RequestedElement = requestedElement
	return &Message{Header: h}
}

// Query builds a free-form query message.
func (b *Builder) Query(query []byte) *Message {
	return &Message{Header: b.header(TypeQuery), Payload: query}
}

// Notification builds a plain notification message.
func (b *Builder) Notification(payload []byte) *Message {
	return &Message{Header: b.header(TypeNotification), Payload: payload}
}
