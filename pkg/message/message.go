// Package message defines the protocol messages exchanged between
// connectors: a typed header plus an opaque payload. The message-type tag
// registry, including the rejection tag set, lives here so that decoding
// and validation never hard-code wire strings.
package message

import (
	"time"
)

// Type is the message-type tag carried in a message header.
type Type string

// Request message types.
const (
	TypeContractRequest    Type = "ids:ContractRequestMessage"
	TypeContractAgreement  Type = "ids:ContractAgreementMessage"
	TypeArtifactRequest    Type = "ids:ArtifactRequestMessage"
	TypeDescriptionRequest Type = "ids:DescriptionRequestMessage"
	TypeQuery              Type = "ids:QueryMessage"
	TypeNotification       Type = "ids:NotificationMessage"
)

// Response message types.
const (
	TypeContractResponse      Type = "ids:ContractResponseMessage"
	TypeDescriptionResponse   Type = "ids:DescriptionResponseMessage"
	TypeArtifactResponse      Type = "ids:ArtifactResponseMessage"
	TypeResultMessage         Type = "ids:ResultMessage"
	TypeProcessedNotification Type = "ids:MessageProcessedNotificationMessage"
)

// Rejection message types. A response whose header carries one of these
// tags is a peer-issued rejection regardless of its payload.
const (
	TypeRejection         Type = "ids:RejectionMessage"
	TypeContractRejection Type = "ids:ContractRejectionMessage"
)

var rejectionTypes = map[Type]bool{
	TypeRejection:         true,
	TypeContractRejection: true,
}

// IsRejection reports whether t belongs to the rejection tag set.
func IsRejection(t Type) bool {
	return rejectionTypes[t]
}

// Header carries message metadata. Immutable once the message is sent.
type Header struct {
	Type              Type      `json:"@type"`
	ID                string    `json:"@id"`
	ModelVersion      string    `json:"modelVersion"`
	Issued            time.Time `json:"issued"`
	IssuerConnector   string    `json:"issuerConnector"`
	SenderAgent       string    `json:"senderAgent,omitempty"`
	CorrelationID     string    `json:"correlationMessage,omitempty"`
	SecurityToken     string    `json:"securityToken,omitempty"`
	RejectionReason   string    `json:"rejectionReason,omitempty"`
	TransferContract  string    `json:"transferContract,omitempty"`
	RequestedArtifact string    `json:"requestedArtifact,omitempty"`
	RequestedElement  string    `json:"requestedElement,omitempty"`
}

// Message is a protocol message: header metadata plus an opaque payload.
type Message struct {
	Header  Header
	Payload []byte
}
