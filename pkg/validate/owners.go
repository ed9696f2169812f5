package validate

import (
	"github.com/datasphere-labs/connector/pkg/decode"
	"github.com/datasphere-labs/connector/pkg/message"
)

// tagOwner is the default RequestOwner: it accepts a response iff its
// message type exactly matches the one expected for the request kind.
// Loose matches are never accepted; ambiguity resolves to failure.
type tagOwner struct {
	kind     RequestKind
	expected message.Type
}

func (o tagOwner) Kind() RequestKind { return o.kind }

func (o tagOwner) ExpectsResponse(d *decode.Decoded) bool {
	return d.Header.Type == o.expected
}

// DefaultOwners returns the canonical owners for every request kind the
// connector issues.
func DefaultOwners() []RequestOwner {
	return []RequestOwner{
		tagOwner{KindContractRequest, message.TypeContractResponse},
		tagOwner{KindContractAgreement, message.TypeProcessedNotification},
		tagOwner{KindArtifactRequest, message.TypeArtifactResponse},
		tagOwner{KindDescriptionRequest, message.TypeDescriptionResponse},
		tagOwner{KindQuery, message.TypeResultMessage},
		tagOwner{KindNotification, message.TypeProcessedNotification},
	}
}

// DefaultChain is a chain over DefaultOwners.
func DefaultChain() *Chain {
	return NewChain(DefaultOwners()...)
}
