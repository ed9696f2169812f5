// Package decode turns raw transport responses into structured form: a
// parsed message header plus the payload part, with rejection
// classification exposed so callers can short-circuit before any
// type-specific validation.
package decode

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/datasphere-labs/connector/pkg/message"
)

// Part names every response must carry.
const (
	PartHeader  = "header"
	PartPayload = "payload"
)

// Raw is the unparsed result of a transport send.
type Raw struct {
	ContentType string
	Body        []byte
}

// MalformedResponseError reports a response that lacks required structure.
// It is permanent: the attempt is aborted, never retried.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Reason, e.Err)
	}
	return "malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Decoded is the structured view of a response. Never mutated after
// construction.
type Decoded struct {
	Header  message.Header
	Payload []byte

	parts map[string][]byte
}

// Part returns the raw content of a named multipart section.
func (d *Decoded) Part(name string) ([]byte, bool) {
	b, ok := d.parts[name]
	return b, ok
}

// IsRejection reports whether the peer answered with a rejection message.
func (d *Decoded) IsRejection() bool {
	return message.IsRejection(d.Header.Type)
}

// RejectionReason returns the peer-supplied rejection reason, falling back
// to the payload text when the header carries none.
func (d *Decoded) RejectionReason() string {
	if d.Header.RejectionReason != "" {
		return d.Header.RejectionReason
	}
	return strings.TrimSpace(string(d.Payload))
}

// Decoder parses raw responses. An optional VersionGate refuses peers
// whose declared info-model version this connector cannot interpret.
type Decoder struct {
	gate *message.VersionGate
}

// NewDecoder creates a decoder. gate may be nil to skip version checks.
func NewDecoder(gate *message.VersionGate) *Decoder {
	return &Decoder{gate: gate}
}

// Decode parses a raw multipart response into a Decoded. Responses
// missing the header or payload part fail with *MalformedResponseError.
func (d *Decoder) Decode(raw *Raw) (*Decoded, error) {
	if raw == nil || len(raw.Body) == 0 {
		return nil, &MalformedResponseError{Reason: "empty response"}
	}

	mediaType, params, err := mime.ParseMediaType(raw.ContentType)
	if err != nil {
		return nil, &MalformedResponseError{Reason: "unparsable content type", Err: err}
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("unexpected content type %q", mediaType)}
	}

	parts, err := readParts(raw, params["boundary"])
	if err != nil {
		return nil, err
	}

	headerRaw, ok := parts[PartHeader]
	if !ok {
		return nil, &MalformedResponseError{Reason: "missing header part"}
	}
	payload, ok := parts[PartPayload]
	if !ok {
		return nil, &MalformedResponseError{Reason: "missing payload part"}
	}

	var hdr message.Header
	if err := json.Unmarshal(headerRaw, &hdr); err != nil {
		return nil, &MalformedResponseError{Reason: "unparsable header", Err: err}
	}
	if hdr.Type == "" {
		return nil, &MalformedResponseError{Reason: "header has no message type"}
	}

	if d.gate != nil {
		if err := d.gate.Accept(hdr.ModelVersion); err != nil {
			return nil, &MalformedResponseError{Reason: "peer model version not supported", Err: err}
		}
	}

	return &Decoded{Header: hdr, Payload: payload, parts: parts}, nil
}

func readParts(raw *Raw, boundary string) (map[string][]byte, error) {
	if boundary == "" {
		return nil, &MalformedResponseError{Reason: "multipart response without boundary"}
	}

	parts := make(map[string][]byte)
	mr := multipart.NewReader(strings.NewReader(string(raw.Body)), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &MalformedResponseError{Reason: "broken multipart body", Err: err}
		}
		content, err := io.ReadAll(part)
		if err != nil {
			return nil, &MalformedResponseError{Reason: "unreadable multipart section", Err: err}
		}
		if name := part.FormName(); name != "" {
			parts[name] = content
		}
	}
	return parts, nil
}
