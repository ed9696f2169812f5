package validate

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasphere-labs/connector/pkg/decode"
	"github.com/datasphere-labs/connector/pkg/message"
)

func decoded(t *testing.T, hdr message.Header, payload string) *decode.Decoded {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	headerBytes, err := json.Marshal(hdr)
	require.NoError(t, err)
	field, err := w.CreateFormField(decode.PartHeader)
	require.NoError(t, err)
	_, err = field.Write(headerBytes)
	require.NoError(t, err)
	field, err = w.CreateFormField(decode.PartPayload)
	require.NoError(t, err)
	_, err = field.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	d, err := decode.NewDecoder(nil).Decode(&decode.Raw{
		ContentType: w.FormDataContentType(),
		Body:        buf.Bytes(),
	})
	require.NoError(t, err)
	return d
}

func TestAcceptsExpectedResponseKind(t *testing.T) {
	d := decoded(t, message.Header{Type: message.TypeDescriptionResponse}, `{"catalog":[]}`)

	outcome, err := DefaultChain().Validate(KindDescriptionRequest, d)
	require.NoError(t, err)
	assert.True(t, outcome.OK())
	assert.Equal(t, []byte(`{"catalog":[]}`), outcome.Payload())
	assert.NoError(t, outcome.Err())
}

func TestWrongShapeIsInvalidResponse(t *testing.T) {
	// A notification where a description was expected.
	d := decoded(t, message.Header{Type: message.TypeProcessedNotification}, "noted")

	outcome, err := DefaultChain().Validate(KindDescriptionRequest, d)
	require.NoError(t, err)
	require.False(t, outcome.OK())
	assert.Equal(t, []byte("noted"), outcome.Content())

	var invalid *InvalidResponseError
	require.ErrorAs(t, outcome.Err(), &invalid)
	assert.Equal(t, KindDescriptionRequest, invalid.Kind)
	assert.Equal(t, string(message.TypeProcessedNotification), invalid.Got)
}

func TestRejectionShortCircuitsArtifactValidator(t *testing.T) {
	// Rejection-tagged header with a payload that would match no shape:
	// the validator must not inspect it.
	d := decoded(t, message.Header{
		Type:            message.TypeRejection,
		RejectionReason: "NOT_AUTHORIZED",
	}, "whatever")

	outcome, err := DefaultChain().Validate(KindArtifactRequest, d)
	require.NoError(t, err)
	require.False(t, outcome.OK())

	var rejected *MessageResponseError
	require.ErrorAs(t, outcome.Err(), &rejected)
	assert.Equal(t, "NOT_AUTHORIZED", rejected.Reason)
	assert.Equal(t, []byte("whatever"), rejected.Content)
}

func TestContractRejectionShortCircuits(t *testing.T) {
	d := decoded(t, message.Header{Type: message.TypeContractRejection}, "terms refused")

	outcome, err := DefaultChain().Validate(KindContractRequest, d)
	require.NoError(t, err)

	var rejected *MessageResponseError
	require.ErrorAs(t, outcome.Err(), &rejected)
	assert.Equal(t, "terms refused", rejected.Reason)
}

func TestUnknownKindIsChainMisuse(t *testing.T) {
	d := decoded(t, message.Header{Type: message.TypeResultMessage}, "{}")
	_, err := DefaultChain().Validate(RequestKind("unknown"), d)
	assert.Error(t, err)
}

// relaxedOwner accepts any non-rejection response; used to show the owner
// indirection carries the shape decision.
type relaxedOwner struct{ kind RequestKind }

func (o relaxedOwner) Kind() RequestKind                      { return o.kind }
func (o relaxedOwner) ExpectsResponse(d *decode.Decoded) bool { return true }

func TestOwnerIndirectionDecidesShape(t *testing.T) {
	chain := NewChain(relaxedOwner{KindQuery})
	d := decoded(t, message.Header{Type: message.TypeNotification}, "anything")

	outcome, err := chain.Validate(KindQuery, d)
	require.NoError(t, err)
	assert.True(t, outcome.OK())
}

func TestOwnerIndirectionStillShortCircuitsRejections(t *testing.T) {
	chain := NewChain(relaxedOwner{KindQuery})
	d := decoded(t, message.Header{Type: message.TypeRejection, RejectionReason: "TEMPORARILY_NOT_AVAILABLE"}, "")

	outcome, err := chain.Validate(KindQuery, d)
	require.NoError(t, err)

	var rejected *MessageResponseError
	require.ErrorAs(t, outcome.Err(), &rejected)
	assert.Equal(t, "TEMPORARILY_NOT_AVAILABLE", rejected.Reason)
}
