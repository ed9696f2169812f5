package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func testBuilder() *Builder {
	return NewBuilder("https://consumer.example/connector", "https://consumer.example", "4.2.7",
		func() string { return "tok" }).WithClock(fixedClock)
}

func TestBuilderStampsHeader(t *testing.T) {
	msg := testBuilder().ContractRequest([]byte(`{"offer":true}`))

	assert.Equal(t, TypeContractRequest, msg.Header.Type)
	assert.NotEmpty(t, msg.Header.ID)
	assert.Equal(t, "4.2.7", msg.Header.ModelVersion)
	assert.Equal(t, fixedClock(), msg.Header.Issued)
	assert.Equal(t, "https://consumer.example/connector", msg.Header.IssuerConnector)
	assert.Equal(t, "tok", msg.Header.SecurityToken)
	assert.Equal(t, []byte(`{"offer":true}`), msg.Payload)
}

func TestBuilderUniqueMessageIDs(t *testing.T) {
	b := testBuilder()
	first := b.Notification(nil)
	second := b.Notification(nil)
	assert.NotEqual(t, first.Header.ID, second.Header.ID)
}

func TestArtifactRequestBindsTransferContract(t *testing.T) {
	msg := testBuilder().ArtifactRequest("artifact:1", "agreement:remote-9")
	assert.Equal(t, "artifact:1", msg.Header.RequestedArtifact)
	assert.Equal(t, "agreement:remote-9", msg.Header.TransferContract)
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(TypeRejection))
	assert.True(t, IsRejection(TypeContractRejection))
	assert.False(t, IsRejection(TypeDescriptionResponse))
	assert.False(t, IsRejection(Type("")))
}

func TestVersionGate(t *testing.T) {
	gate, err := NewVersionGate(">= 4.0.0, < 5.0.0")
	require.NoError(t, err)

	assert.NoError(t, gate.Accept("4.2.7"))
	assert.Error(t, gate.Accept("3.1.0"))
	assert.Error(t, gate.Accept("5.0.0"))
	assert.Error(t, gate.Accept("not-a-version"))
}

func TestVersionGateBadConstraint(t *testing.T) {
	_, err := NewVersionGate(">>nope")
	assert.Error(t, err)
}
