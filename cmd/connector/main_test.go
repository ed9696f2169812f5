package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasphere-labs/connector/pkg/artifacts"
	"github.com/datasphere-labs/connector/pkg/config"
	"github.com/datasphere-labs/connector/pkg/contracts"
	"github.com/datasphere-labs/connector/pkg/decode"
	"github.com/datasphere-labs/connector/pkg/enforce"
	"github.com/datasphere-labs/connector/pkg/exchange"
	"github.com/datasphere-labs/connector/pkg/identity"
	"github.com/datasphere-labs/connector/pkg/message"
	"github.com/datasphere-labs/connector/pkg/policy"
	"github.com/datasphere-labs/connector/pkg/store"
	"github.com/datasphere-labs/connector/pkg/transport"
	"github.com/datasphere-labs/connector/pkg/validate"
)

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"connector", "help"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "USAGE")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"connector", "frobnicate"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Unknown command")
}

func testSubsystems(t *testing.T) *subsystems {
	t.Helper()
	logger := slog.Default()
	mem := store.NewMemory()

	svc := exchange.NewService(exchange.Deps{
		Transport:  transport.NewClient(logger),
		Decoder:    decode.NewDecoder(nil),
		Chain:      validate.DefaultChain(),
		Engine:     enforce.NewEngine(enforce.NewMemoryCounter(), logger),
		Builder:    message.NewBuilder("https://self.example/connector", "https://self.example", "4.2.7", func() string { return "" }),
		Rules:      mem,
		Agreements: mem,
		Blobs:      artifacts.NewMemoryStore(),
		Self:       identity.Static{ID: identity.Identity{ConnectorID: "https://self.example/connector"}},
	}, logger)

	return &subsystems{
		logger: logger,
		svc:    svc,
		stores: &storeSet{rules: mem, agreements: mem, counter: enforce.NewMemoryCounter(), close: func() error { return nil }},
	}
}

func TestAdminHealth(t *testing.T) {
	srv := httptest.NewServer(newAdminMux(testSubsystems(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminAccessCheck(t *testing.T) {
	sys := testSubsystems(t)
	require.NoError(t, sys.stores.rules.SaveRule(context.Background(), &contracts.Rule{
		ID:         "rule:open",
		Definition: []byte(`{"@type":"ids:Permission","action":"USE"}`),
		Status:     contracts.RuleActive,
		CreatedAt:  time.Now(),
	}))

	srv := httptest.NewServer(newAdminMux(sys))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/access", "application/json",
		strings.NewReader(`{"ruleId":"rule:open","consumer":"https://peer.example"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision policy.Decision
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	assert.True(t, decision.Allow)

	// unknown rule denies closed
	resp2, err := http.Post(srv.URL+"/access", "application/json",
		strings.NewReader(`{"ruleId":"rule:absent"}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var denied policy.Decision
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&denied))
	assert.False(t, denied.Allow)
	assert.Equal(t, policy.ReasonNoPolicy, denied.Reason)
}

func TestPeerEndpointResolution(t *testing.T) {
	sys := testSubsystems(t)
	sys.peers = map[string]*config.PeerProfile{
		"acme": {
			Code:     "acme",
			Endpoint: "https://acme.example/infrastructure",
		},
		"umbrella": {
			Code:       "umbrella",
			Endpoint:   "https://umbrella.example/infrastructure",
			Networking: config.PeerNetworking{Blocked: true},
		},
	}

	// a configured code resolves to the profile endpoint
	endpoint, err := sys.peerEndpoint("ACME")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example/infrastructure", endpoint)

	// a blocked profile refuses outbound traffic
	_, err = sys.peerEndpoint("umbrella")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")

	// anything else passes through as a literal endpoint
	endpoint, err = sys.peerEndpoint("https://other.example/infrastructure")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/infrastructure", endpoint)
}

func TestAdminNegotiationBlockedPeer(t *testing.T) {
	sys := testSubsystems(t)
	sys.peers = map[string]*config.PeerProfile{
		"umbrella": {
			Code:       "umbrella",
			Endpoint:   "https://umbrella.example/infrastructure",
			Networking: config.PeerNetworking{Blocked: true},
		},
	}
	srv := httptest.NewServer(newAdminMux(sys))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/negotiations", "application/json",
		strings.NewReader(`{"template":{},"peer":"umbrella"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOpenArtifactStoreSelection(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	blobs, err := openArtifactStore(ctx, &config.Config{ArtifactStore: "memory"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &artifacts.MemoryStore{}, blobs)

	// empty selection defaults to memory
	blobs, err = openArtifactStore(ctx, &config.Config{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &artifacts.MemoryStore{}, blobs)

	// cloud backends refuse to start without a bucket
	_, err = openArtifactStore(ctx, &config.Config{ArtifactStore: "s3"}, logger)
	assert.Error(t, err)
	_, err = openArtifactStore(ctx, &config.Config{ArtifactStore: "gcs"}, logger)
	assert.Error(t, err)

	_, err = openArtifactStore(ctx, &config.Config{ArtifactStore: "tape"}, logger)
	assert.Error(t, err)
}

var testDATKey = []byte("admin-test-key")

func signedDAT(t *testing.T, connector, profile string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.DATClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://daps.example",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ReferringConnector: connector,
		SecurityProfile:    profile,
	})
	signed, err := token.SignedString(testDATKey)
	require.NoError(t, err)
	return signed
}

func TestAdminAccessVerifiesDAT(t *testing.T) {
	sys := testSubsystems(t)
	sys.verifier = newDATVerifier(&config.Config{DATVerifyKey: string(testDATKey)})

	// rule permits exactly one connector; only a verified DAT can
	// satisfy it, caller-asserted fields are ignored
	require.NoError(t, sys.stores.rules.SaveRule(context.Background(), &contracts.Rule{
		ID: "rule:restricted",
		Definition: []byte(`{"@type":"ids:Permission","action":"USE","constraint":[
			{"leftOperand":"CONNECTOR","operator":"IN","rightOperand":["https://trusted.example/connector"]}]}`),
		Status:    contracts.RuleActive,
		CreatedAt: time.Now(),
	}))

	srv := httptest.NewServer(newAdminMux(sys))
	defer srv.Close()

	dat := signedDAT(t, "https://trusted.example/connector", "idsc:TRUST_SECURITY_PROFILE")
	body := `{"ruleId":"rule:restricted","dat":"` + dat + `","consumer":"https://attacker.example"}`
	resp, err := http.Post(srv.URL+"/access", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision policy.Decision
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	assert.True(t, decision.Allow)
}

func TestAdminAccessRejectsMissingOrBadDAT(t *testing.T) {
	sys := testSubsystems(t)
	sys.verifier = newDATVerifier(&config.Config{DATVerifyKey: string(testDATKey)})
	srv := httptest.NewServer(newAdminMux(sys))
	defer srv.Close()

	// caller-asserted identity alone is not enough once a verifier is
	// configured
	resp, err := http.Post(srv.URL+"/access", "application/json",
		strings.NewReader(`{"ruleId":"rule:any","consumer":"https://peer.example"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/access", "application/json",
		strings.NewReader(`{"ruleId":"rule:any","dat":"not-a-token"}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestAdminAgreementNotFound(t *testing.T) {
	srv := httptest.NewServer(newAdminMux(testSubsystems(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/agreements/agreement:missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
