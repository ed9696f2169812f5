// Package exchange drives the connector's message exchanges with remote
// peers: contract negotiation, artifact transfer, and metadata lookup.
// Every exchange runs the same machine — build request, send, decode,
// validate, enforce policy, persist — and fails closed at each step.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/datasphere-labs/connector/pkg/artifacts"
	"github.com/datasphere-labs/connector/pkg/contracts"
	"github.com/datasphere-labs/connector/pkg/decode"
	"github.com/datasphere-labs/connector/pkg/enforce"
	"github.com/datasphere-labs/connector/pkg/identity"
	"github.com/datasphere-labs/connector/pkg/message"
	"github.com/datasphere-labs/connector/pkg/observability"
	"github.com/datasphere-labs/connector/pkg/policy"
	"github.com/datasphere-labs/connector/pkg/store"
	"github.com/datasphere-labs/connector/pkg/validate"
)

// Transport delivers a request message to a peer endpoint and returns
// the raw response. Implementations report delivery failures as
// *transport.Error so callers can classify them as retryable.
type Transport interface {
	Send(ctx context.Context, msg *message.Message, endpoint string) (*decode.Raw, error)
}

// Service composes the exchange collaborators into the connector's
// outward-facing operations. All dependencies are injected; the service
// holds no hidden globals.
type Service struct {
	transport  Transport
	decoder    *decode.Decoder
	chain      *validate.Chain
	engine     *enforce.Engine
	builder    *message.Builder
	rules      store.RuleStore
	agreements store.AgreementStore
	blobs      artifacts.Store
	self       identity.Provider
	obs        *observability.Provider
	logger     *slog.Logger
	clock      func() time.Time
}

// Deps carries the collaborators a Service is built from. Transport,
// Decoder, Chain, Engine, Builder, Agreements and Self are required;
// Rules, Blobs and Obs are optional.
type Deps struct {
	Transport  Transport
	Decoder    *decode.Decoder
	Chain      *validate.Chain
	Engine     *enforce.Engine
	Builder    *message.Builder
	Rules      store.RuleStore
	Agreements store.AgreementStore
	Blobs      artifacts.Store
	Self       identity.Provider
	Obs        *observability.Provider
}

// NewService creates the exchange service.
func NewService(deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		transport:  deps.Transport,
		decoder:    deps.Decoder,
		chain:      deps.Chain,
		engine:     deps.Engine,
		builder:    deps.Builder,
		rules:      deps.Rules,
		agreements: deps.Agreements,
		blobs:      deps.Blobs,
		self:       deps.Self,
		obs:        deps.Obs,
		logger:     logger.With("component", "exchange"),
		clock:      time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// roundTrip sends one request, decodes the response and validates it
// against the expectations of the given request kind. It returns the
// accepted payload. A peer rejection or shape mismatch surfaces as the
// validate package's typed error.
func (s *Service) roundTrip(ctx context.Context, att *Attempt, kind validate.RequestKind, msg *message.Message, peer string) (*decode.Decoded, []byte, error) {
	raw, err := s.transport.Send(ctx, msg, peer)
	att.advance(StateRequestSent)
	if err != nil {
		return nil, nil, err
	}

	d, err := s.decoder.Decode(raw)
	if err != nil {
		return nil, nil, err
	}

	outcome, err := s.chain.Validate(kind, d)
	if err != nil {
		return nil, nil, err
	}
	if err := outcome.Err(); err != nil {
		return nil, nil, err
	}
	att.advance(StateResponseValid)

	return d, outcome.Payload(), nil
}

// Negotiate runs a contract negotiation against the peer: it offers the
// contract template, validates the peer's counter-offer, confirms it
// with a contract agreement message, and persists the agreement. On any
// failure nothing is persisted and a *NegotiationError is returned.
func (s *Service) Negotiate(ctx context.Context, template []byte, peer string) (*contracts.Agreement, error) {
	ctx, done := s.obs.TrackExchange(ctx, "connector.negotiate", peer)
	att := newAttempt("negotiation", s.clock())

	ag, err := s.negotiate(ctx, att, template, peer)
	if err != nil {
		att.fail(err)
		s.logger.WarnContext(ctx, "negotiation failed",
			"attempt", att.ID, "peer", peer, "state", att.State, "error", err)
		nerr := &NegotiationError{Peer: peer, Err: err}
		done(nerr)
		return nil, nerr
	}

	att.advance(StateCompleted)
	s.logger.InfoContext(ctx, "negotiation completed",
		"attempt", att.ID, "peer", peer, "agreement", ag.ID)
	done(nil)
	return ag, nil
}

func (s *Service) negotiate(ctx context.Context, att *Attempt, template []byte, peer string) (*contracts.Agreement, error) {
	offer, payload, err := s.roundTrip(ctx, att, validate.KindContractRequest, s.builder.ContractRequest(template), peer)
	if err != nil {
		return nil, err
	}

	remoteID := remoteAgreementID(payload)
	if remoteID == "" {
		remoteID = offer.Header.ID
	}

	// The peer's offer stands; acknowledge it with an agreement message
	// correlated to the offer.
	ack := s.builder.ContractAgreement(payload, offer.Header.ID)
	if _, _, err := s.roundTrip(ctx, att, validate.KindContractAgreement, ack, peer); err != nil {
		return nil, err
	}

	now := s.clock()
	ag := &contracts.Agreement{
		ID:        "agreement:" + uuid.NewString(),
		RemoteID:  remoteID,
		RuleText:  payload,
		Confirmed: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Single write. A failed attempt must leave no record behind, so
	// the agreement lands already confirmed instead of being saved
	// unconfirmed and flipped in a second statement.
	if err := s.agreements.SaveAgreement(ctx, ag); err != nil {
		return nil, fmt.Errorf("persist agreement: %w", err)
	}
	return ag, nil
}

// RequestArtifact retrieves artifact bytes from the peer under a
// confirmed agreement. The agreement's usage policy is enforced before
// the bytes are released to the caller; a denial is a
// *PolicyRestrictionError, any other failure a *TransferError.
func (s *Service) RequestArtifact(ctx context.Context, artifactID string, agreement *contracts.Agreement, peer string) ([]byte, error) {
	ctx, done := s.obs.TrackExchange(ctx, "connector.request_artifact", peer)
	att := newAttempt("artifact transfer", s.clock())

	payload, err := s.requestArtifact(ctx, att, artifactID, agreement, peer)
	if err != nil {
		att.fail(err)
		s.logger.WarnContext(ctx, "artifact transfer failed",
			"attempt", att.ID, "peer", peer, "artifact", artifactID,
			"state", att.State, "error", err)
		var restricted *PolicyRestrictionError
		if !errors.As(err, &restricted) {
			err = &TransferError{Peer: peer, Err: err}
		}
		done(err)
		return nil, err
	}

	att.advance(StateCompleted)
	s.logger.InfoContext(ctx, "artifact transfer completed",
		"attempt", att.ID, "peer", peer, "artifact", artifactID, "bytes", len(payload))
	done(nil)
	return payload, nil
}

func (s *Service) requestArtifact(ctx context.Context, att *Attempt, artifactID string, agreement *contracts.Agreement, peer string) ([]byte, error) {
	if agreement == nil || !agreement.Confirmed {
		return nil, fmt.Errorf("artifact %s: no confirmed agreement", artifactID)
	}

	msg := s.builder.ArtifactRequest(artifactID, agreement.RemoteID)
	_, payload, err := s.roundTrip(ctx, att, validate.KindArtifactRequest, msg, peer)
	if err != nil {
		return nil, err
	}

	self, err := s.self.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	rule := &contracts.Rule{
		ID:         agreement.ID,
		Definition: agreement.RuleText,
		Status:     contracts.RuleActive,
		CreatedAt:  agreement.CreatedAt,
	}
	decision, err := s.engine.Decide(ctx, rule, enforce.RequestContext{
		Consumer: self.ConnectorID,
		Profile:  self.Profile,
		Now:      s.clock(),
	})
	if err != nil {
		return nil, fmt.Errorf("enforce policy: %w", err)
	}
	if !decision.Allow {
		return nil, &PolicyRestrictionError{Reason: decision.Reason}
	}
	att.advance(StatePolicyChecked)

	if s.blobs != nil {
		key := artifacts.Key(agreement.ID, artifactID)
		if _, err := s.blobs.Put(ctx, key, payload); err != nil {
			return nil, fmt.Errorf("persist artifact: %w", err)
		}
	}
	return payload, nil
}

// RequestDescription fetches the peer's self-description, or the
// description of one of its offered elements when element is non-empty.
func (s *Service) RequestDescription(ctx context.Context, element, peer string) ([]byte, error) {
	ctx, done := s.obs.TrackExchange(ctx, "connector.request_description", peer)
	att := newAttempt("description request", s.clock())

	_, payload, err := s.roundTrip(ctx, att, validate.KindDescriptionRequest, s.builder.DescriptionRequest(element), peer)
	if err != nil {
		att.fail(err)
		terr := &TransferError{Peer: peer, Err: err}
		done(terr)
		return nil, terr
	}
	att.advance(StateCompleted)
	done(nil)
	return payload, nil
}

// Query runs a catalog query against the peer and returns the result
// payload.
func (s *Service) Query(ctx context.Context, query []byte, peer string) ([]byte, error) {
	ctx, done := s.obs.TrackExchange(ctx, "connector.query", peer)
	att := newAttempt("query", s.clock())

	_, payload, err := s.roundTrip(ctx, att, validate.KindQuery, s.builder.Query(query), peer)
	if err != nil {
		att.fail(err)
		terr := &TransferError{Peer: peer, Err: err}
		done(terr)
		return nil, terr
	}
	att.advance(StateCompleted)
	done(nil)
	return payload, nil
}

// Notify delivers a notification to the peer. The peer's processed
// acknowledgement is validated but its payload is discarded.
func (s *Service) Notify(ctx context.Context, payload []byte, peer string) error {
	ctx, done := s.obs.TrackExchange(ctx, "connector.notify", peer)
	att := newAttempt("notification", s.clock())

	_, _, err := s.roundTrip(ctx, att, validate.KindNotification, s.builder.Notification(payload), peer)
	if err != nil {
		att.fail(err)
		terr := &TransferError{Peer: peer, Err: err}
		done(terr)
		return terr
	}
	att.advance(StateCompleted)
	done(nil)
	return nil
}

// CheckAccess evaluates the active rule with the given id against a
// request context. A missing rule denies with NO_POLICY; the decision
// fails closed on store errors as well, with the error returned
// alongside.
func (s *Service) CheckAccess(ctx context.Context, ruleID string, req enforce.RequestContext) (policy.Decision, error) {
	if s.rules == nil {
		return policy.Denied(policy.ReasonNoPolicy), nil
	}
	rule, err := s.rules.LoadRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return policy.Denied(policy.ReasonNoPolicy), nil
		}
		return policy.Denied(policy.ReasonNoPolicy), fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	return s.engine.Decide(ctx, rule, req)
}

// remoteAgreementID pulls the peer's identifier out of a contract
// payload. Empty when the payload carries none.
func remoteAgreementID(payload []byte) string {
	var doc struct {
		ID string `json:"@id"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ""
	}
	return doc.ID
}
