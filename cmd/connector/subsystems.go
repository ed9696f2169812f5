package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/datasphere-labs/connector/pkg/artifacts"
	"github.com/datasphere-labs/connector/pkg/config"
	"github.com/datasphere-labs/connector/pkg/decode"
	"github.com/datasphere-labs/connector/pkg/enforce"
	"github.com/datasphere-labs/connector/pkg/exchange"
	"github.com/datasphere-labs/connector/pkg/identity"
	"github.com/datasphere-labs/connector/pkg/message"
	"github.com/datasphere-labs/connector/pkg/observability"
	"github.com/datasphere-labs/connector/pkg/policy"
	"github.com/datasphere-labs/connector/pkg/store"
	"github.com/datasphere-labs/connector/pkg/transport"
	"github.com/datasphere-labs/connector/pkg/validate"
)

// subsystems bundles everything the daemon and the one-shot client
// commands need, wired once from configuration.
type subsystems struct {
	cfg      *config.Config
	logger   *slog.Logger
	svc      *exchange.Service
	stores   *storeSet
	peers    map[string]*config.PeerProfile
	verifier *identity.TokenVerifier
	obs      *observability.Provider
	shutdown []func(context.Context) error
}

// peerEndpoint resolves a peer reference. A configured peer code maps
// to its profile endpoint and honors the profile's networking policy;
// anything else is taken as a literal endpoint URL.
func (s *subsystems) peerEndpoint(ref string) (string, error) {
	p, ok := s.peers[strings.ToLower(ref)]
	if !ok {
		return ref, nil
	}
	if p.IsBlocked() {
		return "", fmt.Errorf("peer %q: outbound traffic blocked by profile", p.Code)
	}
	return p.Endpoint, nil
}

type storeSet struct {
	rules      store.RuleStore
	agreements store.AgreementStore
	counter    enforce.UsageCounter
	close      func() error
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openStores selects the persistence backend from the database URL:
// postgres:// URLs get the Postgres store, everything else the embedded
// SQLite store. The usage counter rides the same backend unless a Redis
// URL is configured.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storeSet, error) {
	set := &storeSet{close: func() error { return nil }}

	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		pg := store.NewPostgres(db)
		if err := pg.Init(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init postgres schema: %w", err)
		}
		set.rules, set.agreements, set.counter = pg, pg, pg
		set.close = db.Close
		logger.InfoContext(ctx, "using postgres store")
	} else {
		db, err := sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// the embedded driver serializes through one connection
		db.SetMaxOpenConns(1)
		sq, err := store.NewSQLite(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
		set.rules, set.agreements, set.counter = sq, sq, sq
		set.close = db.Close
		logger.InfoContext(ctx, "using sqlite store", "dsn", cfg.DatabaseURL)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		set.counter = enforce.NewRedisCounter(redis.NewClient(opts), "usage:")
		logger.InfoContext(ctx, "using redis usage counter")
	}

	return set, nil
}

// openArtifactStore selects the artifact backend the same way the
// database URL selects the SQL store.
func openArtifactStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (artifacts.Store, error) {
	switch strings.ToLower(cfg.ArtifactStore) {
	case "", "memory":
		return artifacts.NewMemoryStore(), nil
	case "s3":
		if cfg.ArtifactBucket == "" {
			return nil, fmt.Errorf("artifact store s3: ARTIFACT_BUCKET is required")
		}
		logger.InfoContext(ctx, "using s3 artifact store", "bucket", cfg.ArtifactBucket)
		return artifacts.NewS3Store(ctx, artifacts.S3Config{
			Bucket:   cfg.ArtifactBucket,
			Region:   cfg.ArtifactRegion,
			Endpoint: cfg.ArtifactEndpoint,
			Prefix:   cfg.ArtifactPrefix,
		})
	case "gcs":
		if cfg.ArtifactBucket == "" {
			return nil, fmt.Errorf("artifact store gcs: ARTIFACT_BUCKET is required")
		}
		logger.InfoContext(ctx, "using gcs artifact store", "bucket", cfg.ArtifactBucket)
		return artifacts.NewGCSStore(ctx, artifacts.GCSConfig{
			Bucket: cfg.ArtifactBucket,
			Prefix: cfg.ArtifactPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown artifact store %q", cfg.ArtifactStore)
	}
}

// newDATVerifier builds the DAT verifier when a verification key is
// configured; nil means access checks fall back to caller-asserted
// identity (local development only).
func newDATVerifier(cfg *config.Config) *identity.TokenVerifier {
	if cfg.DATVerifyKey == "" {
		return nil
	}
	key := []byte(cfg.DATVerifyKey)
	return identity.NewTokenVerifier(func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return key, nil
	})
}

// resolveRequester turns an access request into an enforcement context.
// With a verifier configured the DAT is mandatory and wins over any
// caller-asserted fields.
func (s *subsystems) resolveRequester(dat, consumer, profile string) (enforce.RequestContext, error) {
	if s.verifier == nil {
		return enforce.RequestContext{
			Consumer: consumer,
			Profile:  policy.Profile(profile),
		}, nil
	}
	if dat == "" {
		return enforce.RequestContext{}, errors.New("access token required")
	}
	id, err := s.verifier.Verify(dat)
	if err != nil {
		return enforce.RequestContext{}, err
	}
	return enforce.RequestContext{Consumer: id.ConnectorID, Profile: id.Profile}, nil
}

// buildSubsystems wires the full exchange stack from configuration.
func buildSubsystems(ctx context.Context, cfg *config.Config) (*subsystems, error) {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "datasphere-connector",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1.0,
		Enabled:      cfg.EnableTelemetry && cfg.OTLPEndpoint != "",
		Insecure:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gate, err := message.NewVersionGate(">=4.0.0 <5.0.0")
	if err != nil {
		return nil, fmt.Errorf("version gate: %w", err)
	}

	peers, err := config.LoadAllPeers(cfg.PeersDir)
	if err != nil {
		return nil, fmt.Errorf("load peer profiles: %w", err)
	}

	client := transport.NewClient(logger)
	for _, p := range peers {
		if p.RateLimit.RequestsPerSecond > 0 {
			client.SetPeerRate(p.Endpoint, p.RateLimit.RequestsPerSecond, p.RateLimit.Burst)
		}
	}
	if len(peers) > 0 {
		logger.InfoContext(ctx, "peer profiles loaded", "count", len(peers))
	}

	blobs, err := openArtifactStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	builder := message.NewBuilder(cfg.ConnectorID, cfg.ConnectorID, cfg.ModelVersion,
		func() string { return os.Getenv("DAT_TOKEN") })

	svc := exchange.NewService(exchange.Deps{
		Transport:  client,
		Decoder:    decode.NewDecoder(gate),
		Chain:      validate.DefaultChain(),
		Engine:     enforce.NewEngine(stores.counter, logger),
		Builder:    builder,
		Rules:      stores.rules,
		Agreements: stores.agreements,
		Blobs:      blobs,
		Self: identity.Static{ID: identity.Identity{
			ConnectorID: cfg.ConnectorID,
			Profile:     policy.ProfileBase,
		}},
		Obs: obs,
	}, logger)

	return &subsystems{
		cfg:      cfg,
		logger:   logger,
		svc:      svc,
		stores:   stores,
		peers:    peers,
		verifier: newDATVerifier(cfg),
		obs:      obs,
		shutdown: []func(context.Context) error{
			func(context.Context) error { return stores.close() },
			obs.Shutdown,
		},
	}, nil
}

func (s *subsystems) Close(ctx context.Context) {
	for _, fn := range s.shutdown {
		if err := fn(ctx); err != nil {
			s.logger.WarnContext(ctx, "shutdown step failed", "error", err)
		}
	}
}
