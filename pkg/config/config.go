package config

import "os"

// Config holds connector process configuration.
type Config struct {
	Port            string
	LogLevel        string
	DatabaseURL     string
	RedisURL        string
	ConnectorID     string
	ModelVersion    string
	PeersDir        string
	DATVerifyKey    string
	OTLPEndpoint    string
	EnableTelemetry bool

	// Artifact store backend: "memory" (default), "s3", or "gcs".
	ArtifactStore    string
	ArtifactBucket   string
	ArtifactRegion   string
	ArtifactEndpoint string
	ArtifactPrefix   string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8282"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to an embedded SQLite file next to the binary
		dbURL = "file:connector.db"
	}

	connectorID := os.Getenv("CONNECTOR_ID")
	if connectorID == "" {
		connectorID = "https://localhost:8282/connector"
	}

	modelVersion := os.Getenv("MODEL_VERSION")
	if modelVersion == "" {
		modelVersion = "4.2.7"
	}

	peersDir := os.Getenv("PEERS_DIR")
	if peersDir == "" {
		peersDir = "peers"
	}

	artifactStore := os.Getenv("ARTIFACT_STORE")
	if artifactStore == "" {
		artifactStore = "memory"
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		DatabaseURL:     dbURL,
		RedisURL:        os.Getenv("REDIS_URL"),
		ConnectorID:     connectorID,
		ModelVersion:    modelVersion,
		PeersDir:        peersDir,
		DATVerifyKey:    os.Getenv("DAT_VERIFY_KEY"),
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
		EnableTelemetry: os.Getenv("ENABLE_TELEMETRY") == "true",

		ArtifactStore:    artifactStore,
		ArtifactBucket:   os.Getenv("ARTIFACT_BUCKET"),
		ArtifactRegion:   os.Getenv("ARTIFACT_REGION"),
		ArtifactEndpoint: os.Getenv("ARTIFACT_ENDPOINT"),
		ArtifactPrefix:   os.Getenv("ARTIFACT_PREFIX"),
	}
}
