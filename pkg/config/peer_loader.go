package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PeerProfile describes a known remote connector: where to reach it,
// what to trust it with, and how hard to push it.
type PeerProfile struct {
	Name            string          `yaml:"name" json:"name"`
	Code            string          `yaml:"code" json:"code"`
	Endpoint        string          `yaml:"endpoint" json:"endpoint"`
	SecurityProfile string          `yaml:"security_profile" json:"security_profile"`
	ModelVersions   string          `yaml:"model_versions,omitempty" json:"model_versions,omitempty"`
	Networking      PeerNetworking  `yaml:"networking" json:"networking"`
	RateLimit       PeerRateLimit   `yaml:"rate_limit" json:"rate_limit"`
	Artifacts       []PeerArtifact  `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
}

// PeerNetworking controls outbound networking policy toward the peer.
type PeerNetworking struct {
	OutboundMode string   `yaml:"outbound_mode" json:"outbound_mode"` // "allowlist" | "denylist" | "blocked"
	Allowlist    []string `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
	Denylist     []string `yaml:"denylist,omitempty" json:"denylist,omitempty"`
	Blocked      bool     `yaml:"blocked" json:"blocked"` // if true, never contact this peer
}

// PeerRateLimit bounds the request rate toward the peer.
type PeerRateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// PeerArtifact is a catalog entry the peer is known to offer.
type PeerArtifact struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
}

// LoadPeer loads a peer profile YAML by code. It searches the peers
// directory for peer_<code>.yaml.
func LoadPeer(peersDir, code string) (*PeerProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(peersDir, fmt.Sprintf("peer_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load peer %q: %w", code, err)
	}

	var profile PeerProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse peer %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllPeers loads all peer_*.yaml files from the peers directory.
func LoadAllPeers(peersDir string) (map[string]*PeerProfile, error) {
	matches, err := filepath.Glob(filepath.Join(peersDir, "peer_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*PeerProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile PeerProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: peer_acme.yaml -> acme
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "peer_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// IsBlocked reports whether outbound traffic to the peer is disallowed
// entirely.
func (p *PeerProfile) IsBlocked() bool {
	return p.Networking.Blocked || p.Networking.OutboundMode == "blocked"
}

// IsAllowed checks whether a hostname is permitted by the peer's
// networking policy.
func (p *PeerProfile) IsAllowed(hostname string) bool {
	if p.IsBlocked() {
		return false
	}

	switch p.Networking.OutboundMode {
	case "allowlist":
		for _, h := range p.Networking.Allowlist {
			if h == hostname {
				return true
			}
		}
		return false
	case "denylist":
		for _, h := range p.Networking.Denylist {
			if h == hostname {
				return false
			}
		}
		return true
	default:
		return true
	}
}
