package message

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// VersionGate checks a peer's declared info-model version against the
// range this connector supports. Peers outside the range cannot be
// interpreted reliably, so their responses are refused at decode time.
type VersionGate struct {
	constraint *semver.Constraints
}

// NewVersionGate compiles a semver constraint range, e.g. ">= 4.0.0, < 5.0.0".
func NewVersionGate(constraint string) (*VersionGate, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("message: invalid version constraint %q: %w", constraint, err)
	}
	return &VersionGate{constraint: c}, nil
}

// Accept returns nil if the peer's declared model version is supported.
func (g *VersionGate) Accept(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("message: unparsable model version %q: %w", version, err)
	}
	if !g.constraint.Check(v) {
		return fmt.Errorf("message: model version %s outside supported range", version)
	}
	return nil
}
