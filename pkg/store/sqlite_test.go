package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasphere-labs/connector/pkg/contracts"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLite(db)
	require.NoError(t, err)
	return s
}

func TestSQLiteRuleRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rule := &contracts.Rule{
		ID:         "rule:1",
		RemoteID:   "remote:9",
		Definition: []byte(`{"@type":"ids:Permission","action":"USE"}`),
		Status:     contracts.RuleActive,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveRule(ctx, rule))

	got, err := s.LoadRule(ctx, "rule:1")
	require.NoError(t, err)
	assert.Equal(t, rule.ID, got.ID)
	assert.Equal(t, rule.RemoteID, got.RemoteID)
	assert.Equal(t, rule.Definition, got.Definition)
	assert.Equal(t, contracts.RuleActive, got.Status)
}

func TestSQLiteSupersededRuleHidden(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRule(ctx, &contracts.Rule{
		ID: "rule:1", Definition: []byte("{}"), Status: contracts.RuleActive,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.SupersedeRule(ctx, "rule:1"))

	_, err := s.LoadRule(ctx, "rule:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteSupersedeMissingRule(t *testing.T) {
	s := newTestSQLite(t)
	assert.ErrorIs(t, s.SupersedeRule(context.Background(), "absent"), ErrNotFound)
}

func TestSQLiteAgreementConfirmExactlyOnce(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := &contracts.Agreement{
		ID:        "agreement:1",
		RemoteID:  "remote:1",
		RuleText:  []byte("terms"),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveAgreement(ctx, a))

	require.NoError(t, s.ConfirmAgreement(ctx, "agreement:1"))
	assert.ErrorIs(t, s.ConfirmAgreement(ctx, "agreement:1"), ErrAlreadyConfirmed)

	got, err := s.GetAgreement(ctx, "agreement:1")
	require.NoError(t, err)
	assert.True(t, got.Confirmed)
}

func TestSQLiteConfirmMissingAgreement(t *testing.T) {
	s := newTestSQLite(t)
	assert.ErrorIs(t, s.ConfirmAgreement(context.Background(), "absent"), ErrNotFound)
}

func TestSQLiteUsageCounter(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, granted, err := s.CheckAndIncrement(ctx, "rule:1", 3)
		require.NoError(t, err)
		assert.True(t, granted)
		assert.Equal(t, i, n)
	}

	n, granted, err := s.CheckAndIncrement(ctx, "rule:1", 3)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, int64(3), n)

	// A different rule has its own counter.
	_, granted, err = s.CheckAndIncrement(ctx, "rule:2", 3)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestMemoryStoreParity(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rule := &contracts.Rule{ID: "rule:1", Definition: []byte("{}"), Status: contracts.RuleActive}
	require.NoError(t, m.SaveRule(ctx, rule))

	got, err := m.LoadRule(ctx, "rule:1")
	require.NoError(t, err)
	assert.Equal(t, rule.ID, got.ID)

	require.NoError(t, m.SupersedeRule(ctx, "rule:1"))
	_, err = m.LoadRule(ctx, "rule:1")
	assert.ErrorIs(t, err, ErrNotFound)

	a := &contracts.Agreement{ID: "agreement:1", RemoteID: "remote:1"}
	require.NoError(t, m.SaveAgreement(ctx, a))
	require.NoError(t, m.ConfirmAgreement(ctx, "agreement:1"))
	assert.ErrorIs(t, m.ConfirmAgreement(ctx, "agreement:1"), ErrAlreadyConfirmed)

	got2, err := m.GetAgreement(ctx, "agreement:1")
	require.NoError(t, err)
	assert.True(t, got2.Confirmed)
}
