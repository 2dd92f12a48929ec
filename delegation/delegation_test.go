package delegation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/delegation"
	"github.com/fleetcode/orchestrator/orcherr"
)

func validBuilder() delegation.Builder {
	return delegation.Builder{
		ID:                   "plan-1:0",
		Objective:            "list public functions in module x",
		Scope:                []string{"module/x"},
		RequiredCapabilities: []string{"code-review"},
		Bounds: delegation.Bounds{
			MaxToolCalls:   5,
			Timeout:        30 * time.Second,
			MaxOutputBytes: 1024,
		},
		Priority: 1,
	}
}

func TestBuildValid(t *testing.T) {
	d, err := validBuilder().Build()
	require.NoError(t, err)
	require.Equal(t, "plan-1:0", d.ID())
	require.NotEmpty(t, d.Canonical())
}

func TestBuildRejectsEmptyObjective(t *testing.T) {
	b := validBuilder()
	b.Objective = ""
	_, err := b.Build()
	require.Error(t, err)
	var oe *orcherr.Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, orcherr.KindInvalidDelegation, oe.Kind)
}

func TestBuildRejectsNonPositiveBounds(t *testing.T) {
	b := validBuilder()
	b.Bounds.MaxToolCalls = 0
	_, err := b.Build()
	require.Error(t, err)
}

func TestBuildRequiresScopeUnlessAllowed(t *testing.T) {
	b := validBuilder()
	b.Scope = nil
	_, err := b.Build()
	require.Error(t, err)

	b.AllowEmptyScope = true
	d, err := b.Build()
	require.NoError(t, err)
	require.Empty(t, d.Scope())
}

func TestBuildCollapsesDuplicateScope(t *testing.T) {
	b := validBuilder()
	b.Scope = []string{"module/x", "module/x", "module/y"}
	d, err := b.Build()
	require.NoError(t, err)
	require.Equal(t, []string{"module/x", "module/y"}, d.Scope())
}

func TestBuildRejectsUnknownCapability(t *testing.T) {
	b := validBuilder()
	b.KnownCapabilities = map[string]bool{"testing": true}
	_, err := b.Build()
	require.Error(t, err)
}

func TestCanonicalIsDeterministic(t *testing.T) {
	d1, err := validBuilder().Build()
	require.NoError(t, err)
	d2, err := validBuilder().Build()
	require.NoError(t, err)
	require.Equal(t, d1.Canonical(), d2.Canonical())
}

func TestCanonicalChangesWithContent(t *testing.T) {
	d1, err := validBuilder().Build()
	require.NoError(t, err)

	b2 := validBuilder()
	b2.Priority = 2
	d2, err := b2.Build()
	require.NoError(t, err)

	require.NotEqual(t, d1.Canonical(), d2.Canonical())
}

func TestFromCanonicalRoundTrips(t *testing.T) {
	want, err := validBuilder().Build()
	require.NoError(t, err)

	got, err := delegation.FromCanonical(want.Canonical())
	require.NoError(t, err)
	require.Equal(t, want.ID(), got.ID())
	require.Equal(t, want.Objective(), got.Objective())
	require.Equal(t, want.Scope(), got.Scope())
	require.Equal(t, want.RequiredCapabilities(), got.RequiredCapabilities())
	require.Equal(t, want.Bounds(), got.Bounds())
	require.Equal(t, want.Priority(), got.Priority())
	require.Equal(t, want.Retry(), got.Retry())
	require.Equal(t, want.Canonical(), got.Canonical(), "re-encoding the rebuilt delegation must reproduce the original wire bytes")
}

func TestFromCanonicalRejectsInvalidPayload(t *testing.T) {
	_, err := delegation.FromCanonical([]byte(`{"id":"","objective":""}`))
	require.Error(t, err)
}
