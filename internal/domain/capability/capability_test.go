package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		category Category
		action   Action
		wantErr  bool
	}{
		{"files read", "files:read", CategoryFiles, ActionRead, false},
		{"network fetch", "network:fetch", CategoryNetwork, ActionFetch, false},
		{"shell execute", "shell:execute", CategoryShell, ActionExecute, false},
		{"wildcard action", "files:*", CategoryFiles, "*", false},
		{"trims whitespace", "  env:read  ", CategoryEnv, ActionRead, false},
		{"empty", "", "", "", true},
		{"no separator", "files", "", "", true},
		{"unknown category", "gpu:compute", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := Parse(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCapability)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.category, c.Category())
			assert.Equal(t, tt.action, c.Action())
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { MustParse("not-a-capability") })
	assert.NotPanics(t, func() { MustParse("files:read") })
}

func TestMatches(t *testing.T) {
	t.Parallel()

	assert.True(t, CapFilesRead.Matches(CapFilesRead))
	assert.True(t, MustParse("files:*").Matches(CapFilesWrite))
	assert.True(t, CapFilesWrite.Matches(MustParse("files:*")))
	assert.False(t, CapFilesRead.Matches(CapFilesWrite))
	assert.False(t, CapFilesRead.Matches(CapNetworkFetch))
}

func TestIsDangerous(t *testing.T) {
	t.Parallel()

	assert.True(t, CapShellExecute.IsDangerous())
	assert.True(t, CapSystemModify.IsDangerous())
	assert.True(t, CapEnvWrite.IsDangerous())
	assert.True(t, MustParse("shell:*").IsDangerous())
	assert.False(t, CapFilesRead.IsDangerous())
	assert.False(t, CapNetworkFetch.IsDangerous())
	assert.False(t, CapEnvRead.IsDangerous())
}

func TestIsZero(t *testing.T) {
	t.Parallel()

	assert.True(t, Capability{}.IsZero())
	assert.False(t, CapFilesRead.IsZero())
}

func TestString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "files:read", CapFilesRead.String())
	assert.Equal(t, "shell:execute", CapShellExecute.String())
}
