package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GATEWAY_SECRET", "whsec")
	t.Setenv("JWT_SECRET", "jwt")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, StoragePostgres, c.Storage)
	assert.Equal(t, 15*time.Minute, c.HoldTTL)
	assert.Equal(t, 10, c.MaxPerOrder)
	assert.Equal(t, 3, c.GatewayMaxAttempts)
	assert.Equal(t, []string{"*"}, c.CORSOrigins)
}

func TestLoadRequiresSecrets(t *testing.T) {
	tests := []struct {
		name    string
		gateway string
		jwt     string
		wantErr string
	}{
		{"empty gateway secret", "", "jwt", "GATEWAY_SECRET"},
		{"blank gateway secret", "   ", "jwt", "GATEWAY_SECRET"},
		{"empty jwt secret", "whsec", "", "JWT_SECRET"},
		{"blank jwt secret", "whsec", " \t", "JWT_SECRET"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv("GATEWAY_SECRET", tc.gateway)
			t.Setenv("JWT_SECRET", tc.jwt)

			_, err := Load()
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		GatewaySecret:      "whsec",
		JWTSecret:          "jwt",
		Storage:            StorageMemory,
		Gateway:            GatewaySandbox,
		HoldTTL:            time.Minute,
		SweepInterval:      time.Second,
		ReconcileInterval:  time.Second,
		GatewayTimeout:     time.Second,
		MaxPerOrder:        10,
		GatewayMaxAttempts: 3,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.Storage = "redis"
	assert.ErrorContains(t, bad.Validate(), "STORAGE")

	bad = base
	bad.Gateway = GatewayOmise
	assert.ErrorContains(t, bad.Validate(), "OMISE_PUBLIC_KEY")

	bad = base
	bad.HoldTTL = 0
	assert.ErrorContains(t, bad.Validate(), "HOLD_TTL")

	bad = base
	bad.GatewaySecret = " "
	assert.ErrorContains(t, bad.Validate(), "GATEWAY_SECRET")

	bad = base
	bad.JWTSecret = ""
	assert.ErrorContains(t, bad.Validate(), "JWT_SECRET")

	bad = base
	bad.MaxPerOrder = 0
	assert.ErrorContains(t, bad.Validate(), "MAX_TICKETS_PER_ORDER")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
