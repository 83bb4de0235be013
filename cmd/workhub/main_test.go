package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lirancohen/workhub/internal/config"
	"github.com/lirancohen/workhub/internal/db"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.Writer = &out
	root.ErrWriter = &out
	err := root.Run(context.Background(), append([]string{"workhub"}, args...))
	return out.String(), err
}

func withDataDir(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("WORKHUB_DATA_DIR", t.TempDir())
	t.Setenv("WORKHUB_MASTER_KEY", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "workhub "+version+"\n", out)
}

func TestUserAndToken(t *testing.T) {
	withDataDir(t)

	out, err := run(t, "user", "add", "--email", "root@example.com", "--admin")
	require.NoError(t, err)
	userID := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(userID, "user-"))

	_, err = run(t, "user", "add", "--email", "root@example.com")
	assert.ErrorContains(t, err, "already exists")

	for _, ref := range []string{userID, "root@example.com"} {
		out, err = run(t, "token", "--user", ref)
		require.NoError(t, err)
		assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)
	}

	_, err = run(t, "token", "--user", "nobody@example.com")
	assert.ErrorContains(t, err, "no user")
}

func TestIdPConfig(t *testing.T) {
	cfg := withDataDir(t)

	_, err := run(t, "idp-config")
	assert.ErrorContains(t, err, "enable SSO")

	st, err := openStore(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.sso.SetEnabled(ctx, true))
	_, err = st.sso.CreateConnector(ctx, &db.SSOConnector{
		ID: "github", Type: "github", Name: "GitHub", Enabled: true,
		Config: map[string]any{"clientID": "abc", "clientSecret": "shh"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := run(t, "idp-config")
	require.NoError(t, err)
	assert.Contains(t, out, "issuer: http://127.0.0.1:8080/dex")
	assert.Contains(t, out, "id: github")
	assert.Contains(t, out, "- http://127.0.0.1:8080/api/v1/auth/sso/callback")

	again, err := run(t, "idp-config")
	require.NoError(t, err)
	assert.Equal(t, out, again, "client secret and output are stable")
}
