package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/agentrelay/internal/auth"
	"github.com/ashita-ai/agentrelay/internal/model"
)

func TestKeygenThenMint(t *testing.T) {
	dir := t.TempDir()

	var out bytes.Buffer
	require.NoError(t, run([]string{"keygen", "--dir", dir}, &out))
	assert.Contains(t, out.String(), "RELAY_JWT_PRIVATE_KEY="+filepath.Join(dir, privateKeyFile))

	out.Reset()
	require.NoError(t, run([]string{"mint", "--dir", dir, "--sub", "boss-1", "--role", "boss", "--ttl", "1h"}, &out))
	token := strings.TrimSpace(out.String())
	require.NotEmpty(t, token)

	mgr, err := auth.NewJWTManager(filepath.Join(dir, privateKeyFile), filepath.Join(dir, publicKeyFile), time.Hour)
	require.NoError(t, err)
	p, err := mgr.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "boss-1", p.ID)
	assert.Equal(t, model.RoleBoss, p.Role)
	assert.Equal(t, model.AuthToken, p.AuthMethod)
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, run([]string{"keygen", "--dir", dir}, &out))

	err := run([]string{"keygen", "--dir", dir}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestMintValidation(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, run([]string{"keygen", "--dir", dir}, &out))

	err := run([]string{"mint", "--dir", dir}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--sub is required")

	err = run([]string{"mint", "--dir", dir, "--sub", "x", "--role", "admin"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of")
}

func TestMintWithoutKeys(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"mint", "--dir", t.TempDir(), "--sub", "x"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read private key")
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"frobnicate"}, &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "usage: relaytoken")
}
