package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiko-hq/kiko/internal/auth"
	"github.com/kiko-hq/kiko/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestReadConversations(t *testing.T) {
	input := `{"id": 1, "last_message_id": 10, "messages": [{"id": 10, "body": "hi"}]}

{"id": 2, "unknown": true}
`
	convs, err := readConversations(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, int64(1), convs[0].ID)
	assert.Equal(t, int64(10), convs[0].LastMessage())
	assert.Equal(t, int64(2), convs[1].ID)

	_, err = readConversations(strings.NewReader("{\"id\": 1}\n{broken\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

type recordingProcessor struct {
	mu   sync.Mutex
	reqs []model.ProcessEmailRequest
	fail map[int64]bool
}

func (p *recordingProcessor) ProcessEmail(_ context.Context, req model.ProcessEmailRequest) (pipelineOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.fail[req.Conversation.ID] {
		return pipelineOutcome{}, errors.New("stage failed")
	}
	return pipelineOutcome{RunID: req.Conversation.ID * 100}, nil
}

func TestRunReplay(t *testing.T) {
	convs := []model.Conversation{{ID: 1}, {ID: 2}, {ID: 3}}
	p := &recordingProcessor{}

	err := runReplay(context.Background(), quietLogger(), p, convs, model.EnvLabeling, "batch-a", 2)
	require.NoError(t, err)
	require.Len(t, p.reqs, 3)
	for _, req := range p.reqs {
		assert.Equal(t, model.EnvLabeling, req.Env)
		require.NotNil(t, req.BatchName)
		assert.Equal(t, "batch-a", *req.BatchName)
	}
}

func TestRunReplay_ContinuesPastFailures(t *testing.T) {
	convs := []model.Conversation{{ID: 1}, {ID: 2}, {ID: 3}}
	p := &recordingProcessor{fail: map[int64]bool{2: true}}

	err := runReplay(context.Background(), quietLogger(), p, convs, model.EnvLabeling, "b", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 conversations failed")
	assert.Len(t, p.reqs, 3)
}

func TestTokenCmd(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

	cmd := newRootCmd(quietLogger())
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"token", "--key", keyPath, "--subject", "replayer", "--ttl", "1h"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.NewVerifier(pub).Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "replayer", claims.Subject)
	assert.Contains(t, errOut.String(), "expires")
}

func TestTokenCmd_RequiresFlags(t *testing.T) {
	cmd := newRootCmd(quietLogger())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--subject", "x"})
	assert.Error(t, cmd.Execute())
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("WARN").Enabled(ctx, slog.LevelInfo))
}

func TestGenkeyThenToken(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	cmd := newRootCmd(quietLogger())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"genkey", "--dir", dir})
	require.NoError(t, cmd.Execute())

	var out bytes.Buffer
	cmd = newRootCmd(quietLogger())
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--key", filepath.Join(dir, "jwt_private.pem"), "--subject", "ops"})
	require.NoError(t, cmd.Execute())

	verifier, err := auth.LoadVerifier(filepath.Join(dir, "jwt_public.pem"))
	require.NoError(t, err)
	_, err = verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
}
