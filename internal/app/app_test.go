package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moneyfestation-dev/manifest-wall/internal/config"
)

func writeNodeKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "node.pem")
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(path, block, 0o600))
	return path
}

func writeNodeConfig(t *testing.T, body string) *config.NodeConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.LoadNode(path)
	require.NoError(t, err)
	return cfg
}

func TestBuildNodeInMemory(t *testing.T) {
	keyPath := writeNodeKey(t)
	cfg := writeNodeConfig(t, `
server:
  listen: "127.0.0.1:0"
storage:
  in_memory: true
keys:
  signing_private_key_path: "`+keyPath+`"
`)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	application, err := BuildNode(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	require.Nil(t, application.Relay)
	require.Equal(t, "badger", application.Store.Driver())

	health, err := application.Node.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "manifest-wall-node", health.Service)
}

func TestBuildNodeWithRelay(t *testing.T) {
	keyPath := writeNodeKey(t)
	cfg := writeNodeConfig(t, `
storage:
  in_memory: true
keys:
  signing_private_key_path: "`+keyPath+`"
relay:
  enabled: true
  redis_addr: "127.0.0.1:6379"
  poll_interval_seconds: 5
`)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	application, err := BuildNode(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	require.NotNil(t, application.Relay)
	require.Equal(t, 5*time.Second, application.PollInterval)
}

func TestBuildNodeRejectsMissingKey(t *testing.T) {
	cfg := writeNodeConfig(t, `
storage:
  in_memory: true
keys:
  signing_private_key_path: "/nonexistent/node.pem"
`)
	_, err := BuildNode(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	require.ErrorContains(t, err, "load signing keys")
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StorageConfig{Driver: "sqlite"}, slog.Default())
	require.ErrorContains(t, err, "unknown storage driver")
}
