package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zviper "github.com/lk2023060901/pairchat-go/pkg/util/viper"
)

func loadServiceConfig(t *testing.T, yaml string) (*ServiceConfig, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg := zviper.New()
	require.NoError(t, cfg.LoadFile(path))

	app := New()
	app.cfg = cfg
	return app.ServiceConfig()
}

func TestServiceConfigLoad(t *testing.T) {
	cfg, err := loadServiceConfig(t, `
server:
  addr: ":8080"
auth:
  secret: super-secret
  leeway: 30s
redis:
  addr: localhost:6379
  db: 3
moderation:
  base-url: http://moderation:9000
  threshold: 0.8
cluster:
  enabled: true
  endpoints: ["localhost:2379"]
  meta-root: pairchat-test
`)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "super-secret", cfg.Auth.Secret)
	assert.Equal(t, 30*time.Second, cfg.Auth.Leeway)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Moderation.Enabled())
	assert.Equal(t, 0.8, cfg.Moderation.Threshold)
	assert.True(t, cfg.Cluster.Enabled)
	assert.Equal(t, "pairchat-test", cfg.Cluster.MetaRoot)
}

func TestServiceConfigDefaults(t *testing.T) {
	cfg, err := loadServiceConfig(t, `
server:
  addr: ":8080"
auth:
  secret: super-secret
`)
	require.NoError(t, err)

	assert.Equal(t, "chatnode", cfg.Cluster.Role)
	assert.Equal(t, ":8080", cfg.Cluster.AdvertiseAddr)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Moderation.Enabled())
	assert.False(t, cfg.Cluster.Enabled)
}

func TestServiceConfigValidate(t *testing.T) {
	_, err := loadServiceConfig(t, `
server:
  addr: ":8080"
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret")

	_, err = loadServiceConfig(t, `
auth:
  secret: super-secret
cluster:
  enabled: true
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster.endpoints")

	app := New()
	_, err = app.ServiceConfig()
	require.Error(t, err)
}
