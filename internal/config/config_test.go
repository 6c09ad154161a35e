package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o600))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)

	c, err := Load("missing", t.TempDir())
	req.NoError(err)

	req.Equal("8080", c.HTTPServer.Port)
	req.Equal("matchmaking-queue", c.Broker.Queue)
	req.Equal(time.Second, c.Matchmaking.PulseInterval)
	req.Equal(500*time.Millisecond, c.Matchmaking.ResultDelay)
	req.Equal(24*time.Hour, c.JWT.TokenDuration)
	req.False(c.Database.Enabled())
	req.Empty(c.Kafka.Brokers)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	req := require.New(t)
	dir := writeConfig(t, "api-gateway", `
http_server:
  port: "9000"
redis:
  addr: "redis:6379"
  db: 2
matchmaking:
  pulse_interval: "250ms"
jwt:
  secret_key: "from-file"
database:
  host: "db"
  user: "nexus"
  password: "pw"
  db_name: "clash"
`)
	t.Setenv("JWT_SECRET_KEY", "from-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := Load("api-gateway", dir)
	req.NoError(err)

	req.Equal("9000", c.HTTPServer.Port)
	req.Equal("redis:6379", c.Redis.Addr)
	req.Equal(2, c.Redis.DB)
	req.Equal(250*time.Millisecond, c.Matchmaking.PulseInterval)
	req.Equal("from-env", c.JWT.SecretKey)
	req.Equal([]string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)

	req.True(c.Database.Enabled())
	req.Equal("host=db port=5432 user=nexus password=pw dbname=clash sslmode=disable", c.Database.ConnString())
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := writeConfig(t, "broken", "redis: [unterminated")

	_, err := Load("broken", dir)
	require.Error(t, err)
}
