package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "room.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Room.MinParticipants)
	assert.Equal(t, 15*time.Second, cfg.Room.HeartbeatInterval)
	assert.Equal(t, 2, cfg.Room.MissedHeartbeats)
	assert.InDelta(t, 0.1, cfg.Scoring.Coefficient, 1e-9)
	require.Len(t, cfg.Badges, 3)
	assert.Equal(t, "focus master", cfg.Badges[0].Name)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
room:
  min_participants: 3
  heartbeat_interval: 10s
  empty_grace: 1m
scoring:
  coefficient: 0.2
badges:
  - name: gold
    min_score: 50
`)
	t.Setenv("ROOM_MIN_PARTICIPANTS", "4")
	t.Setenv("DATABASE_URL", "file::memory:")
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Room.MinParticipants)
	assert.Equal(t, 10*time.Second, cfg.Room.HeartbeatInterval)
	assert.Equal(t, time.Minute, cfg.Room.EmptyGrace)
	assert.InDelta(t, 0.2, cfg.Scoring.Coefficient, 1e-9)
	assert.Equal(t, []BadgeConfig{{Name: "gold", MinScore: 50}}, cfg.Badges)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	// untouched keys keep their defaults
	assert.Equal(t, 12, cfg.Room.MaxParticipants)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"zero coefficient":  "scoring:\n  coefficient: 0\n",
		"max below min":     "room:\n  max_participants: 1\n",
		"bad confidence":    "scoring:\n  min_confidence: 2\n",
		"unknown db driver": "database:\n  driver: mysql\n  dsn: x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
