package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/go-lockstep/v1/coordinator"
	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
	"github.com/mirkobrombin/go-lockstep/v1/simulator"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, coordinator.DefaultConfig(), cfg.Coordinator)
	require.Equal(t, 1, cfg.Pairs)
	require.Equal(t, simulator.DefaultWorkDuration, cfg.WorkDuration)
	require.Empty(t, cfg.RedisAddr)
	require.Empty(t, cfg.KafkaBrokers)
	require.False(t, cfg.Trace)
}

func TestLoadFlags(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load([]string{
		"--pairs", "8",
		"--lock-timeout", "250ms",
		"--max-attempts", "5",
		"--retry-jitter", "20ms",
		"--kafka-brokers", "k1:9092,k2:9092",
		"--trace",
	})
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Pairs)
	require.Equal(t, 250*time.Millisecond, cfg.Coordinator.LockTimeout)
	require.Equal(t, 5, cfg.Coordinator.MaxAttempts)
	require.Equal(t, 20*time.Millisecond, cfg.Coordinator.RetryJitter)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.Trace)
}

func TestLoadEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := "pairs: 3\nretry_delay: 50ms\nredis_addr: file:6379\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lockstep.yaml"), []byte(yaml), 0o600))
	t.Setenv("LOCKSTEP_REDIS_ADDR", "env:6379")

	cfg, err := Load([]string{"--pairs", "4"})
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Pairs, "flags win over the file")
	require.Equal(t, 50*time.Millisecond, cfg.Coordinator.RetryDelay)
	require.Equal(t, "env:6379", cfg.RedisAddr, "env wins over the file")
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load([]string{"--max-attempts", "0"})
	require.True(t, errors.Is(err, lserrors.ErrInvalidConfig), "got %v", err)

	_, err = Load([]string{"--accounts", "1"})
	require.True(t, errors.Is(err, lserrors.ErrInvalidConfig), "got %v", err)
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"--help"})
	require.ErrorIs(t, err, pflag.ErrHelp)
}
