package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENVIRONMENT", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "workshop-service", cfg.App.Name)
	assert.Equal(t, 15*time.Minute, cfg.Waitlist.ConfirmationWindow)
	assert.Equal(t, 5*time.Second, cfg.Waitlist.NotifyTimeout)
	assert.Equal(t, 60*time.Second, cfg.Waitlist.SweepInterval)
	assert.Equal(t, "all", cfg.Waitlist.BroadcastMode)
	assert.Equal(t, "strict", cfg.Waitlist.InvariantMode)
	assert.Equal(t, time.Hour, cfg.Reminder.Interval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Admin.UserIDs)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_ProductionHealsInvariants(t *testing.T) {
	t.Setenv("APP_ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "heal", cfg.Waitlist.InvariantMode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WAITLIST_CONFIRMATION_WINDOW", "5m")
	t.Setenv("WAITLIST_BROADCAST_MODE", "SEATS")
	t.Setenv("WAITLIST_INVARIANT_MODE", "heal")
	t.Setenv("ADMIN_USER_IDS", "alice, bob,,")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BACKENDS_STORE", "memory")
	t.Setenv("APP_TIMEZONE", "Asia/Yekaterinburg")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Waitlist.ConfirmationWindow)
	assert.Equal(t, "seats", cfg.Waitlist.BroadcastMode)
	assert.Equal(t, "heal", cfg.Waitlist.InvariantMode)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Admin.UserIDs)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "memory", cfg.Backends.Store)
	assert.Equal(t, "Asia/Yekaterinburg", cfg.Location().String())
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad port", "SERVER_PORT", "70000"},
		{"zero window", "WAITLIST_CONFIRMATION_WINDOW", "0s"},
		{"unknown broadcast mode", "WAITLIST_BROADCAST_MODE", "lottery"},
		{"unknown invariant mode", "WAITLIST_INVARIANT_MODE", "ignore"},
		{"unknown store", "BACKENDS_STORE", "mongo"},
		{"unknown lock", "BACKENDS_LOCK", "zookeeper"},
		{"unknown notifier", "BACKENDS_NOTIFIER", "smtp"},
		{"unknown timezone", "APP_TIMEZONE", "Mars/Olympus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
