package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesta-pipeline/config"
)

func TestPreviousSunday(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"monday", time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC), "2024-03-10"},
		{"sunday goes back a week", time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC), "2024-03-03"},
		{"saturday", time.Date(2024, 3, 16, 23, 59, 0, 0, time.UTC), "2024-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PreviousSunday(tt.now).Format("2006-01-02"))
		})
	}
}

func TestPreviousMonth(t *testing.T) {
	assert.Equal(t, "2024-02-01", PreviousMonth(time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)).Format("2006-01-02"))
	assert.Equal(t, "2023-12-01", PreviousMonth(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)).Format("2006-01-02"))
}

func TestOpenBackendMemory(t *testing.T) {
	b, err := OpenBackend(&config.Config{StorageBackend: config.BackendMemory})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, config.BackendMemory, b.Name)
	assert.NoError(t, b.Migrate())
	assert.NoError(t, b.Ping(context.Background()))
	assert.Nil(t, b.Wake(), "memory storage has no notifications")
}

func TestOpenBackendUnknown(t *testing.T) {
	_, err := OpenBackend(&config.Config{StorageBackend: "sqlite"})
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(New(&config.Config{}), config.ScheduleConfig{Daily: "not a cron spec"})
	err := s.Start()
	assert.ErrorContains(t, err, "daily_rollup")
}

func TestSchedulerSkipsEmptySpecs(t *testing.T) {
	s := NewScheduler(New(&config.Config{}), config.ScheduleConfig{})
	require.NoError(t, s.Start())
	assert.Empty(t, s.cron.Entries())
	s.Stop()
}
