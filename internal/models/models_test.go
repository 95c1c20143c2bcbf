package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusConfirmed.Valid())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, Status("pendiente").Valid())
	assert.False(t, Status("").Valid())

	assert.False(t, StatusPending.Moderatable())
	assert.True(t, StatusConfirmed.Moderatable())
	assert.True(t, StatusCancelled.Moderatable())
	assert.False(t, Status("completed").Moderatable())
}

func TestNormalizeClock(t *testing.T) {
	cases := map[string]string{
		"09:00":    "09:00",
		"9:05":     "09:05",
		" 17:30 ":  "17:30",
		"08:00:00": "08:00",
	}
	for in, want := range cases {
		got, err := NormalizeClock(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "24:00", "9", "ab:cd", "10:7", "10:60"} {
		_, err := NormalizeClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestSchedulePolicyContains(t *testing.T) {
	policy := SchedulePolicy{OpenTime: "08:00", CloseTime: "17:00"}

	t.Run("Inclusive", func(t *testing.T) {
		assert.True(t, policy.Contains("08:00"))
		assert.True(t, policy.Contains("17:00"))
		assert.True(t, policy.Contains("9:00"))
	})

	t.Run("Outside", func(t *testing.T) {
		assert.False(t, policy.Contains("07:59"))
		assert.False(t, policy.Contains("17:01"))
	})

	t.Run("Garbage", func(t *testing.T) {
		assert.False(t, policy.Contains("noon"))
		broken := SchedulePolicy{OpenTime: "x", CloseTime: "17:00"}
		assert.False(t, broken.Contains("09:00"))
	})
}
