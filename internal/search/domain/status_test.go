package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "pending", input: "pending", want: StatusPending},
		{name: "queued", input: "queued", want: StatusQueued},
		{name: "completed", input: "completed", want: StatusCompleted},
		{name: "error", input: "error", want: StatusError},
		{name: "timeout", input: "timeout", want: StatusTimeout},
		{name: "unknown value", input: "running", wantErr: true},
		{name: "empty string", input: "", wantErr: true},
		{name: "uppercase is rejected", input: "PENDING", wantErr: true},
		{name: "padded is rejected", input: " pending ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatus(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusQueued.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.True(t, StatusTimeout.Terminal())
}

func TestCanTransition(t *testing.T) {
	allStatuses := []Status{StatusPending, StatusQueued, StatusCompleted, StatusError, StatusTimeout}

	t.Run("allowed transitions", func(t *testing.T) {
		allowed := []struct{ from, to Status }{
			{StatusQueued, StatusPending},
			{StatusPending, StatusCompleted},
			{StatusPending, StatusError},
			{StatusPending, StatusTimeout},
		}
		for _, tr := range allowed {
			assert.True(t, CanTransition(tr.from, tr.to), "%s → %s should be allowed", tr.from, tr.to)
		}
	})

	t.Run("terminal states have no outgoing transitions", func(t *testing.T) {
		for _, from := range []Status{StatusCompleted, StatusError, StatusTimeout} {
			for _, to := range allStatuses {
				assert.False(t, CanTransition(from, to), "%s → %s must be rejected", from, to)
			}
		}
	})

	t.Run("queued cannot jump straight to a terminal state", func(t *testing.T) {
		for _, to := range []Status{StatusCompleted, StatusError, StatusTimeout} {
			assert.False(t, CanTransition(StatusQueued, to), "queued → %s must be rejected", to)
		}
	})

	t.Run("pending cannot regress to queued", func(t *testing.T) {
		assert.False(t, CanTransition(StatusPending, StatusQueued))
	})
}
