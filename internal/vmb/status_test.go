package vmb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Table(t *testing.T) {
	t.Run("Property_1_ClosedSetIsExhaustive", func(t *testing.T) {
		for code := Status(-1); code >= -41; code-- {
			if code == -38 {
				assert.False(t, code.Known(), "-38 is not part of the set")
				continue
			}
			assert.True(t, code.Known(), "status %d missing from table", int32(code))
			assert.NotEqual(t, unknownStatus.message, code.Message())
		}
	})

	t.Run("Property_2_UnknownFallback", func(t *testing.T) {
		for _, code := range []Status{-38, -42, -1000} {
			assert.Equal(t, "Unknown error.", code.Message())
			assert.False(t, code.Known())
		}
	})

	t.Run("Property_3_CustomRange", func(t *testing.T) {
		for _, code := range []Status{1, 2, 1 << 20} {
			assert.Equal(t, "Custom", code.Kind())
			assert.True(t, code.Known())
		}
	})

	t.Run("Property_4_SuccessIsNil", func(t *testing.T) {
		assert.NoError(t, StatusSuccess.Err("CaptureStart"))
	})
}

func TestError_Matching(t *testing.T) {
	err := StatusBusy.Err("CaptureStart")
	require.Error(t, err)

	wrapped := fmt.Errorf("session: start: %w", err)
	assert.True(t, errors.Is(wrapped, StatusBusy))
	assert.False(t, errors.Is(wrapped, StatusTimeout))
	assert.Equal(t, StatusBusy, StatusOf(wrapped))
	assert.Equal(t, StatusSuccess, StatusOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "CaptureStart")
	assert.Contains(t, err.Error(), "Busy")
}

func TestNewCallbackError(t *testing.T) {
	cause := errors.New("handler exploded")
	err := NewCallbackError("OnFrameComplete", cause)

	assert.True(t, errors.Is(err, ErrUserCallback))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "UserCallbackException", StatusOf(err).Kind())
}

func TestTolerable(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusAlready, true},
		{StatusNotFound, true},
		{StatusApiNotStarted, true},
		{StatusBusy, false},
		{StatusBadHandle, false},
	}
	for _, tt := range tests {
		t.Run(tt.status.Kind(), func(t *testing.T) {
			assert.Equal(t, tt.want, Tolerable(tt.status.Err("FrameRevokeAll")))
		})
	}
	assert.False(t, Tolerable(ErrInvalidHandle))
}
