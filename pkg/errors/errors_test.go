package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		code      int
		want      ErrorType
		retryable bool
	}{
		{429, ErrorTypeRateLimit, true},
		{404, ErrorTypeNotFound, false},
		{500, ErrorTypeServerError, true},
		{503, ErrorTypeServerError, true},
		{403, ErrorTypeDownload, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := FromStatus(tt.code, "status")
			assert.Equal(t, tt.want, err.Type)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.retryable, IsRetryable(err.Type))
		})
	}
}

func TestIsTypeFollowsWrappedChain(t *testing.T) {
	inner := New(ErrorTypeFatalSession, "feed did not load")
	outer := Wrap(ErrorTypeNavigation, fmt.Errorf("open: %w", inner), "card %d", 3)

	assert.True(t, IsType(outer, ErrorTypeNavigation))
	assert.True(t, IsFatal(outer))
	assert.False(t, IsType(outer, ErrorTypeDownload))
	assert.False(t, IsFatal(stderrors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(ErrorTypeServerError, stderrors.New("boom"), "fetch %s", "a.jpg")
	err.Code = 502
	assert.Equal(t, "server_error error (code 502): fetch a.jpg: boom", err.Error())
	assert.Equal(t, "parse error: bad label", New(ErrorTypeParse, "bad label").Error())
}
