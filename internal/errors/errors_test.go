package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *GateError
		want string
	}{
		{
			name: "without cause",
			err:  New(Validation, "signature mismatch", nil),
			want: "[VALIDATION_ERROR] signature mismatch",
		},
		{
			name: "with cause",
			err:  New(Timeout, "git log timed out", fmt.Errorf("deadline exceeded")),
			want: "[TIMEOUT] git log timed out: deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestHasCode(t *testing.T) {
	inner := NewRecoverableProviderError("rate limited", nil)
	wrapped := fmt.Errorf("fetch files: %w", inner)

	assert.True(t, HasCode(wrapped, RecoverableProvider))
	assert.False(t, HasCode(wrapped, Configuration))
	assert.False(t, HasCode(fmt.Errorf("plain"), RecoverableProvider))
	assert.False(t, HasCode(nil, RecoverableProvider))

	nested := NewJobExecutionError("handler failed", NewParseError("bad file", nil))
	assert.True(t, HasCode(nested, ParseFailure))
	assert.Equal(t, JobExecution, CodeOf(nested))
}

func TestUnwrapAndDetails(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := New(InternalError, "persist", cause).WithDetails(map[string]string{"path": "a.js"}).WithHint("free space")

	require.True(t, Is(err, cause))
	assert.Equal(t, "free space", err.Hint)
	assert.NotNil(t, err.Details)

	var ge *GateError
	require.True(t, As(fmt.Errorf("wrap: %w", err), &ge))
	assert.Equal(t, InternalError, ge.Code)
}
