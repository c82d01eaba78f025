package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain error", cause, KindUnknown},
		{"configuration", Configuration("op", cause), KindConfiguration},
		{"provider", Provider("op", 503, cause), KindProvider},
		{"environment", Environment("op", cause), KindEnvironment},
		{"processing", Processing("op", "tail", cause), KindProcessing},
		{"integrity", Integrity("op", cause), KindIntegrity},
		{"validation", Validation("op", cause), KindValidation},
		{"wrapped", fmt.Errorf("outer: %w", Environment("op", cause)), KindEnvironment},
		{"context canceled", fmt.Errorf("x: %w", context.Canceled), KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Provider("synth", 500, errors.New("x"))))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", Provider("synth", 429, nil))))
	assert.False(t, IsRetryable(Processing("dsp", "", errors.New("x"))))
	assert.False(t, IsRetryable(Integrity("dsp", errors.New("x"))))
	assert.False(t, IsRetryable(errors.New("x")))
}

func TestError_Message(t *testing.T) {
	err := Provider("synth.token", 401, errors.New("unauthorized"))
	assert.Equal(t, "synth.token: provider (status 401): unauthorized", err.Error())

	err = Processing("dsp.apply", "last line", errors.New("exit status 1"))
	assert.Contains(t, err.Error(), "dsp.apply: processing: exit status 1")
	assert.Contains(t, err.Error(), "last line")
}

func TestError_Unwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := Validation("cache.get", sentinel)
	assert.ErrorIs(t, err, sentinel)
}
