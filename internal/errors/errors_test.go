package errors_test

import (
	"context"
	"fmt"
	"testing"

	"codeberg.org/mutker/posturectl/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrInvalidVideoFile)
	assert.Equal(t, "Please select a valid video file", err.Error())

	wrapped := errFactory.Wrap(errors.ErrTimeout, context.DeadlineExceeded)
	assert.Equal(t, "Request timed out: context deadline exceeded", wrapped.Error())
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)

	custom := errFactory.WithMessage(errors.ErrUploadRejected, "HTTP 500")
	assert.Equal(t, "HTTP 500", custom.Error())
}

func TestCategoryOf(t *testing.T) {
	errFactory := errors.New()

	tests := []struct {
		name string
		err  error
		want errors.Category
	}{
		{"nil", nil, errors.CategoryNone},
		{"validation", errFactory.New(errors.ErrNoFileSelected), errors.CategoryValidation},
		{"connectivity", errFactory.New(errors.ErrBackendUnreachable), errors.CategoryConnectivity},
		{"permission", errFactory.New(errors.ErrCameraPermission), errors.CategoryPermission},
		{"streaming", errFactory.New(errors.ErrStreamFailed), errors.CategoryStreaming},
		{"persistence", errFactory.New(errors.ErrPersistFailed), errors.CategoryPersistence},
		{"wrapped by fmt", fmt.Errorf("upload: %w", errFactory.New(errors.ErrTimeout)), errors.CategoryConnectivity},
		{"plain error", fmt.Errorf("boom"), errors.CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.CategoryOf(tt.err))
		})
	}
}

func TestHasCode(t *testing.T) {
	errFactory := errors.New()
	inner := errFactory.New(errors.ErrTimeout)
	outer := errFactory.Wrap(errors.ErrFetchFailed, inner)

	assert.True(t, errors.HasCode(outer, errors.ErrFetchFailed))
	assert.True(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(outer, errors.ErrStreamFailed))
	assert.Equal(t, errors.ErrFetchFailed, errors.CodeOf(outer))
}
