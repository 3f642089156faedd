package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"authentication", Authentication(CodeInvalidToken, "bad token"), KindAuthentication},
		{"not found", NotFound(CodeRoomNotFound, "Room not found."), KindNotFound},
		{"conflict", Conflict(CodeRoomAlreadyExists, "exists"), KindConflict},
		{"validation", Validation("bad"), KindValidation},
		{"wrapped conflict", fmt.Errorf("create room: %w", Conflict(CodeRoomAlreadyExists, "exists")), KindConflict},
		{"plain error", errors.New("disk on fire"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound(CodeRoomNotFound, "Room not found."))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, NotFound(CodeRoomNotFound, "")))
	assert.False(t, errors.Is(err, NotFound(CodeUserNotFound, "")))
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestToResponse(t *testing.T) {
	t.Run("classified error keeps code and message", func(t *testing.T) {
		status, body := ToResponse(Conflict(CodeUserAlreadyExists, "User already exists."))
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, CodeUserAlreadyExists, body.Detail.Error)
		assert.Equal(t, "User already exists.", body.Detail.Message)
	})

	t.Run("internal error hides cause", func(t *testing.T) {
		status, body := ToResponse(Internal(errors.New("sql: secret table broken")))
		require.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, CodeInternalServerError, body.Detail.Error)
		assert.Equal(t, InternalMessage, body.Detail.Message)
	})

	t.Run("unclassified error collapses to internal", func(t *testing.T) {
		status, body := ToResponse(errors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, InternalMessage, body.Detail.Message)
	})
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindAuthentication))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(KindValidation))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}
