package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Wrapped(t *testing.T) {
	base := NewAlreadyTransferredError("conversation already transferred", "c-1")
	wrapped := fmt.Errorf("submit: %w", base)

	got := GetAppError(wrapped)
	assert.Same(t, base, got)
	assert.True(t, IsType(wrapped, ErrorTypeAlreadyTransferred))
	assert.False(t, IsType(wrapped, ErrorTypeNotFound))
	assert.Equal(t, http.StatusBadRequest, got.Code)
	assert.Equal(t, "already_transferred: conversation already transferred (c-1)", got.Error())
}

func TestAppError_Codes(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, NewNotFoundError("x").Code)
	assert.Equal(t, http.StatusConflict, NewConflictError("x").Code)
	assert.Equal(t, http.StatusBadRequest, NewValidationError("x").Code)
	assert.Equal(t, http.StatusBadRequest, NewConversationClosedError("x").Code)
	assert.Equal(t, http.StatusBadRequest, NewBadRequestError("x").Code)
	assert.True(t, IsType(NewBadRequestError("x"), ErrorTypeBadRequest))
	assert.Equal(t, http.StatusInternalServerError, NewInternalError("x").Code)
	assert.Equal(t, "not_found: x", NewNotFoundError("x").Error())
}

func TestGetAppError_Plain(t *testing.T) {
	assert.Nil(t, GetAppError(errors.New("boom")))
	assert.False(t, IsType(nil, ErrorTypeInternal))
}
