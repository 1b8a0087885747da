package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainError(t *testing.T) {
	assert.Nil(t, ToDomainError(nil))

	wrapped := fmt.Errorf("load: %w", NewForbidden("nope"))
	assert.Equal(t, "FORBIDDEN", ToDomainError(wrapped).Code)

	assert.Equal(t, http.StatusNotFound, ToDomainError(pgx.ErrNoRows).HTTPStatus)

	routeErr := ToDomainError(fiber.ErrMethodNotAllowed)
	assert.Equal(t, "METHOD_NOT_ALLOWED", routeErr.Code)
	assert.Equal(t, http.StatusMethodNotAllowed, routeErr.HTTPStatus)

	assert.Equal(t, http.StatusOK, StatusOf(nil))
	assert.Equal(t, http.StatusForbidden, StatusOf(wrapped))

	internal := ToDomainError(errors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", internal.Code)
	assert.EqualError(t, internal, "internal server error: boom")
}

func TestFromValidation(t *testing.T) {
	type payload struct {
		Query  string `validate:"max=3"`
		SortBy string `validate:"required"`
	}
	err := validator.New().Struct(payload{Query: "long"})
	require.Error(t, err)

	de := ToDomainError(FromValidation(err))

	assert.Equal(t, "VALIDATION_FAILED", de.Code)
	assert.Equal(t, "max=3", de.Details["query"])
	assert.Equal(t, "required", de.Details["sortBy"])
}

func TestNewUpstreamUnavailable(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewUpstreamUnavailable("ticket backend unavailable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadGateway, ToDomainError(err).HTTPStatus)
}
