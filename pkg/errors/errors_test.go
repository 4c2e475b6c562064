package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrFeeLocked, "fee locked for Alice")
	assert.True(t, errors.Is(err, ErrFeeLocked))
	assert.False(t, errors.Is(err, ErrExceedsTotal))
	assert.Equal(t, "fee locked for Alice", err.Message)
	assert.Equal(t, ErrFeeLocked.Message, "annual fee already edited this academic year")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindBusinessRule, KindOf(ErrExceedsTotal))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("wrapped: %w", ErrAlreadyPaid)))
	assert.Equal(t, KindNotFound, KindOf(ErrNotFound))
	assert.Equal(t, KindValidation, KindOf(ErrValidation))
	assert.Equal(t, KindExternal, KindOf(ErrReceiptFailed))
	assert.Equal(t, KindInternal, KindOf(sql.ErrConnDone))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	e := FromError(sql.ErrConnDone)
	assert.Equal(t, ErrInternal.Code, e.Code)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
	assert.True(t, errors.Is(e, sql.ErrConnDone))

	wrapped := fmt.Errorf("ctx: %w", ErrConflict)
	assert.Same(t, ErrConflict, FromError(wrapped))
}

func TestWithDetails(t *testing.T) {
	err := WithDetails(ErrMissingFees, map[string]interface{}{"missing": []string{"2nd"}})
	assert.Equal(t, []string{"2nd"}, err.Details["missing"])
	assert.Nil(t, ErrMissingFees.Details)
}
