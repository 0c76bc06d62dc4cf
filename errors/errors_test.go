package errors

import (
	// Go Internal Packages
	goerrors "errors"
	"fmt"
	"testing"

	// External Packages
	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("store: %w", NotFoundErr("tx1"))

	assert.True(t, Is(NotFound, err))
	assert.False(t, Is(Conflict, err))
	assert.Equal(t, "store: transaction tx1", err.Error())
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := goerrors.New("boom")
	err := E(Unavailable, "ledger rpc", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ledger rpc: boom", err.Error())
	assert.Equal(t, Other, KindOf(cause))
}

func TestValidationErrs(t *testing.T) {
	ve := ValidationErrs()
	assert.NoError(t, ve.Err())

	ve.Add("mongo.uri", "cannot be empty")
	ve.Add("application", "cannot be empty")
	err := ve.Err()

	assert.True(t, Is(Invalid, err))
	assert.Equal(t, "application cannot be empty; mongo.uri cannot be empty", err.Error())
}
