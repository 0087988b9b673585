package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/oggyb/muzz-matchmaker/internal/errors"
)

type sample struct {
	UserID   uint64 `json:"user_id" validate:"required"`
	TargetID uint64 `json:"target_id" validate:"required,nefield=UserID"`
	Action   string `json:"action" validate:"oneof=like pass"`
	Limit    int    `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(sample{UserID: 1, TargetID: 2, Action: "like"}))

	err := Struct(sample{TargetID: 2, Action: "poke", Limit: 99})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "user_id is required")
	assert.Contains(t, err.Error(), "action must be one of: like pass")
	assert.Contains(t, err.Error(), "limit must be at most 50")

	err = Struct(sample{UserID: 3, TargetID: 3, Action: "pass"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "target_id must differ from UserID")
}
