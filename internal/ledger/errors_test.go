package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindOK},
		{"wrapped not found", fmt.Errorf("%w: ride 3", ErrNotFound), KindNotFound},
		{"capacity", fmt.Errorf("approve: %w", ErrCapacityExceeded), KindCapacityExceeded},
		{"validation struct", invalid("total_seats", "must be between %d and %d", 1, 7), KindValidation},
		{"duplicate", ErrDuplicateBooking, KindDuplicateBooking},
		{"store failure", errors.New("connection refused"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := invalid("notes", "must be at most %d characters", 500)
	assert.EqualError(t, err, "notes: must be at most 500 characters")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, IsExpected(err))
	assert.False(t, IsExpected(errors.New("disk full")))
}
