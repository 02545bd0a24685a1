package validator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type window struct {
	Title    string    `validate:"required,max=10"`
	Start    time.Time `validate:"required"`
	End      time.Time `validate:"required,gtfield=Start"`
	Capacity *int      `validate:"omitempty,positive"`
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ok, zero := 5, 0

	tests := []struct {
		name    string
		in      window
		wantErr string
	}{
		{"Valid", window{Title: "Talk", Start: start, End: start.Add(time.Hour), Capacity: &ok}, ""},
		{"UnlimitedCapacity", window{Title: "Talk", Start: start, End: start.Add(time.Hour)}, ""},
		{"MissingTitle", window{Start: start, End: start.Add(time.Hour)}, ErrFieldRequired},
		{"LongTitle", window{Title: "A very long title", Start: start, End: start.Add(time.Hour)}, ErrFieldExceedsMaxLen},
		{"EndNotAfterStart", window{Title: "Talk", Start: start, End: start}, ErrFieldNotAfter},
		{"ZeroCapacity", window{Title: "Talk", Start: start, End: start.Add(time.Hour), Capacity: &zero}, "Value must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(ctx, tt.in)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
