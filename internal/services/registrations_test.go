package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestVenmoLinks(t *testing.T) {
	app, web := VenmoLinks("mike-h", 1500, "Tuesday Skate 3/4")
	assert.Equal(t, "venmo://paycharge?txn=pay&recipients=mike-h&amount=15.00&note=Tuesday%20Skate%203%2F4", app)
	assert.Equal(t, "https://venmo.com/mike-h?txn=pay&amount=15.00&note=Tuesday%20Skate%203%2F4", web)

	app, _ = VenmoLinks("rink", 5, "ice")
	assert.Contains(t, app, "amount=0.05")
}

func TestIsPermutation(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	want := []uuid.UUID{a, b, c}

	tests := []struct {
		name string
		got  []uuid.UUID
		ok   bool
	}{
		{"same order", []uuid.UUID{a, b, c}, true},
		{"reordered", []uuid.UUID{c, a, b}, true},
		{"missing one", []uuid.UUID{a, b}, false},
		{"extra one", []uuid.UUID{a, b, c, uuid.New()}, false},
		{"duplicate", []uuid.UUID{a, a, b}, false},
		{"stranger", []uuid.UUID{a, b, uuid.New()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, isPermutation(tt.got, want))
		})
	}
}
