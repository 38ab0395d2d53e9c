package connection

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		max     time.Duration
		attempt int
		want    time.Duration
	}{
		{"first", time.Second, 30 * time.Second, 0, time.Second},
		{"second", time.Second, 30 * time.Second, 1, 2 * time.Second},
		{"third", time.Second, 30 * time.Second, 2, 4 * time.Second},
		{"capped", time.Second, 30 * time.Second, 10, 30 * time.Second},
		{"cap not power of two", time.Second, 5 * time.Second, 3, 5 * time.Second},
		{"uncapped", time.Second, 0, 4, 16 * time.Second},
		{"zero base", 0, time.Second, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Backoff(tt.base, tt.max, tt.attempt); got != tt.want {
				t.Errorf("Backoff(%v, %v, %d) = %v, want %v", tt.base, tt.max, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestBackoff_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	ms := func(n int64) time.Duration { return time.Duration(n) * time.Millisecond }

	properties.Property("never exceeds max", prop.ForAll(
		func(base, extra int64, attempt int) bool {
			max := ms(base + extra)
			return Backoff(ms(base), max, attempt) <= max
		},
		gen.Int64Range(1, 5000),
		gen.Int64Range(0, 60000),
		gen.IntRange(0, 200),
	))

	properties.Property("non-decreasing in attempt", prop.ForAll(
		func(base, extra int64, attempt int) bool {
			b, max := ms(base), ms(base+extra)
			return Backoff(b, max, attempt) <= Backoff(b, max, attempt+1)
		},
		gen.Int64Range(1, 5000),
		gen.Int64Range(0, 60000),
		gen.IntRange(0, 200),
	))

	properties.Property("first attempt waits base", prop.ForAll(
		func(base, extra int64) bool {
			return Backoff(ms(base), ms(base+extra), 0) == ms(base)
		},
		gen.Int64Range(1, 5000),
		gen.Int64Range(0, 60000),
	))

	properties.Property("doubles until capped", prop.ForAll(
		func(base, extra int64, attempt int) bool {
			b, max := ms(base), ms(base+extra)
			cur, next := Backoff(b, max, attempt), Backoff(b, max, attempt+1)
			return next == max || next == 2*cur
		},
		gen.Int64Range(1, 5000),
		gen.Int64Range(0, 60000),
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}
