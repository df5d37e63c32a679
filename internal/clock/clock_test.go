package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), f.Now())

	f.Set(start)
	assert.Equal(t, start, f.Now())
}

func TestOrSystem(t *testing.T) {
	assert.NotNil(t, OrSystem(nil))
	f := NewFake(time.Unix(0, 0))
	assert.Same(t, f, OrSystem(f))
}
