package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "-", FormatElapsed(0))
	assert.Equal(t, "-", FormatElapsed(-time.Second))
	assert.Equal(t, "500µs", FormatElapsed(500*time.Microsecond))
	assert.Equal(t, "1.234s", FormatElapsed(1234567*time.Microsecond))
	assert.Equal(t, "1m30.4s", FormatElapsed(90*time.Second+456*time.Millisecond))
}
