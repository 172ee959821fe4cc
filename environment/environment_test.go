package environment

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dbplane/go-dbplane-common/logger"
)

func TestGetWithDefault(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	t.Setenv("TEST_PRESENT", "value")

	assert.Equal(t, "value", GetWithDefault("TEST_PRESENT", "fallback"))
	assert.Equal(t, "fallback", GetWithDefault("TEST_ABSENT", "fallback"))
}

func TestGetIntWithDefault(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_NOT_INT", "forty two")

	assert.Equal(t, 42, GetIntWithDefault("TEST_INT", 7))
	assert.Equal(t, 7, GetIntWithDefault("TEST_NOT_INT", 7))
	assert.Equal(t, 7, GetIntWithDefault("TEST_INT_ABSENT", 7))
}

func TestGetDurationWithDefault(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	t.Setenv("TEST_DURATION", "250ms")
	t.Setenv("TEST_NOT_DURATION", "soon")

	assert.Equal(t, 250*time.Millisecond, GetDurationWithDefault("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, GetDurationWithDefault("TEST_NOT_DURATION", time.Second))
}

func TestGetTruthy(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	t.Setenv("TEST_TRUE", "true")
	t.Setenv("TEST_ONE", "1")
	t.Setenv("TEST_FALSE", "no")

	assert.True(t, GetTruthy("TEST_TRUE"))
	assert.True(t, GetTruthy("TEST_ONE"))
	assert.False(t, GetTruthy("TEST_FALSE"))
	assert.False(t, GetTruthy("TEST_TRUTHY_ABSENT"))
}

func TestReadIndirect(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	filename := filepath.Join(t.TempDir(), "password")
	err := os.WriteFile(filename, []byte("s3cret"), 0o600)
	assert.NoError(t, err)

	t.Setenv("TEST_PASSWORD_FILENAME", filename)

	assert.Equal(t, "s3cret", ReadIndirectOrFatal("TEST_PASSWORD_FILENAME"))
	assert.Equal(t, "s3cret", ReadWithDefault("TEST_PASSWORD_FILENAME", "default"))
	assert.Equal(t, "default", ReadWithDefault("TEST_PASSWORD_ABSENT", "default"))
}
