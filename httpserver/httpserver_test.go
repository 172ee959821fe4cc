package httpserver

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbplane/go-dbplane-common/logger"
)

func TestNewServer(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	s := New(logger.Sugar, "Metrics", "9090", h)

	assert.Equal(t, "metrics:9090", s.String())
	assert.Equal(t, ":9090", s.Addr)

	// Shutdown before Listen is harmless.
	require.NoError(t, s.Shutdown(context.TODO()))
}
