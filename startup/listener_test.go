package startup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbplane/go-dbplane-common/logger"
)

type stubListener struct {
	name        string
	listenErr   error
	shutdownErr error
	shutdowns   int
}

func (s *stubListener) Listen() error {
	return s.listenErr
}

func (s *stubListener) Shutdown(context.Context) error {
	s.shutdowns++
	return s.shutdownErr
}

func (s *stubListener) String() string {
	return s.name
}

func TestListenersCollectOptions(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	a := &stubListener{name: "a"}
	b := &stubListener{name: "b"}

	l := NewListeners(logger.Sugar, "TestService",
		WithListener(a),
		WithListener(nil),
		WithListeners([]Listener{b, nil}),
	)
	assert.Equal(t, "testservice", l.String())
	assert.Len(t, l.listeners, 2)
}

func TestListenersShutdownAll(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	a := &stubListener{name: "a"}
	b := &stubListener{name: "b", shutdownErr: errors.New("stuck")}

	l := NewListeners(logger.Sugar, "TestService", WithListener(a), WithListener(b))

	err := l.Shutdown()
	require.Error(t, err)
	assert.Equal(t, 1, a.shutdowns)
	assert.Equal(t, 1, b.shutdowns)
}
