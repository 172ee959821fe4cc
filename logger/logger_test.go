package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewNoop(t *testing.T) {
	New("NOOP")
	defer OnExit()

	assert.NotNil(t, Plain)
	assert.NotNil(t, Sugar)
	assert.False(t, Sugar.Check(DebugLevel))
}

func TestRecordedLogs(t *testing.T) {
	New("TEST")
	defer OnExit()

	Sugar.Infof("hello %s", "world")

	assert.NotNil(t, Recorded)
	entries := Recorded.All()
	assert.GreaterOrEqual(t, len(entries), 1)
	found := false
	for _, e := range entries {
		if e.Message == "hello world" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestWithIndexLowercasesValue(t *testing.T) {
	New("TEST")
	defer OnExit()

	log := Sugar.WithIndex("component", "CacheClient")
	log.Infof("indexed")

	entries := Recorded.All()
	assert.GreaterOrEqual(t, len(entries), 1)
	last := entries[len(entries)-1]
	ctx := last.ContextMap()
	assert.Equal(t, "cacheclient", ctx["component"])
}
