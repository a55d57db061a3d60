package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitDisabledDiscardsOutput(t *testing.T) {
	defer Init(Options{})
	Init(Options{Enabled: true})
	Init(Options{Enabled: false})
	assert.NotPanics(t, func() { Info("should be discarded") })
}

func TestInitEnabledReplacesLogger(t *testing.T) {
	defer Init(Options{})
	before := L
	Init(Options{Enabled: true, Level: slog.LevelDebug})
	assert.NotSame(t, before, L)
}
