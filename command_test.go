package rediscluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandSlotIsMemoized(t *testing.T) {
	cmd := NewCommand("GET", "abc")
	first := cmd.Slot()
	assert.Equal(t, Slot("abc"), first)
	cmd.Args[0] = "zzz"
	assert.Equal(t, first, cmd.Slot(), "Slot must not be recomputed after first call")
}

func TestCommandRegistryReadonly(t *testing.T) {
	assert.True(t, commandIsReadonly("get"))
	assert.True(t, commandIsReadonly("GET"))
	assert.False(t, commandIsReadonly("SET"))
	assert.False(t, commandIsReadonly("UNKNOWNCMD"))
}

func TestCommandRegistrySubscriberFlags(t *testing.T) {
	assert.True(t, commandHasFlag("SUBSCRIBE", flagEnterSubscriberMode))
	assert.True(t, commandHasFlag("PSUBSCRIBE", flagEnterSubscriberMode))
	assert.True(t, commandHasFlag("UNSUBSCRIBE", flagExitSubscriberMode))
	assert.False(t, commandHasFlag("GET", flagEnterSubscriberMode))
}

func TestCommandExists(t *testing.T) {
	assert.True(t, commandExists("get"))
	assert.False(t, commandExists("frobnicate"))
}
