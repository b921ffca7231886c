package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbalug7/tiny-lora/led"
	"github.com/mbalug7/tiny-lora/rgb"
)

func TestTurnOff(t *testing.T) {
	l := led.NewRecorder()
	require.NoError(t, turnOff(l))
	assert.Equal(t, []rgb.Color{rgb.Off}, l.Colors())

	l.Err = errors.New("unplugged")
	assert.ErrorContains(t, turnOff(l), "unplugged")
}
