package videohub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/router-agent/pkg/router"
	"github.com/benmeehan/router-agent/pkg/router/videohub"
)

func TestParseDump_LabelBlock(t *testing.T) {
	blocks := videohub.ParseDump("INPUT LABELS:\n0 Cam 1\n1 Cam 2\n\n")

	require.Len(t, blocks, 1)
	assert.Equal(t, videohub.BlockInputLabels, blocks[0].Name)

	state := videohub.NewState()
	state.Inputs, state.Outputs = 2, 0
	state.Apply(blocks[0])
	labels := state.Labels(router.DeviceInfo{Inputs: 2})
	assert.Equal(t, []router.PortLabel{
		{Port: 1, Direction: router.Input, Current: "Cam 1", SourceNote: router.SourceDump},
		{Port: 2, Direction: router.Input, Current: "Cam 2", SourceNote: router.SourceDump},
	}, labels)
}

// TestParseDump_MissingBlankLine verifies a new header ends the previous
// block.
func TestParseDump_MissingBlankLine(t *testing.T) {
	blocks := videohub.ParseDump("INPUT LABELS:\n0 Cam 1\nOUTPUT LABELS:\n0 Mon 1\n\n")

	require.Len(t, blocks, 2)
	assert.Equal(t, []string{"0 Cam 1"}, blocks[0].Lines)
	assert.Equal(t, videohub.BlockOutputLabels, blocks[1].Name)
	assert.Equal(t, []string{"0 Mon 1"}, blocks[1].Lines)
}

func TestParser_StatusLines(t *testing.T) {
	var p videohub.Parser

	done, loose := p.Feed("VIDEO OUTPUT ROUTING:")
	assert.Empty(t, done)
	assert.Empty(t, loose)
	p.Feed("0 3")

	done, loose = p.Feed("ACK")
	require.Len(t, done, 1)
	assert.Equal(t, "ACK", loose)
	assert.Equal(t, []string{"0 3"}, done[0].Lines)

	done, loose = p.Feed("END PRELUDE:")
	require.Len(t, done, 1)
	assert.Equal(t, videohub.BlockEndPrelude, done[0].Name)
	assert.Empty(t, loose)
}

func TestState_DeviceBlockAndDefaults(t *testing.T) {
	state := videohub.NewState()
	for _, b := range videohub.ParseDump("PROTOCOL PREAMBLE:\nVersion: 2.8\n\nVIDEOHUB DEVICE:\nDevice present: true\nModel name: Smart Videohub\nVideo inputs: 12\nVideo outputs: 12\n\n") {
		state.Apply(b)
	}
	info := state.Info()
	assert.True(t, state.Identified())
	assert.Equal(t, "Smart Videohub", info.Model)
	assert.Equal(t, "Smart Videohub", info.Name)
	assert.Equal(t, "2.8", info.Firmware)
	assert.Equal(t, 12, info.Inputs)

	bare := videohub.NewState()
	bare.Apply(videohub.Block{Name: videohub.BlockDevice})
	info = bare.Info()
	assert.Equal(t, "Blackmagic Videohub", info.Model)
	assert.Equal(t, videohub.DefaultPortCount, info.Inputs)
	assert.Equal(t, videohub.DefaultPortCount, info.Outputs)
}

func TestState_LabelWithSpacesAndRouting(t *testing.T) {
	state := videohub.NewState()
	for _, b := range videohub.ParseDump("OUTPUT LABELS:\n2 Program Out  A\n\nVIDEO OUTPUT ROUTING:\n0 5\n2 1\n\n") {
		state.Apply(b)
	}

	assert.Equal(t, "Program Out  A", state.OutputLabels[2])
	assert.Equal(t, 3, state.Info().Outputs, "count follows the highest label index")
	assert.Equal(t, []int{5, router.NoInput, 1}, state.Crosspoints(3))
	assert.Equal(t, 1, state.RoutingUpdates)
}
