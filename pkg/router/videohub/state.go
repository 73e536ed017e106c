package videohub

import (
	"strconv"
	"strings"

	"github.com/benmeehan/router-agent/pkg/router"
)

// DefaultPortCount is assumed when the device block omits a port count and
// no label block reveals one.
const DefaultPortCount = 16

// State is the device picture assembled from received blocks. Indices are
// the 0-based wire numbers.
type State struct {
	ProtocolVersion string
	ModelName       string
	FriendlyName    string
	UniqueID        string
	DevicePresent   string
	Inputs          int
	Outputs         int

	InputLabels  map[int]string
	OutputLabels map[int]string
	Routing      map[int]int

	// RoutingUpdates counts routing blocks applied so far.
	RoutingUpdates int
	sawIdentity    bool
}

func NewState() *State {
	return &State{
		InputLabels:  make(map[int]string),
		OutputLabels: make(map[int]string),
		Routing:      make(map[int]int),
	}
}

// Apply merges one block into the state. Unknown blocks are ignored.
func (s *State) Apply(b Block) {
	switch b.Name {
	case BlockPreamble:
		s.sawIdentity = true
		for _, line := range b.Lines {
			if key, value, ok := keyValue(line); ok && key == "Version" {
				s.ProtocolVersion = value
			}
		}
	case BlockDevice:
		s.sawIdentity = true
		s.applyDevice(b.Lines)
	case BlockInputLabels:
		applyIndexed(b.Lines, func(i int, text string) { s.InputLabels[i] = text })
	case BlockOutputLabels:
		applyIndexed(b.Lines, func(i int, text string) { s.OutputLabels[i] = text })
	case BlockRouting:
		s.RoutingUpdates++
		applyIndexed(b.Lines, func(out int, text string) {
			if in, err := strconv.Atoi(strings.TrimSpace(text)); err == nil {
				s.Routing[out] = in
			}
		})
	}
}

func (s *State) applyDevice(lines []string) {
	for _, line := range lines {
		key, value, ok := keyValue(line)
		if !ok {
			continue
		}
		switch key {
		case "Device present":
			s.DevicePresent = value
		case "Model name":
			s.ModelName = value
		case "Friendly name":
			s.FriendlyName = value
		case "Unique ID":
			s.UniqueID = value
		case "Video inputs":
			if n, err := strconv.Atoi(value); err == nil {
				s.Inputs = n
			}
		case "Video outputs":
			if n, err := strconv.Atoi(value); err == nil {
				s.Outputs = n
			}
		}
	}
}

// Identified reports whether a preamble or device block was seen.
func (s *State) Identified() bool {
	return s.sawIdentity
}

// Info builds the session identity, filling absent fields with defaults.
func (s *State) Info() router.DeviceInfo {
	model := s.ModelName
	if model == "" {
		model = "Blackmagic Videohub"
	}
	name := s.FriendlyName
	if name == "" {
		name = model
	}
	return router.DeviceInfo{
		Kind:           router.KindVideohub,
		Name:           name,
		Model:          model,
		Firmware:       s.ProtocolVersion,
		Inputs:         portCount(s.Inputs, s.InputLabels),
		Outputs:        portCount(s.Outputs, s.OutputLabels),
		MaxLabelLength: MaxLabelLength,
	}
}

// Labels returns one record per port, caller-numbered from 1.
func (s *State) Labels(info router.DeviceInfo) []router.PortLabel {
	labels := make([]router.PortLabel, 0, info.Inputs+info.Outputs)
	labels = appendLabels(labels, router.Input, info.Inputs, s.InputLabels)
	return appendLabels(labels, router.Output, info.Outputs, s.OutputLabels)
}

// Crosspoints returns the routed input per output, NoInput when unknown.
func (s *State) Crosspoints(outputs int) []int {
	routes := make([]int, outputs)
	for out := range routes {
		in, ok := s.Routing[out]
		if !ok {
			in = router.NoInput
		}
		routes[out] = in
	}
	return routes
}

func appendLabels(labels []router.PortLabel, dir router.Direction, count int, names map[int]string) []router.PortLabel {
	for wire := 0; wire < count; wire++ {
		l := router.PortLabel{Port: wire + 1, Direction: dir, SourceNote: router.SourceDump}
		if text, ok := names[wire]; ok {
			l.Current = text
		} else {
			l.Current = router.DefaultLabel(dir, wire+1)
			l.SourceNote = router.SourceDefault
		}
		labels = append(labels, l)
	}
	return labels
}

func portCount(reported int, labels map[int]string) int {
	if reported > 0 {
		return reported
	}
	highest := -1
	for i := range labels {
		if i > highest {
			highest = i
		}
	}
	if highest >= 0 {
		return highest + 1
	}
	return DefaultPortCount
}

func keyValue(line string) (string, string, bool) {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

// applyIndexed parses "<index> <text>" lines; the text may contain spaces
// and may be empty.
func applyIndexed(lines []string, apply func(int, string)) {
	for _, line := range lines {
		idx, text, _ := strings.Cut(line, " ")
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 {
			continue
		}
		apply(i, text)
	}
}
