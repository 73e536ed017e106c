package router

import "fmt"

// CrosspointMap holds, for every 0-based output, the 0-based input routed to
// it or NoInput. Its length always equals DeviceInfo.Outputs.
type CrosspointMap []int

// NormalizeCrosspoints fits raw backend output to the device geometry:
// missing outputs become NoInput, extra outputs are dropped and inputs
// outside 0..inputs-1 are cleared.
func NormalizeCrosspoints(raw []int, inputs, outputs int) CrosspointMap {
	m := make(CrosspointMap, outputs)
	for out := range m {
		m[out] = NoInput
		if out >= len(raw) {
			continue
		}
		if in := raw[out]; in >= 0 && in < inputs {
			m[out] = in
		}
	}
	return m
}

// Routed returns the input routed to out.
func (m CrosspointMap) Routed(out int) (int, bool) {
	if out < 0 || out >= len(m) || m[out] == NoInput {
		return NoInput, false
	}
	return m[out], true
}

// OutputsOf lists the outputs currently fed by input in.
func (m CrosspointMap) OutputsOf(in int) []int {
	var outs []int
	for out, routed := range m {
		if routed == in {
			outs = append(outs, out)
		}
	}
	return outs
}

// validateCrosspoint checks 0-based indices against the device geometry.
func validateCrosspoint(info DeviceInfo, output, input int) error {
	if output < 0 || output >= info.Outputs {
		return fmt.Errorf("output index %d outside 0..%d", output, info.Outputs-1)
	}
	if input < 0 || input >= info.Inputs {
		return fmt.Errorf("input index %d outside 0..%d", input, info.Inputs-1)
	}
	return nil
}
