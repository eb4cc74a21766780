package simulator

import (
	"math"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Scenario is a timeline of signal values keyed by signal id.
type Scenario struct {
	Meta      ScenarioMeta       `json:"meta"`
	DurationS float64            `json:"duration_s"`
	Loop      bool               `json:"loop,omitempty"`
	Defaults  map[string]float64 `json:"defaults"`
	Segments  []Segment          `json:"segments"`
}

type ScenarioMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Segment overrides values between T0 and T1 seconds. A negative T1 lasts
// until the end of the scenario. Signals listed in RampTo move linearly
// from their start value to the RampTo value over the segment.
type Segment struct {
	T0      float64            `json:"t0"`
	T1      float64            `json:"t1"`
	Values  map[string]float64 `json:"values,omitempty"`
	RampTo  map[string]float64 `json:"ramp_to,omitempty"`
	Comment string             `json:"comment,omitempty"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read scenario")
	}
	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return nil, errors.Wrapf(err, "unmarshal scenario %s", path)
	}
	if err := scen.Validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return &scen, nil
}

func (s *Scenario) Validate() error {
	if s.DurationS <= 0 {
		return errors.Errorf("invalid duration_s: %v", s.DurationS)
	}
	for i, seg := range s.Segments {
		if seg.T0 < 0 {
			return errors.Errorf("segment %d: negative t0 %v", i, seg.T0)
		}
		if seg.T1 >= 0 && seg.T1 <= seg.T0 {
			return errors.Errorf("segment %d: t1 %v not after t0 %v", i, seg.T1, seg.T0)
		}
	}
	return nil
}

// ValuesAt evaluates the scenario t seconds after the start. A looping
// scenario wraps around its duration; otherwise the timeline holds after
// the end.
func (s *Scenario) ValuesAt(t float64) map[string]float64 {
	switch {
	case s.Loop:
		t = math.Mod(t, s.DurationS)
	case t >= s.DurationS:
		t = math.Nextafter(s.DurationS, 0)
	}

	out := make(map[string]float64, len(s.Defaults))
	for k, v := range s.Defaults {
		out[k] = v
	}

	for _, seg := range s.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = s.DurationS
		}
		if t < seg.T0 || t >= t1 {
			continue
		}

		for k, v := range seg.Values {
			out[k] = v
		}
		frac := (t - seg.T0) / (t1 - seg.T0)
		for k, to := range seg.RampTo {
			from := out[k]
			out[k] = from + (to-from)*frac
		}
		break
	}
	return out
}
