package mcts

import "github.com/tyrochess/tyro/config"

// ParamsFromOptions reads the search constants from the process options.
func ParamsFromOptions() Params {
	return Params{
		CPUCT:                config.Float("cpuct", 1.0),
		ForceExpandUnvisited: config.Int("force_expand_unvisited", 0) != 0,
		ScaleCPUCT:           config.Int("scale_cpuct_by_actions", 0) != 0,
		UnvisitedValue:       float32(config.Int("unvisited_node_value_pct", 100)) / 100,
		NoiseWeight:          config.Float("mcts_noise_weight", 0.05),
		BootstrapWeight:      float32(config.Int("bootstrap_weight", 0)) / 100,
		BootstrapWindow:      float32(config.Int("bootstrap_window", 1600)),
		BootstrapAmp:         float32(config.Int("bootstrap_amp_pct", 75)) / 100,
	}
}
