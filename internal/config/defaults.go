package config

// Default returns the built-in configuration: four outputs on a
// BeagleBone Black header and a handful of demo sequences.
func Default() Config {
	cfg := Config{
		CooldownMs: 100,
		Outputs: []OutputConfig{
			{Name: "out1", Line: 66},
			{Name: "out2", Line: 67},
			{Name: "out3", Line: 69},
			{Name: "out4", Line: 68},
		},
		States: map[string]map[string]int{
			"allOn":  {"out1": 1, "out2": 1, "out3": 1, "out4": 1},
			"allOff": {"out1": 0, "out2": 0, "out3": 0, "out4": 0},
			"one":    {"out1": 1, "out2": 0, "out3": 0, "out4": 0},
			"two":    {"out1": 0, "out2": 1, "out3": 0, "out4": 0},
			"three":  {"out1": 0, "out2": 0, "out3": 1, "out4": 0},
			"four":   {"out1": 0, "out2": 0, "out3": 0, "out4": 1},
		},
		Sequences: map[string]SequenceConfig{
			"nightrider": {
				Steps:    []string{"one", "two", "three", "four", "three", "two"},
				PeriodMs: 250,
				Repeat:   -1,
			},
			"allonoff": {
				Steps:    []string{"allOn", "allOff"},
				PeriodMs: 500,
				Repeat:   4,
			},
			"one": {
				Steps: []string{},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}
