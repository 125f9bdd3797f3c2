package config

// Defaults returns a Config pre-populated with spec-mandated defaults.
// The loader merges user-supplied YAML on top of this via mergo, so only
// fields the user omits keep these values.
func Defaults() *Config {
	return &Config{
		PollIntervalSeconds:    300,
		MaxConcurrentSyncs:     3,
		SnapshotDirectory:      "./data/snapshots",
		LedgerPath:             "./data/ledger.json",
		LogLevel:               "info",
		AutoSync:               true,
		AutoExtractNewRoots:    true,
		AutoTestCaseExtraction: false,
		ManualOverrideEnabled:  true,
		RetryAttempts:          3,
		RetryDelaySeconds:      60,
		RequirementType:        "Epic",
		UserStoryType:          "User Story",
		StoryExtractionType:    "story_extraction",
		TestCaseExtractionType: "test_case_extraction",
		EnableCompactExtraction:     true,
		ChangeSignificanceThreshold: 0.3,
		MaxChangesPerRoot:           10,
		Weights: Weights{
			Title:       0.8,
			Description: 0.6,
			State:       0.2,
		},
		ExtractionCooldownHours: 1,
		Generator: GeneratorConfig{
			Temperature: 0.7,
			MaxTokens:   2000,
		},
		API: APIConfig{
			ListenAddr: ":8090",
		},
		Masking: MaskingConfig{
			Enabled: true,
		},
	}
}
