package config

import (
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
)

// ReportStyle selects the register the reporter agent writes in.
type ReportStyle string

const (
	ReportStyleAcademic       ReportStyle = "academic"
	ReportStylePopularScience ReportStyle = "popular_science"
	ReportStyleNews           ReportStyle = "news"
	ReportStyleSocialMedia    ReportStyle = "social_media"
)

// Validate performs basic validation of a ReportStyle value:
// - Checks whether the value is a known ReportStyle
// - Replaces an empty value with the default one (ReportStyleAcademic)
func (s *ReportStyle) Validate() error {
	switch *s {
	case "":
		*s = ReportStyleAcademic
		return nil
	case ReportStyleAcademic, ReportStylePopularScience, ReportStyleNews, ReportStyleSocialMedia:
		return nil
	default:
		return fmt.Errorf(
			"bad ReportStyle value: must be empty or one of %q, %q, %q, %q",
			string(ReportStyleAcademic),
			string(ReportStylePopularScience),
			string(ReportStyleNews),
			string(ReportStyleSocialMedia),
		)
	}
}

// unmarshalReportStyleYAML implements a custom YAML unmarshaler for ReportStyle.
// Validates the value after unmarshaling.
func unmarshalReportStyleYAML(value *ReportStyle, data []byte) error {
	var style string

	if err := yaml.Unmarshal(data, &style); err != nil {
		return err
	}

	*value = ReportStyle(style)

	return value.Validate()
}

// ResearchConfig contains the default research pipeline parameters sent with
// every ask/stream request unless the caller overrides them.
type ResearchConfig struct {
	AutoAcceptedPlan              bool        `yaml:"auto_accepted_plan"`
	EnableBackgroundInvestigation bool        `yaml:"enable_background_investigation"`
	EnableDeepThinking            bool        `yaml:"enable_deep_thinking"`
	ReportStyle                   ReportStyle `yaml:"report_style"`
	MaxPlanIterations             int         `yaml:"max_plan_iterations"`
	MaxStepNum                    int         `yaml:"max_step_num"`
	MaxSearchResults              int         `yaml:"max_search_results"`
	Locale                        string      `yaml:"locale"`
}

// DefaultResearchConfig returns the built-in research defaults.
// These mirror the backend pipeline's own defaults so an empty config file
// produces identical behavior.
func DefaultResearchConfig() *ResearchConfig {
	return &ResearchConfig{
		AutoAcceptedPlan:              false,
		EnableBackgroundInvestigation: true,
		EnableDeepThinking:            false,
		ReportStyle:                   ReportStyleAcademic,
		MaxPlanIterations:             3,
		MaxStepNum:                    5,
		MaxSearchResults:              5,
		Locale:                        "en-US",
	}
}

// Validate performs validation of a ResearchConfig value:
// - Validates the report style
// - Checks iteration and step bounds
// - Fills zero values with defaults
func (cfg *ResearchConfig) Validate() error {
	if err := cfg.ReportStyle.Validate(); err != nil {
		return err
	}

	if cfg.MaxPlanIterations < 0 || cfg.MaxPlanIterations > 10 {
		return fmt.Errorf("max_plan_iterations must be between 0 and 10, got %d", cfg.MaxPlanIterations)
	}
	if cfg.MaxPlanIterations == 0 {
		cfg.MaxPlanIterations = 3
	}

	if cfg.MaxStepNum < 0 || cfg.MaxStepNum > 20 {
		return fmt.Errorf("max_step_num must be between 0 and 20, got %d", cfg.MaxStepNum)
	}
	if cfg.MaxStepNum == 0 {
		cfg.MaxStepNum = 5
	}

	if cfg.MaxSearchResults == 0 {
		cfg.MaxSearchResults = 5
	}

	if cfg.Locale == "" {
		cfg.Locale = "en-US"
	}

	return nil
}

// unmarshalResearchConfig implements a custom YAML unmarshaler for ResearchConfig.
// Validates the value after unmarshaling.
func unmarshalResearchConfig(value *ResearchConfig, data []byte) error {
	type Aux ResearchConfig
	var aux Aux

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	*value = ResearchConfig(aux)

	return value.Validate()
}

func init() {
	// Register unmarshalers of custom types with the YAML library
	yaml.RegisterCustomUnmarshaler[ReportStyle](unmarshalReportStyleYAML)
	yaml.RegisterCustomUnmarshaler[ResearchConfig](unmarshalResearchConfig)
}

func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}
