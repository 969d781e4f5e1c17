package config

import (
	"strings"
	"testing"
)

func TestReportStyleValidate(t *testing.T) {
	tests := []struct {
		name    string
		style   ReportStyle
		want    ReportStyle
		wantErr bool
	}{
		{name: "empty defaults to academic", style: "", want: ReportStyleAcademic},
		{name: "academic", style: ReportStyleAcademic, want: ReportStyleAcademic},
		{name: "news", style: ReportStyleNews, want: ReportStyleNews},
		{name: "unknown rejected", style: "casual", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.style
			err := s.Validate()
			if tt.wantErr {
				if err == nil {
					t.Error("expected validation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s != tt.want {
				t.Errorf("expected %q, got %q", tt.want, s)
			}
		})
	}
}

func TestResearchConfigValidateFillsDefaults(t *testing.T) {
	cfg := &ResearchConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxPlanIterations != 3 || cfg.MaxStepNum != 5 || cfg.MaxSearchResults != 5 {
		t.Errorf("zero values should fill with defaults: %+v", cfg)
	}
	if cfg.Locale != "en-US" || cfg.ReportStyle != ReportStyleAcademic {
		t.Errorf("locale/style defaults missing: %+v", cfg)
	}
}

func TestResearchConfigValidateBounds(t *testing.T) {
	if err := (&ResearchConfig{MaxPlanIterations: 11}).Validate(); err == nil {
		t.Error("expected error for max_plan_iterations out of range")
	}
	if err := (&ResearchConfig{MaxStepNum: 21}).Validate(); err == nil {
		t.Error("expected error for max_step_num out of range")
	}
}

func TestLoadConfigFile(t *testing.T) {
	input := `
research:
  auto_accepted_plan: true
  report_style: news
  max_plan_iterations: 2
  max_step_num: 4
  locale: de-DE
`
	var cfg Config
	if err := LoadConfigFile(strings.NewReader(input), &cfg); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	r := cfg.Research
	if r == nil {
		t.Fatal("research section not decoded")
	}
	if !r.AutoAcceptedPlan || r.ReportStyle != ReportStyleNews || r.MaxPlanIterations != 2 {
		t.Errorf("unexpected decoded config: %+v", r)
	}
	if r.MaxSearchResults != 5 {
		t.Errorf("unset fields should fill with defaults, got %d", r.MaxSearchResults)
	}
	if r.Locale != "de-DE" {
		t.Errorf("expected locale de-DE, got %q", r.Locale)
	}
}

func TestLoadConfigFileRejectsBadStyle(t *testing.T) {
	input := "research:\n  report_style: casual\n"
	var cfg Config
	if err := LoadConfigFile(strings.NewReader(input), &cfg); err == nil {
		t.Error("expected error for invalid report style")
	}
}
