package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Simulator is the built-in StageExecutor used when no conversion engine is
// configured. It produces deterministic canned outputs so the rest of the
// system can run end to end in development and tests.
type Simulator struct {
	// StepDelay slows each stage down to make progress observable.
	StepDelay time.Duration
}

func NewSimulator() *Simulator {
	return &Simulator{}
}

func (s *Simulator) Run(ctx context.Context, stage StageName, jc *Context) (*StageResult, error) {
	if s.StepDelay > 0 {
		if !sleepCtx(ctx, s.StepDelay) {
			return nil, ctx.Err()
		}
	}

	var output interface{}
	var fallbacks []string

	switch stage {
	case StageAnalyze:
		output = AnalysisOutput{
			Framework:    "forge",
			FeatureCount: 12,
			AssetCount:   48,
			Notes:        []string{"simulated analysis"},
		}
	case StageTranslateLogic:
		output = TranslationOutput{TranslatedScripts: 12}
	case StageConvertAssets:
		output = AssetOutput{ConvertedAssets: 46, SkippedAssets: []string{"custom_shader.fsh", "custom_shader.vsh"}}
		fallbacks = []string{"2 shader assets replaced with default textures"}
	case StagePackage:
		output = PackageOutput{
			PackageURL: fmt.Sprintf("file://converted/%s.mcaddon", jc.ArtifactID),
			Size:       1 << 20,
		}
	case StageValidate:
		output = ValidationOutput{Passed: true}
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	return &StageResult{Success: true, Output: raw, AppliedFallbacks: fallbacks}, nil
}
