package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modporter/api/internal/model"
)

// StageResult is the fixed output contract of a stage execution. Output is
// raw JSON so the executor can run in-process or behind a remote service.
type StageResult struct {
	Success          bool            `json:"success"`
	Output           json.RawMessage `json:"output,omitempty"`
	AppliedFallbacks []string        `json:"appliedFallbacks,omitempty"`
	Errors           []string        `json:"errors,omitempty"`
}

// StageExecutor runs the content transformation for a single stage. The
// coordinator treats it as an opaque collaborator: any implementation
// honoring this contract is substitutable.
type StageExecutor interface {
	Run(ctx context.Context, stage StageName, jc *Context) (*StageResult, error)
}

// Context is the accumulating job context handed to each stage. Stage
// outputs are folded into the typed fields; the raw payloads are kept as-is
// so unknown fields survive a round trip without the coordinator depending
// on them.
type Context struct {
	JobID       string               `json:"jobId"`
	ArtifactID  string               `json:"artifactId"`
	ArtifactURL string               `json:"artifactUrl"`
	Options     model.ConvertOptions `json:"options"`

	Analysis    *AnalysisOutput    `json:"analysis,omitempty"`
	Translation *TranslationOutput `json:"translation,omitempty"`
	Assets      *AssetOutput       `json:"assets,omitempty"`
	Package     *PackageOutput     `json:"package,omitempty"`
	Validation  *ValidationOutput  `json:"validation,omitempty"`

	Raw map[string]json.RawMessage `json:"raw,omitempty"`
}

// AnalysisOutput summarizes the source mod.
type AnalysisOutput struct {
	Framework    string   `json:"framework"`
	FeatureCount int      `json:"featureCount"`
	AssetCount   int      `json:"assetCount"`
	Notes        []string `json:"notes,omitempty"`
}

// TranslationOutput reports logic translation coverage.
type TranslationOutput struct {
	TranslatedScripts int      `json:"translatedScripts"`
	Untranslatable    []string `json:"untranslatable,omitempty"`
}

// AssetOutput reports asset conversion coverage.
type AssetOutput struct {
	ConvertedAssets int      `json:"convertedAssets"`
	SkippedAssets   []string `json:"skippedAssets,omitempty"`
}

// PackageOutput points at the produced add-on package.
type PackageOutput struct {
	PackageURL string `json:"packageUrl"`
	Size       int64  `json:"size"`
}

// ValidationOutput reports the final validation pass.
type ValidationOutput struct {
	Passed   bool     `json:"passed"`
	Warnings []string `json:"warnings,omitempty"`
}

// fold merges a stage's raw output into the context, decoding the typed
// field for the stage and retaining the raw payload verbatim.
func (jc *Context) fold(stage StageName, output json.RawMessage) error {
	if len(output) == 0 {
		return nil
	}

	if jc.Raw == nil {
		jc.Raw = make(map[string]json.RawMessage)
	}
	jc.Raw[string(stage)] = output

	var dst interface{}
	switch stage {
	case StageAnalyze:
		jc.Analysis = &AnalysisOutput{}
		dst = jc.Analysis
	case StageTranslateLogic:
		jc.Translation = &TranslationOutput{}
		dst = jc.Translation
	case StageConvertAssets:
		jc.Assets = &AssetOutput{}
		dst = jc.Assets
	case StagePackage:
		jc.Package = &PackageOutput{}
		dst = jc.Package
	case StageValidate:
		jc.Validation = &ValidationOutput{}
		dst = jc.Validation
	default:
		return nil
	}

	if err := json.Unmarshal(output, dst); err != nil {
		return fmt.Errorf("failed to decode %s output: %w", stage, err)
	}
	return nil
}
