package pipeline

import "github.com/modporter/api/internal/model"

// StageName identifies one step in the fixed conversion sequence.
type StageName string

const (
	StageAnalyze        StageName = "analyze"
	StageTranslateLogic StageName = "translate_logic"
	StageConvertAssets  StageName = "convert_assets"
	StagePackage        StageName = "package"
	StageValidate       StageName = "validate"
)

// StageDescriptor is the static description of a pipeline stage. Required
// stages abort the job when they exhaust their retries; best-effort stages
// are recorded as a fallback and the pipeline continues.
type StageDescriptor struct {
	Name     StageName
	State    model.JobStatus
	Label    string
	Required bool
}

// Stages is the fixed conversion pipeline, in execution order.
var Stages = []StageDescriptor{
	{Name: StageAnalyze, State: model.JobStatusAnalyzing, Label: "Analyzing mod structure", Required: true},
	{Name: StageTranslateLogic, State: model.JobStatusTranslating, Label: "Translating mod logic", Required: true},
	{Name: StageConvertAssets, State: model.JobStatusConvertingAssets, Label: "Converting assets", Required: false},
	{Name: StagePackage, State: model.JobStatusPackaging, Label: "Packaging add-on", Required: true},
	{Name: StageValidate, State: model.JobStatusValidating, Label: "Validating output", Required: true},
}
