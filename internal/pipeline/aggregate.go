package pipeline

import "github.com/modporter/api/internal/model"

// BuildReport collapses per-stage outcomes into the final conversion report.
// The success rate counts every pipeline stage in the denominator, including
// best-effort stages that took the degraded path.
func BuildReport(jc *Context, outcomes []model.StageOutcome, fallbacks []model.Fallback, hardErrs []string) model.ConversionReport {
	succeeded := 0
	for _, o := range outcomes {
		if o.Status == model.StageSucceeded {
			succeeded++
		}
	}

	report := model.ConversionReport{
		SuccessRate:      float64(succeeded) / float64(len(Stages)),
		Stages:           outcomes,
		AppliedFallbacks: fallbacks,
		Errors:           hardErrs,
	}
	if report.AppliedFallbacks == nil {
		report.AppliedFallbacks = []model.Fallback{}
	}
	if jc.Package != nil {
		report.PackageURL = jc.Package.PackageURL
		report.PackageSize = jc.Package.Size
	}
	return report
}
