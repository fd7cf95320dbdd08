package processor

import (
	"fmt"

	"aquabridge/internal/types"
)

// parameterLabels maps parameters to the phrasing used in alert text.
var parameterLabels = map[types.Parameter]string{
	types.ParameterTurbidity: "Turbidity",
	types.ParameterTDS:       "Total dissolved solids",
	types.ParameterPH:        "pH",
}

// recommendedActions maps severities to a default recommended action for
// threshold alerts.
var recommendedActions = map[types.AlertSeverity]string{
	types.SeverityAdvisory: "Review the reading and monitor the device.",
	types.SeverityWarning:  "Inspect the water source and verify sensor calibration.",
	types.SeverityCritical: "Investigate immediately and consider isolating the supply.",
}

// EvaluateThreshold resolves the value against the configured severity
// bands for the parameter. A value that maps to no band is in range.
func EvaluateThreshold(cfg *types.AlertThresholdConfig, param types.Parameter, value float64) (types.ThresholdBand, bool) {
	if cfg == nil {
		return types.ThresholdBand{}, false
	}
	return cfg.Resolve(param, value)
}

// buildThresholdAlert assembles the alert row for a band excursion.
func buildThresholdAlert(deviceID string, param types.Parameter, value float64, band types.ThresholdBand) *types.Alert {
	boundary := band.BoundaryValue()
	return &types.Alert{
		DeviceID:       deviceID,
		Parameter:      param,
		Kind:           types.AlertKindThreshold,
		Severity:       band.Severity,
		CurrentValue:   value,
		ThresholdValue: &boundary,
		Message: fmt.Sprintf("%s reading %.2f breached the %s band (threshold %.2f)",
			parameterLabels[param], value, band.Severity, boundary),
		RecommendedAction: recommendedActions[band.Severity],
		Status:            types.AlertStatusActive,
	}
}
