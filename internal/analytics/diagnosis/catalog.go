package diagnosis

import "github.com/kubilitics/sensordx/internal/models"

// Root-cause codes.
const (
	CodeHealthy           = "HEALTHY"
	CodeHardFailure       = "HARD_FAILURE"
	CodeInsufficientData  = "INSUFFICIENT_DATA"
	CodeFrozenSensor      = "FROZEN_SENSOR"
	CodeFouling           = "FOULING"
	CodeBaselineDeviation = "BASELINE_DEVIATION"

	CodeMechanicalFailure = "MECHANICAL_FAILURE"
	CodeElectronicFailure = "ELECTRONIC_FAILURE"
	CodeEMINoise          = "EMI_NOISE"
	CodeBubbleDetected    = "BUBBLE_DETECTED"
	CodeDriftAging        = "DRIFT_AGING"
	CodeSensorAging       = "SENSOR_AGING"

	CodeProcessTurbulence  = "PROCESS_TURBULENCE"
	CodeProcessDisturbance = "PROCESS_DISTURBANCE"
	CodeProcessPulsation   = "PROCESS_PULSATION"
	CodeSlugFlow           = "SLUG_FLOW"
	CodeSensorFouling      = "SENSOR_FOULING"

	CodeReferenceLeak        = "REFERENCE_LEAK"
	CodeCrackedGlass         = "CRACKED_GLASS"
	CodeGroundLoopEMI        = "GROUND_LOOP_EMI"
	CodeElectrolyteDepletion = "ELECTROLYTE_DEPLETION"

	CodeAnodeDegradation      = "ANODE_DEGRADATION"
	CodeMembraneDamage        = "MEMBRANE_DAMAGE"
	CodeBubblesInSample       = "BUBBLES_IN_SAMPLE"
	CodeElectrolyteExhaustion = "ELECTROLYTE_EXHAUSTION"

	CodeLinerDamage       = "LINER_DAMAGE"
	CodeElectrodeFouling  = "ELECTRODE_FOULING"
	CodeConductivityShift = "CONDUCTIVITY_SHIFT"

	CodeRTDDegradation   = "RTD_DEGRADATION"
	CodeThermowellDamage = "THERMOWELL_DAMAGE"
	CodeEMIInterference  = "EMI_INTERFERENCE"
	CodeCalibrationShift = "CALIBRATION_SHIFT"

	CodeCapillaryBlockage = "CAPILLARY_BLOCKAGE"
	CodeDiaphragmRupture  = "DIAPHRAGM_RUPTURE"
	CodeZeroShift         = "ZERO_SHIFT"

	CodeCellFouling          = "CELL_FOULING"
	CodeElectrodeAttack      = "ELECTRODE_ATTACK"
	CodeInductiveCoupling    = "INDUCTIVE_COUPLING"
	CodeTempCompensationFail = "TEMPERATURE_COMPENSATION_FAIL"
)

// Entry is the human-facing description of a code.
type Entry struct {
	Code           string          `json:"code"`
	Text           string          `json:"text"`
	Recommendation string          `json:"recommendation"`
	Severity       models.Severity `json:"severity"`
}

// Catalog maps codes to entries.
type Catalog map[string]Entry

// Lookup returns the entry for code. Unknown codes get a warning entry that
// repeats the code so a misconfigured table is still visible to operators.
func (c Catalog) Lookup(code string) Entry {
	if e, ok := c[code]; ok {
		return e
	}
	return Entry{
		Code:           code,
		Text:           "Unclassified condition " + code,
		Recommendation: "Review the sensor manually",
		Severity:       models.SeverityWarning,
	}
}

func entry(code string, sev models.Severity, text, rec string) Entry {
	return Entry{Code: code, Text: text, Recommendation: rec, Severity: sev}
}

// DefaultCatalog returns the built-in code descriptions.
func DefaultCatalog() Catalog {
	const (
		crit = models.SeverityCritical
		warn = models.SeverityWarning
		info = models.SeverityInfo
		ok   = models.SeverityHealthy
	)
	entries := []Entry{
		entry(CodeHealthy, ok,
			"Signal characteristics are within normal bounds",
			"No action required"),
		entry(CodeHardFailure, crit,
			"Signal shows a burnout or disconnect pattern",
			"Check wiring, loop power and transmitter; replace the sensor if the fault persists"),
		entry(CodeInsufficientData, info,
			"Not enough valid samples to assess the sensor",
			"Collect a longer window before diagnosing"),
		entry(CodeFrozenSensor, crit,
			"Signal is flat or stuck with no measurable variation",
			"Check for a stuck transmitter output or a frozen process connection"),
		entry(CodeFouling, warn,
			"Response differs between rising and falling edges without drift, consistent with fouling",
			"Clean the sensing element and verify response time"),
		entry(CodeBaselineDeviation, warn,
			"Waveform deviates strongly from the learned baseline",
			"Compare against a reference instrument and retrain the baseline if the process changed"),

		entry(CodeMechanicalFailure, crit,
			"Low-frequency chaotic behaviour indicates a mechanical failure",
			"Inspect the mechanical assembly and mounting"),
		entry(CodeElectronicFailure, crit,
			"High-frequency chaotic behaviour indicates an electronic failure",
			"Inspect transmitter electronics and connections"),
		entry(CodeEMINoise, warn,
			"High-frequency noise dominates the signal, consistent with electromagnetic interference",
			"Check cable shielding, grounding and routing near power equipment"),
		entry(CodeBubbleDetected, info,
			"Intermittent spikes consistent with bubbles or entrained gas",
			"Check installation orientation and degassing"),
		entry(CodeDriftAging, warn,
			"Sustained drift away from the baseline indicates sensor aging",
			"Schedule recalibration"),
		entry(CodeSensorAging, warn,
			"Sustained drift indicates sensor aging",
			"Schedule recalibration and plan replacement"),

		entry(CodeProcessTurbulence, info,
			"Transient spikes caused by process turbulence",
			"No sensor action required; review process conditions"),
		entry(CodeProcessDisturbance, info,
			"Transient spikes caused by a process disturbance",
			"No sensor action required; review process conditions"),
		entry(CodeProcessPulsation, info,
			"Transient spikes caused by process pulsation",
			"Consider a pulsation dampener or snubber"),
		entry(CodeSlugFlow, info,
			"Transient spikes consistent with slug flow or a partially filled pipe",
			"Verify the pipe runs full at the meter location"),
		entry(CodeSensorFouling, warn,
			"Drift consistent with deposits on the sensing element",
			"Clean the sensing element and recalibrate"),

		entry(CodeReferenceLeak, warn,
			"Low-frequency instability consistent with a reference junction leak",
			"Inspect the reference junction and refill or replace the electrolyte"),
		entry(CodeCrackedGlass, crit,
			"Erratic high-frequency behaviour consistent with a cracked glass membrane",
			"Replace the pH electrode"),
		entry(CodeGroundLoopEMI, warn,
			"High-frequency noise consistent with a ground loop",
			"Check solution grounding and isolate the measurement loop"),
		entry(CodeElectrolyteDepletion, warn,
			"Drift consistent with electrolyte depletion",
			"Replenish the electrolyte and recalibrate"),

		entry(CodeAnodeDegradation, warn,
			"Low-frequency instability consistent with anode degradation",
			"Service the anode and recalibrate"),
		entry(CodeMembraneDamage, crit,
			"Erratic behaviour consistent with a damaged membrane",
			"Replace the membrane cap"),
		entry(CodeBubblesInSample, warn,
			"High-frequency noise consistent with bubbles at the membrane",
			"Adjust mounting angle and sample flow"),
		entry(CodeElectrolyteExhaustion, warn,
			"Drift consistent with electrolyte exhaustion",
			"Refill the electrolyte and recalibrate"),

		entry(CodeLinerDamage, crit,
			"Low-frequency instability consistent with liner damage",
			"Inspect the flow tube liner"),
		entry(CodeElectrodeFouling, warn,
			"Erratic behaviour consistent with electrode fouling",
			"Clean the measuring electrodes"),
		entry(CodeConductivityShift, warn,
			"Drift consistent with a change in fluid conductivity",
			"Verify fluid conductivity is above the meter minimum"),

		entry(CodeRTDDegradation, warn,
			"Low-frequency instability consistent with RTD element degradation",
			"Check element resistance and replace if out of tolerance"),
		entry(CodeThermowellDamage, crit,
			"Erratic behaviour consistent with thermowell damage",
			"Inspect the thermowell for erosion or cracking"),
		entry(CodeEMIInterference, warn,
			"High-frequency noise consistent with electromagnetic interference",
			"Check lead-wire shielding and grounding"),
		entry(CodeCalibrationShift, warn,
			"Drift consistent with a calibration shift",
			"Verify against a reference thermometer and recalibrate"),

		entry(CodeCapillaryBlockage, warn,
			"Low-frequency instability consistent with a blocked impulse line or capillary",
			"Blow down impulse lines and check seals"),
		entry(CodeDiaphragmRupture, crit,
			"Erratic behaviour consistent with a ruptured diaphragm",
			"Replace the pressure transmitter diaphragm"),
		entry(CodeZeroShift, warn,
			"Drift consistent with a zero shift",
			"Perform a zero trim"),

		entry(CodeCellFouling, warn,
			"Low-frequency instability consistent with conductivity cell fouling",
			"Clean the conductivity cell"),
		entry(CodeElectrodeAttack, crit,
			"Erratic behaviour consistent with chemical attack on the electrodes",
			"Replace the cell with a compatible electrode material"),
		entry(CodeInductiveCoupling, warn,
			"High-frequency noise consistent with inductive coupling",
			"Separate signal cables from power cables"),
		entry(CodeTempCompensationFail, warn,
			"Drift consistent with a temperature compensation failure",
			"Check the temperature element and compensation settings"),
	}

	c := make(Catalog, len(entries))
	for _, e := range entries {
		c[e.Code] = e
	}
	return c
}
