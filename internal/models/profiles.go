package models

import (
	"math"
	"strings"
)

// DisconnectSentinel is the code PLCs write when the input card loses the loop.
const DisconnectSentinel = -9999.0

// AllSensorTypes lists the built-in sensor types.
var AllSensorTypes = []SensorType{
	SensorPH,
	SensorConductivity,
	SensorViscosity,
	SensorFlow,
	SensorPressure,
	SensorDO,
	SensorTemperature,
	SensorGeneric,
}

type profileSpec struct {
	unit      string
	min, max  float64
	reference *float64
}

var profileSpecs = map[SensorType]profileSpec{
	SensorPH:           {unit: "pH", min: 0, max: 14, reference: floatPtr(7.0)},
	SensorConductivity: {unit: "µS/cm", min: 0, max: 20000},
	SensorViscosity:    {unit: "cP", min: 0, max: 100000},
	SensorFlow:         {unit: "m3/h", min: 0, max: 1000},
	SensorPressure:     {unit: "bar", min: 0, max: 400},
	SensorDO:           {unit: "mg/L", min: 0, max: 20},
	SensorTemperature:  {unit: "°C", min: -200, max: 850},
}

// DefaultProfile returns the built-in profile for t. Unknown types get the
// GENERIC profile, which has no physical range and only the disconnect
// sentinels.
func DefaultProfile(t SensorType) SensorProfile {
	spec, ok := profileSpecs[t]
	if !ok {
		return SensorProfile{
			Type:              SensorGeneric,
			RangeMin:          math.Inf(-1),
			RangeMax:          math.Inf(1),
			Sentinels:         []float64{DisconnectSentinel, -DisconnectSentinel},
			SentinelTolerance: 1e-6,
		}
	}
	span := spec.max - spec.min
	return SensorProfile{
		Type:      t,
		Unit:      spec.unit,
		RangeMin:  spec.min,
		RangeMax:  spec.max,
		Reference: spec.reference,
		// NAMUR NE43: 3.6 mA downscale and 21 mA upscale burnout.
		Sentinels: []float64{
			spec.min - 0.025*span,
			spec.max + 0.0625*span,
			DisconnectSentinel,
		},
		SentinelTolerance: span * 1e-4,
	}
}

// ParseSensorType maps free text ("pH Sensor", "mag flow", "Dissolved
// Oxygen") onto a SensorType. Anything unrecognised is GENERIC.
func ParseSensorType(s string) SensorType {
	n := strings.ToUpper(strings.TrimSpace(s))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)

	for _, t := range AllSensorTypes {
		if n == string(t) {
			return t
		}
	}

	switch {
	case n == "":
		return SensorGeneric
	case strings.Contains(n, "VISC"):
		return SensorViscosity
	case n == "DO" || strings.Contains(n, "OXYGEN"):
		return SensorDO
	case strings.HasPrefix(n, "PH"):
		return SensorPH
	case strings.Contains(n, "TEMP") || strings.Contains(n, "RTD"):
		return SensorTemperature
	case strings.Contains(n, "PRESS"):
		return SensorPressure
	case strings.Contains(n, "CONDUCT"):
		return SensorConductivity
	case strings.Contains(n, "FLOW") || strings.Contains(n, "CORIOLIS"):
		return SensorFlow
	}
	return SensorGeneric
}

// Valid reports whether t is one of the built-in types.
func (t SensorType) Valid() bool {
	_, ok := profileSpecs[t]
	return ok || t == SensorGeneric
}

func floatPtr(v float64) *float64 { return &v }
