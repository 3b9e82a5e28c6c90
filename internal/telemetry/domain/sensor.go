package telemetry

// SensorType identifies the physical quantity a reading measures.
type SensorType string

const (
	SensorFlow            SensorType = "flow"
	SensorPressure        SensorType = "pressure"
	SensorTemperature     SensorType = "temperature"
	SensorHumidity        SensorType = "humidity"
	SensorPH              SensorType = "ph"
	SensorTurbidity       SensorType = "turbidity"
	SensorDissolvedOxygen SensorType = "dissolvedOxygen"
	SensorConductivity    SensorType = "conductivity"
)

// UnknownUnit is returned for sensor types without a unit mapping.
const UnknownUnit = "unknown"

var sensorUnits = map[SensorType]string{
	SensorFlow:            "L/min",
	SensorPressure:        "bar",
	SensorTemperature:     "°C",
	SensorHumidity:        "%",
	SensorPH:              "pH",
	SensorTurbidity:       "NTU",
	SensorDissolvedOxygen: "mg/L",
	SensorConductivity:    "µS/cm",
}

// SensorTypes returns the accepted sensor types in declaration order.
func SensorTypes() []SensorType {
	return []SensorType{
		SensorFlow,
		SensorPressure,
		SensorTemperature,
		SensorHumidity,
		SensorPH,
		SensorTurbidity,
		SensorDissolvedOxygen,
		SensorConductivity,
	}
}

// ParseSensorType validates a sensor type tag. Matching is case-sensitive.
func ParseSensorType(value string) (SensorType, bool) {
	sensorType := SensorType(value)
	if _, ok := sensorUnits[sensorType]; !ok {
		return "", false
	}
	return sensorType, true
}

// ResolveUnit maps a sensor type to its physical unit.
func ResolveUnit(sensorType SensorType) string {
	if unit, ok := sensorUnits[sensorType]; ok {
		return unit
	}
	return UnknownUnit
}
