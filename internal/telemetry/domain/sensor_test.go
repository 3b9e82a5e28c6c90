package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveUnit(t *testing.T) {
	cases := map[SensorType]string{
		SensorFlow:            "L/min",
		SensorPressure:        "bar",
		SensorTemperature:     "°C",
		SensorHumidity:        "%",
		SensorPH:              "pH",
		SensorTurbidity:       "NTU",
		SensorDissolvedOxygen: "mg/L",
		SensorConductivity:    "µS/cm",
	}
	for sensorType, want := range cases {
		require.Equal(t, want, ResolveUnit(sensorType), sensorType)
		// Repeat calls must not observe hidden state.
		require.Equal(t, ResolveUnit(sensorType), ResolveUnit(sensorType))
	}
	require.Len(t, SensorTypes(), len(cases))
}

func TestResolveUnitUnknownFallsBack(t *testing.T) {
	require.Equal(t, UnknownUnit, ResolveUnit("radiation"))
	require.Equal(t, UnknownUnit, ResolveUnit(""))
}

func TestParseSensorTypeIsCaseSensitive(t *testing.T) {
	got, ok := ParseSensorType("dissolvedOxygen")
	require.True(t, ok)
	require.Equal(t, SensorDissolvedOxygen, got)

	_, ok = ParseSensorType("Temperature")
	require.False(t, ok)
}
