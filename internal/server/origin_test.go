package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiagnosisStreamOrigins(t *testing.T) {
	plant := []string{"https://hmi.line3.plant.local", "https://historian.plant.local:8443/"}

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"dev dashboard", nil, "http://localhost:5173", true},
		{"dev console", nil, "http://localhost:3000", true},
		{"unlisted dev port", nil, "http://localhost:9000", false},
		{"plant hmi without config", nil, "https://hmi.line3.plant.local", false},

		{"line 3 hmi", plant, "https://hmi.line3.plant.local", true},
		{"historian with port", plant, "https://historian.plant.local:8443", true},
		{"historian mixed case", plant, "https://Historian.Plant.Local:8443", true},
		{"historian wrong port", plant, "https://historian.plant.local", false},
		{"other line hmi", plant, "https://hmi.line4.plant.local", false},
		{"dev origin once plant list set", plant, "http://localhost:5173", false},

		{"open stream", []string{"*"}, "https://contractor-laptop.example", true},

		// Edge gateways and CLI clients send no Origin.
		{"gateway without origin", plant, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/diagnoses?sensor_id=line3.ph-01", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, newUpgrader(tt.allowed).CheckOrigin(r), tt.origin)
		})
	}
}
