package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/sensordx/pkg/types"
)

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func TestDiagnosisStreamFiltersBySensor(t *testing.T) {
	_, ts := newTestServer(t, nil)
	for _, id := range []string{"a", "b"} {
		resp := do(t, ts, http.MethodPost, "/api/v1/sensors", types.RegisterSensorRequest{ID: id, Type: "PH"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/diagnoses?sensor_id=a"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is taken right after the handshake, so keep
	// producing diagnoses until one arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		samples := nullable(signal(100, 9))
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			for _, id := range []string{"b", "a"} {
				resp := doQuiet(ts, "/api/v1/diagnose", types.DiagnoseRequest{SensorID: id, Samples: samples})
				if resp != nil {
					resp.Body.Close()
				}
			}
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < 3; i++ {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, MessageTypeDiagnosis, msg.Type)
		require.NotNil(t, msg.Diagnosis)
		assert.Equal(t, "a", msg.Diagnosis.SensorID)
	}
}

func TestDiagnosisStreamRejectsOrigin(t *testing.T) {
	_, ts := newTestServer(t, nil)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/diagnoses"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDiagnosisStreamRejectsBadFilter(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp := do(t, ts, http.MethodGet, "/ws/diagnoses?sensor_id=a%20b", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
