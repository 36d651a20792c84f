package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/james-see/blendmidi/pkg/codec/devices"
	"github.com/james-see/blendmidi/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := &Service{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: telemetry.NewMetrics(),
	}
	return NewRouter(svc), svc
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodOptions, "/api/v1/decode", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDecode(t *testing.T) {
	r, svc := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/v1/decode", DecodeRequest{
		Frames: []string{"B0 07 40", "B0 27 00", "91 15 7F", "C0 05", "F3 01"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp DecodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Fatal)

	require.Len(t, resp.Channels[1], 1)
	cc := resp.Channels[1][0]
	assert.Equal(t, "control_change", cc.Kind)
	assert.Equal(t, 14, cc.Resolution)
	assert.Equal(t, 0.5, cc.Value)

	require.Len(t, resp.Channels[2], 1)
	assert.Equal(t, "A0", resp.Channels[2][0].Note)
	assert.Equal(t, 1.0, resp.Channels[2][0].Value)

	require.Len(t, resp.Conditions, 1)
	assert.Equal(t, "unknown_status", resp.Conditions[0].Kind)
	assert.Equal(t, 4, resp.Conditions[0].Index)

	assert.Equal(t, 5.0, testutil.ToFloat64(svc.Metrics.FramesIn))
}

func TestDecodeControllerNumbers(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/v1/decode", DecodeRequest{
		Frames: []string{"B0 00 10", "B0 20 05", "B0 40 7F"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"controller":0,`)

	var resp DecodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Channels[1], 2)

	bank := resp.Channels[1][0]
	require.NotNil(t, bank.Controller)
	assert.Equal(t, uint8(0), *bank.Controller)
	assert.Equal(t, 14, bank.Resolution)
	assert.Equal(t, uint16(0x10<<7|0x05), bank.Raw)

	sustain := resp.Channels[1][1]
	require.NotNil(t, sustain.Controller)
	assert.Equal(t, uint8(64), *sustain.Controller)
}

func TestDecodeSysexText(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/v1/decode", DecodeRequest{
		Frames: []string{"F0 00 00 66 14 12 3F 48 69 F7", "90 3C 64"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp DecodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Channels[1], 2)

	sx := resp.Channels[1][0]
	assert.Equal(t, "sysex", sx.Kind)
	assert.Nil(t, sx.Controller)
	require.NotNil(t, sx.SysEx)
	assert.Equal(t, "00 00 66", sx.SysEx.Manufacturer)
	require.NotNil(t, sx.SysEx.LCDPosition)
	assert.Equal(t, uint8(63), *sx.SysEx.LCDPosition)
	assert.Equal(t, "Hi", sx.SysEx.Text)

	assert.Nil(t, resp.Channels[1][1].Controller, "note events carry no controller")
}

func TestDecodeFatal(t *testing.T) {
	r, svc := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/v1/decode", DecodeRequest{Frames: []string{"90 3C 64", "FF", "90 3E 64"}})
	require.Equal(t, http.StatusOK, w.Code)

	var resp DecodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Fatal)
	assert.Len(t, resp.Channels[1], 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.Metrics.FatalShutdowns))
}

func TestDecodeBadHex(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/v1/decode", DecodeRequest{Frames: []string{"not hex"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEncodeValue(t *testing.T) {
	r, _ := newTestRouter(t)
	ctrl := uint8(7)
	tests := []struct {
		name string
		req  EncodeValueRequest
		code int
		want []string
	}{
		{"pitch bend centre", EncodeValueRequest{Channel: 1, Value: 0.5}, http.StatusOK, []string{"E0 00 40"}},
		{"pitch bend max", EncodeValueRequest{Channel: 3, Value: 1}, http.StatusOK, []string{"E2 7F 7F"}},
		{"14-bit controller", EncodeValueRequest{Channel: 1, Value: 0.5, Controller: &ctrl}, http.StatusOK, []string{"B0 07 40", "B0 27 00"}},
		{"bad channel", EncodeValueRequest{Channel: 17, Value: 0.5}, http.StatusBadRequest, nil},
		{"value above one", EncodeValueRequest{Channel: 1, Value: 1.5}, http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/v1/encode/value", tt.req)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.want == nil {
				return
			}
			var resp FramesResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Frames)
		})
	}
}

func TestEncodeSysex(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/v1/encode/sysex", EncodeSysexRequest{LCD: 2, Line: 2, Text: "Hi"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp FramesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// strip 2 on line 2 starts at ((2-1)+(2-1)*8)*7 = 63
	assert.Equal(t, []string{"F0 00 00 66 14 12 3F 48 69 F7"}, resp.Frames)

	w = do(t, r, http.MethodPost, "/api/v1/encode/sysex", EncodeSysexRequest{LCD: 1, Line: 1, Text: strings.Repeat("x", 57)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrigger(t *testing.T) {
	r, svc := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/v1/trigger", TriggerRequest{
		Frames: []string{"B0 3C 41", "B0 3C 42", "B0 3C 01"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp FramesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"E0 00 00", "E0 7F 7F"}, resp.Frames)
	assert.Equal(t, 2.0, testutil.ToFloat64(svc.Metrics.FramesOut))

	w = do(t, r, http.MethodPost, "/api/v1/trigger", TriggerRequest{Device: "nope", Frames: []string{"B0 3C 41"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDevices(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/api/v1/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Devices []DeviceJSON `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, len(devices.Names()))
	assert.Equal(t, "generic", resp.Devices[0].ID)
	assert.Equal(t, "mackie", resp.Devices[1].ID)
	assert.Equal(t, []string{
		"CC #60 CW: [B0 3C 01] -> E0 fixed",
		"CC #60 CCW: [B0 3C 41] -> E0 fixed",
	}, resp.Devices[1].Triggers)
}

func TestTriggerEncodeFailureCounted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &Service{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   telemetry.NewMetrics(),
		BlockSize: 2,
	}
	r := NewRouter(svc)

	// frame times follow their position, so the third frame lands outside the block
	w := do(t, r, http.MethodPost, "/api/v1/trigger", TriggerRequest{
		Frames: []string{"B0 3C 41", "B0 00 00", "B0 3C 01"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp FramesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"E0 00 00"}, resp.Frames)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.Metrics.EncodeFailures))
}

func TestDeviceInit(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/api/v1/devices/mcu/init", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp FramesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Frames, devices.MackieFaders+1)
	assert.Equal(t, "E0 00 00", resp.Frames[0])
	assert.True(t, strings.HasPrefix(resp.Frames[len(resp.Frames)-1], "F0 00 00 66 14 12"))

	w = do(t, r, http.MethodGet, "/api/v1/devices/unknown/init", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	do(t, r, http.MethodPost, "/api/v1/decode", DecodeRequest{Frames: []string{"90 3C 64"}})

	w := do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "blendmidi_frames_received_total")
}
