// Package api provides the REST API server for blendmidi
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/james-see/blendmidi/pkg/codec"
	"github.com/james-see/blendmidi/pkg/codec/devices"
	"github.com/james-see/blendmidi/pkg/telemetry"
	"github.com/james-see/blendmidi/pkg/trigger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title BlendMIDI API
// @version 1.0
// @description API for decoding and encoding MIDI 1.0 frames for control surfaces
// @host localhost:8080
// @BasePath /api/v1

// Service holds the dependencies shared by the handlers
type Service struct {
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	// Hub receives live decoded blocks for /api/v1/events
	Hub *Hub
	// BlockSize bounds frame timestamps on the encode endpoints; 0 disables the check
	BlockSize uint32

	surfaces map[string]*surfaceKit
}

// surfaceKit is the read-only per-surface state shared by all requests
type surfaceKit struct {
	surface     devices.Surface
	table       *trigger.Table
	mapper      *trigger.Mapper
	initializer *devices.Initializer
}

// buildSurfaces builds the trigger table and connect sequence of every
// registered surface once
func (s *Service) buildSurfaces() {
	s.surfaces = make(map[string]*surfaceKit)
	for _, id := range devices.Names() {
		surface, err := devices.Lookup(id)
		if err != nil {
			continue
		}
		table, err := trigger.NewTable(surface.Rules()...)
		if err != nil {
			s.Logger.Error("invalid trigger table, surface disabled", "surface", id, "error", err)
			continue
		}
		enc := codec.NewEncoder(s.BlockSize)
		s.surfaces[surface.ID()] = &surfaceKit{
			surface:     surface,
			table:       table,
			mapper:      trigger.NewMapper(table, enc, s.Logger).CountFailures(s.Metrics.EncodeFailures),
			initializer: devices.NewInitializer(surface, enc),
		}
	}
}

// surface resolves a surface name or alias to its prebuilt state
func (s *Service) surface(name string) (*surfaceKit, error) {
	surface, err := devices.Lookup(name)
	if err != nil {
		return nil, err
	}
	kit, ok := s.surfaces[surface.ID()]
	if !ok {
		return nil, fmt.Errorf("surface %q is not available", surface.ID())
	}
	return kit, nil
}

// StartServer starts the API server on the specified port
func StartServer(port int, svc *Service) error {
	return NewRouter(svc).Run(fmt.Sprintf(":%d", port))
}

// NewRouter builds the gin engine with every route registered
func NewRouter(svc *Service) *gin.Engine {
	if svc == nil {
		svc = &Service{}
	}
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	if svc.Metrics == nil {
		svc.Metrics = telemetry.NewMetrics()
	}
	if svc.Hub == nil {
		svc.Hub = NewHub(svc.Logger, svc.Metrics)
	}
	svc.buildSurfaces()

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(svc.Logger))

	// CORS middleware
	r.Use(corsMiddleware())

	r.GET("/health", healthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svc.Metrics.Registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.POST("/decode", svc.handleDecode)
		v1.POST("/encode/value", svc.handleEncodeValue)
		v1.POST("/encode/sysex", svc.handleEncodeSysex)
		v1.POST("/trigger", svc.handleTrigger)
		v1.GET("/devices", svc.listDevices)
		v1.GET("/devices/:name/init", svc.handleDeviceInit)
		v1.GET("/events", svc.Hub.handleEvents)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "blendmidi",
	})
}

// DecodeRequest is a batch of hex encoded frames in arrival order
type DecodeRequest struct {
	Frames []string `json:"frames" binding:"required"`
}

// EventJSON is the wire form of a decoded channel event
type EventJSON struct {
	Channel    uint8      `json:"channel"`
	Kind       string     `json:"kind"`
	Time       uint32     `json:"time"`
	Note       string     `json:"note,omitempty"`
	Value      float64    `json:"value"`
	Controller *uint8     `json:"controller,omitempty"`
	Resolution int        `json:"resolution,omitempty"`
	Raw        uint16     `json:"raw"`
	SysEx      *SysExJSON `json:"sysex,omitempty"`
}

// SysExJSON describes a terminated sysex frame
type SysExJSON struct {
	Manufacturer string `json:"manufacturer,omitempty"`
	LCDPosition  *uint8 `json:"lcd_position,omitempty"`
	Text         string `json:"text,omitempty"`
}

// ConditionJSON is the wire form of a decode condition
type ConditionJSON struct {
	Kind  string `json:"kind"`
	Index int    `json:"index"`
	Frame string `json:"frame"`
}

// DecodeResponse lists events per channel plus the recorded conditions
type DecodeResponse struct {
	Channels   map[int][]EventJSON `json:"channels"`
	Conditions []ConditionJSON     `json:"conditions"`
	Fatal      bool                `json:"fatal"`
}

// FramesResponse carries encoded frames as hex strings
type FramesResponse struct {
	Frames []string `json:"frames"`
}

func eventJSON(ev codec.ChannelEvent) EventJSON {
	out := EventJSON{
		Channel:    ev.Channel,
		Kind:       ev.Kind.String(),
		Time:       ev.Time,
		Value:      ev.Value,
		Resolution: ev.Resolution,
		Raw:        ev.Raw,
	}
	switch ev.Kind {
	case codec.KindNoteOn, codec.KindNoteOff, codec.KindPolyPressure:
		out.Note = ev.Note.String()
	case codec.KindControlChange:
		controller := ev.Controller
		out.Controller = &controller
	case codec.KindSysExBoundary:
		if ev.SysEx != nil {
			sx := &SysExJSON{Manufacturer: fmt.Sprintf("% X", ev.SysEx.Manufacturer)}
			if ev.SysEx.LCD {
				pos := ev.SysEx.LCDPosition
				sx.LCDPosition = &pos
				sx.Text = ev.SysEx.Text
			}
			out.SysEx = sx
		}
	}
	return out
}

func framesJSON(frames []codec.RawFrame) FramesResponse {
	out := FramesResponse{Frames: make([]string, 0, len(frames))}
	for _, f := range frames {
		out.Frames = append(out.Frames, f.Hex())
	}
	return out
}

// handleDecode godoc
// @Summary Decode raw frames
// @Description Decodes a batch of hex frames into per-channel events. 14-bit controller pairs are joined.
// @Tags codec
// @Accept json
// @Produce json
// @Param request body DecodeRequest true "Frames in arrival order"
// @Success 200 {object} DecodeResponse
// @Failure 400 {object} map[string]string
// @Router /api/v1/decode [post]
func (s *Service) handleDecode(c *gin.Context) {
	var req DecodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frames := make([]codec.RawFrame, 0, len(req.Frames))
	for i, h := range req.Frames {
		f, err := codec.ParseFrame(h, uint32(i))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		frames = append(frames, f)
	}
	s.Metrics.FramesIn.Add(float64(len(frames)))

	_, res, err := codec.DecodeBatch(codec.PairingState{}, frames, s.Logger, s.Metrics)
	resp := DecodeResponse{
		Channels:   map[int][]EventJSON{},
		Conditions: []ConditionJSON{},
		Fatal:      errors.Is(err, codec.ErrFatalShutdown),
	}
	for ch := 1; ch <= codec.NumChannels; ch++ {
		for _, ev := range res.Events.For(uint8(ch)) {
			resp.Channels[ch] = append(resp.Channels[ch], eventJSON(ev))
		}
	}
	for _, cond := range res.Conditions {
		resp.Conditions = append(resp.Conditions, ConditionJSON{
			Kind:  cond.Kind.String(),
			Index: cond.Index,
			Frame: cond.Frame.Hex(),
		})
	}
	if resp.Fatal {
		s.Metrics.FatalShutdowns.Inc()
	}
	c.JSON(http.StatusOK, resp)
}

// EncodeValueRequest asks for a pitch bend or 14-bit controller frame
type EncodeValueRequest struct {
	Channel    uint8   `json:"channel" binding:"required,min=1,max=16"`
	Value      float64 `json:"value" binding:"min=0,max=1"`
	Controller *uint8  `json:"controller,omitempty"`
	Time       uint32  `json:"time"`
}

// handleEncodeValue godoc
// @Summary Encode a normalized value
// @Description Encodes a value in [0,1] as pitch bend, or as a 14-bit controller pair when controller is set
// @Tags codec
// @Accept json
// @Produce json
// @Param request body EncodeValueRequest true "Value to encode"
// @Success 200 {object} FramesResponse
// @Failure 400 {object} map[string]string
// @Router /api/v1/encode/value [post]
func (s *Service) handleEncodeValue(c *gin.Context) {
	var req EncodeValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enc := codec.NewEncoder(s.BlockSize)
	var frames []codec.RawFrame
	if req.Controller != nil {
		pair, err := enc.ControlChange14(req.Channel, *req.Controller, req.Value, req.Time)
		if err != nil {
			s.encodeFailed(c, err)
			return
		}
		frames = pair[:]
	} else {
		f, err := enc.PitchBend(req.Channel, req.Value, req.Time)
		if err != nil {
			s.encodeFailed(c, err)
			return
		}
		frames = []codec.RawFrame{f}
	}
	c.JSON(http.StatusOK, framesJSON(frames))
}

// EncodeSysexRequest asks for an LCD text frame
type EncodeSysexRequest struct {
	LCD  int    `json:"lcd" binding:"required,min=1,max=8"`
	Line int    `json:"line" binding:"required,min=1,max=2"`
	Text string `json:"text"`
	Time uint32 `json:"time"`
}

// handleEncodeSysex godoc
// @Summary Encode LCD text
// @Description Builds a Mackie Control LCD sysex frame for the given strip and line
// @Tags codec
// @Accept json
// @Produce json
// @Param request body EncodeSysexRequest true "Text to display"
// @Success 200 {object} FramesResponse
// @Failure 400 {object} map[string]string
// @Router /api/v1/encode/sysex [post]
func (s *Service) handleEncodeSysex(c *gin.Context) {
	var req EncodeSysexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := codec.NewEncoder(s.BlockSize).SysexText(req.LCD, req.Line, req.Text, req.Time)
	if err != nil {
		s.encodeFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, framesJSON([]codec.RawFrame{f}))
}

// TriggerRequest evaluates frames against a surface's trigger table
type TriggerRequest struct {
	Device string   `json:"device"`
	Frames []string `json:"frames" binding:"required"`
}

// handleTrigger godoc
// @Summary Evaluate triggers
// @Description Runs the surface's trigger table over the frames and returns the outbound frames
// @Tags codec
// @Accept json
// @Produce json
// @Param request body TriggerRequest true "Device and input frames"
// @Success 200 {object} FramesResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/trigger [post]
func (s *Service) handleTrigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Device == "" {
		req.Device = "mackie"
	}
	kit, err := s.surface(req.Device)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	frames := make([]codec.RawFrame, 0, len(req.Frames))
	for i, h := range req.Frames {
		f, err := codec.ParseFrame(h, uint32(i))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		frames = append(frames, f)
	}

	out := kit.mapper.EvaluateAll(frames)
	s.Metrics.FramesOut.Add(float64(len(out)))
	c.JSON(http.StatusOK, framesJSON(out))
}

// DeviceJSON describes a supported surface
type DeviceJSON struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Triggers    []string `json:"triggers"`
}

// listDevices godoc
// @Summary List supported surfaces
// @Description Returns the control surfaces with their trigger rules
// @Tags info
// @Produce json
// @Success 200 {object} map[string][]DeviceJSON
// @Router /api/v1/devices [get]
func (s *Service) listDevices(c *gin.Context) {
	list := []DeviceJSON{}
	for _, id := range devices.Names() {
		kit, err := s.surface(id)
		if err != nil {
			continue
		}
		d := DeviceJSON{
			ID:          kit.surface.ID(),
			Name:        kit.surface.Name(),
			Description: kit.surface.Description(),
			Triggers:    []string{},
		}
		for _, r := range kit.table.Rules() {
			d.Triggers = append(d.Triggers, fmt.Sprintf("%s: [% X] -> %02X %s", r.Label, r.Pattern, r.Status, r.Mode))
		}
		list = append(list, d)
	}
	c.JSON(http.StatusOK, gin.H{"devices": list})
}

// handleDeviceInit godoc
// @Summary Connect sequence
// @Description Returns the frames sent to the surface when a stream starts
// @Tags info
// @Produce json
// @Param name path string true "Surface id"
// @Success 200 {object} FramesResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/devices/{name}/init [get]
func (s *Service) handleDeviceInit(c *gin.Context) {
	kit, err := s.surface(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	seq, err := kit.initializer.BuildConnectSequence()
	if err != nil {
		s.encodeFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, framesJSON(seq))
}

func (s *Service) encodeFailed(c *gin.Context, err error) {
	s.Metrics.EncodeFailures.Inc()
	status := http.StatusInternalServerError
	if errors.Is(err, codec.ErrEncode) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
