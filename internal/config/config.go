// Package config decodes and validates the nested pipeline
// configuration (spec.md §6.3): baseSensor, service, sensors.{depth,
// color,body,infrared}, device, frameSync, network.websocket,
// debug.{logLevel,logging,performance}.
//
// Grounded on cmd/driver/config.go's Config.Check(path) pattern
// (default-filling plus fail-fast validation), generalized from a flat
// struct to nested sections and decoded with gopkg.in/yaml.v3 instead
// of the teacher's json/toml/yaml struct-tag triple (this system has
// one config format, not three).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brightlinelabs/depthstream/internal/bufferpool"
	"github.com/brightlinelabs/depthstream/internal/broadcast"
	"github.com/brightlinelabs/depthstream/internal/framesync"
	"github.com/brightlinelabs/depthstream/internal/model"
	"github.com/brightlinelabs/depthstream/internal/sensor"
	"github.com/brightlinelabs/depthstream/internal/worker"
)

// Config is the root of the decoded configuration file.
type Config struct {
	BaseSensor BaseSensorConfig `yaml:"baseSensor"`
	Service    ServiceConfig    `yaml:"service"`
	Sensors    SensorsConfig    `yaml:"sensors"`
	Device     DeviceConfig     `yaml:"device"`
	FrameSync  FrameSyncConfig  `yaml:"frameSync"`
	Network    NetworkConfig    `yaml:"network"`
	Debug      DebugConfig      `yaml:"debug"`
}

// BaseSensorConfig is the default tuning every sensor inherits unless
// it declares its own override (spec.md §4.3).
type BaseSensorConfig struct {
	QueueMax              int `yaml:"queueMax"`
	HealthCheckIntervalMs int `yaml:"healthCheckIntervalMs"`
	FrameTimeoutMs        int `yaml:"frameTimeoutMs"`
	MaxRestarts           int `yaml:"maxRestarts"`
	InitialPoolSize       int `yaml:"initialPoolSize"`
	ExpandPoolSize        int `yaml:"expandPoolSize"`
	MaxPoolSize           int `yaml:"maxPoolSize"`
}

// ServiceConfig names the OS service when installed via kardianos/service.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"displayName"`
	Description string `yaml:"description"`
}

// SensorsConfig holds the per-kind sections.
type SensorsConfig struct {
	Depth    DepthSensorConfig `yaml:"depth"`
	Color    ColorSensorConfig `yaml:"color"`
	Body     BodySensorConfig  `yaml:"body"`
	Infrared IRSensorConfig    `yaml:"infrared"`
}

type sensorBase struct {
	Enabled   bool              `yaml:"enabled"`
	BaseSensor *BaseSensorConfig `yaml:"baseSensor"`
}

type DepthSensorConfig struct {
	sensorBase  `yaml:",inline"`
	MinDistance int     `yaml:"minDistance"`
	MaxDistance int     `yaml:"maxDistance"`
	Normalize   bool    `yaml:"normalize"`
	Gamma       float64 `yaml:"gamma"`
	PointCloud  bool    `yaml:"pointCloud"`
	Colorize    bool    `yaml:"colorize"`
	PrincipalX  float64 `yaml:"principalX"`
	PrincipalY  float64 `yaml:"principalY"`
	FocalLen    float64 `yaml:"focalLength"`
}

type ColorSensorConfig struct {
	sensorBase  `yaml:",inline"`
	ForceAlpha  bool `yaml:"forceAlpha"`
	Compress    bool `yaml:"compress"`
	JPEGQuality int  `yaml:"jpegQuality"`
}

type BodySensorConfig struct {
	sensorBase        `yaml:",inline"`
	MaxDeviation      float64 `yaml:"maxDeviation"`
	JitterRadius      float64 `yaml:"jitterRadius"`
	GestureThreshold  float64 `yaml:"gestureThreshold"`
	ComputeVelocity   bool    `yaml:"computeVelocity"`
	ComputeCOM        bool    `yaml:"computeCenterOfMass"`
	ComputeConfidence bool    `yaml:"computeConfidence"`
}

type IRSensorConfig struct {
	sensorBase `yaml:",inline"`
	Gamma      float64 `yaml:"gamma"`
}

// DeviceConfig selects the driver implementation.
type DeviceConfig struct {
	Simulated bool `yaml:"simulated"`
	FPS       int  `yaml:"fps"`
}

// FrameSyncConfig configures the MultiSourceSynchronizer (spec.md §4.4).
type FrameSyncConfig struct {
	Required      []string `yaml:"required"`
	SyncWindowMs  int64    `yaml:"syncWindowMs"`
	DropAfterMs   int64    `yaml:"dropAfterMs"`
	BufferSize    int      `yaml:"bufferSize"`
}

// NetworkConfig wraps the subscriber transport (spec.md §4.5).
type NetworkConfig struct {
	Websocket WebsocketConfig `yaml:"websocket"`
}

type WebsocketConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	IdentificationTimeoutMs int    `yaml:"identificationTimeoutMs"`
}

// DebugConfig controls logging and optional profiling surfaces
// (SPEC_FULL §4.8–§4.11).
type DebugConfig struct {
	LogLevel    string        `yaml:"logLevel"`
	Logging     LoggingConfig `yaml:"logging"`
	Performance bool          `yaml:"performance"`
}

type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Load reads and decodes the config file at path, fills in defaults
// and validates. Contradictory values are construction errors
// (spec.md §6.3); every violation is accumulated, not just the first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaseSensor.QueueMax <= 0 {
		c.BaseSensor.QueueMax = 4
	}
	if c.BaseSensor.HealthCheckIntervalMs <= 0 {
		c.BaseSensor.HealthCheckIntervalMs = 5000
	}
	if c.BaseSensor.FrameTimeoutMs <= 0 {
		c.BaseSensor.FrameTimeoutMs = 2000
	}
	if c.BaseSensor.MaxRestarts <= 0 {
		c.BaseSensor.MaxRestarts = 3
	}
	if c.BaseSensor.InitialPoolSize <= 0 {
		c.BaseSensor.InitialPoolSize = 4
	}
	if c.BaseSensor.ExpandPoolSize <= 0 {
		c.BaseSensor.ExpandPoolSize = 2
	}
	if c.BaseSensor.MaxPoolSize <= 0 {
		c.BaseSensor.MaxPoolSize = 32
	}
	if c.Service.Name == "" {
		c.Service.Name = "depthstreamd"
	}
	if c.Device.FPS <= 0 {
		c.Device.FPS = 30
	}
	if len(c.FrameSync.Required) == 0 {
		c.FrameSync.Required = []string{"depth"}
	}
	if c.FrameSync.SyncWindowMs <= 0 {
		c.FrameSync.SyncWindowMs = 33
	}
	if c.FrameSync.DropAfterMs <= 0 {
		c.FrameSync.DropAfterMs = 200
	}
	if c.FrameSync.BufferSize <= 0 {
		c.FrameSync.BufferSize = len(c.FrameSync.Required)
	}
	if c.Network.Websocket.Host == "" {
		c.Network.Websocket.Host = "0.0.0.0"
	}
	if c.Network.Websocket.Port <= 0 {
		c.Network.Websocket.Port = 9999
	}
	if c.Network.Websocket.IdentificationTimeoutMs <= 0 {
		c.Network.Websocket.IdentificationTimeoutMs = 10000
	}
	if c.Debug.LogLevel == "" {
		c.Debug.LogLevel = "info"
	}
	if c.Debug.Logging.MaxSizeMB <= 0 {
		c.Debug.Logging.MaxSizeMB = 100
	}
	if c.Debug.Logging.MaxBackups <= 0 {
		c.Debug.Logging.MaxBackups = 5
	}
	if c.Debug.Logging.MaxAgeDays <= 0 {
		c.Debug.Logging.MaxAgeDays = 28
	}
	if c.Sensors.Color.JPEGQuality <= 0 {
		c.Sensors.Color.JPEGQuality = 85
	}
}

// Validate accumulates every contradictory value instead of failing
// on the first (SPEC_FULL §4.7).
func (c *Config) Validate() error {
	var errs []error

	if c.BaseSensor.InitialPoolSize > c.BaseSensor.MaxPoolSize {
		errs = append(errs, fmt.Errorf("config: baseSensor.initialPoolSize (%d) > baseSensor.maxPoolSize (%d)", c.BaseSensor.InitialPoolSize, c.BaseSensor.MaxPoolSize))
	}
	if c.Sensors.Depth.Enabled && c.Sensors.Depth.MinDistance > c.Sensors.Depth.MaxDistance && c.Sensors.Depth.MaxDistance != 0 {
		errs = append(errs, fmt.Errorf("config: sensors.depth.minDistance (%d) > sensors.depth.maxDistance (%d)", c.Sensors.Depth.MinDistance, c.Sensors.Depth.MaxDistance))
	}
	if len(c.FrameSync.Required) == 0 {
		errs = append(errs, errors.New("config: frameSync.required must name at least one kind"))
	}
	for _, k := range c.FrameSync.Required {
		if !model.StreamKind(k).Valid() {
			errs = append(errs, fmt.Errorf("config: frameSync.required names unknown kind %q", k))
		}
	}
	if c.Network.Websocket.Port < 0 || c.Network.Websocket.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: network.websocket.port %d out of range", c.Network.Websocket.Port))
	}
	if c.Sensors.Color.JPEGQuality < 1 || c.Sensors.Color.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("config: sensors.color.jpegQuality %d out of range [1,100]", c.Sensors.Color.JPEGQuality))
	}

	return errors.Join(errs...)
}

// SensorConfig builds a sensor.Config for kind, applying the kind's
// override over baseSensor if present.
func (c *Config) SensorConfig(kind model.StreamKind) sensor.Config {
	base := c.BaseSensor
	var override *BaseSensorConfig
	switch kind {
	case model.KindDepth:
		override = c.Sensors.Depth.BaseSensor
	case model.KindColor:
		override = c.Sensors.Color.BaseSensor
	case model.KindBody:
		override = c.Sensors.Body.BaseSensor
	case model.KindInfrared:
		override = c.Sensors.Infrared.BaseSensor
	}
	if override != nil {
		base = *override
	}
	return sensor.Config{
		QueueMax:            base.QueueMax,
		HealthCheckInterval: time.Duration(base.HealthCheckIntervalMs) * time.Millisecond,
		FrameTimeout:        time.Duration(base.FrameTimeoutMs) * time.Millisecond,
		MaxRestarts:         base.MaxRestarts,
	}
}

// BufferSpecs builds the pool specs for every enabled non-body kind
// (spec.md §4.1).
func (c *Config) BufferSpecs() []bufferpool.BufferSpec {
	var specs []bufferpool.BufferSpec
	if c.Sensors.Depth.Enabled {
		geo := model.Geometry(model.KindDepth)
		specs = append(specs, bufferpool.BufferSpec{Kind: model.KindDepth, ElementWidth: geo.BytesPerPixel, ElementCount: geo.Width * geo.Height, InitialSize: c.BaseSensor.InitialPoolSize, ExpandSize: c.BaseSensor.ExpandPoolSize})
	}
	if c.Sensors.Infrared.Enabled {
		geo := model.Geometry(model.KindInfrared)
		specs = append(specs, bufferpool.BufferSpec{Kind: model.KindInfrared, ElementWidth: geo.BytesPerPixel, ElementCount: geo.Width * geo.Height, InitialSize: c.BaseSensor.InitialPoolSize, ExpandSize: c.BaseSensor.ExpandPoolSize})
	}
	if c.Sensors.Color.Enabled {
		geo := model.Geometry(model.KindColor)
		specs = append(specs, bufferpool.BufferSpec{Kind: model.KindColor, ElementWidth: geo.BytesPerPixel, ElementCount: geo.Width * geo.Height, InitialSize: c.BaseSensor.InitialPoolSize, ExpandSize: c.BaseSensor.ExpandPoolSize})
	}
	return specs
}

// DepthParams builds the depth worker's processing parameters.
func (c *Config) DepthParams() worker.DepthParams {
	d := c.Sensors.Depth
	p := worker.DepthParams{
		MinDistance: uint16(d.MinDistance),
		MaxDistance: uint16(d.MaxDistance),
		Normalize:   d.Normalize,
		Gamma:       d.Gamma,
		PointCloud:  d.PointCloud,
		Colorize:    d.Colorize,
		Calibration: worker.Calibration{PrincipalX: d.PrincipalX, PrincipalY: d.PrincipalY, FocalLen: d.FocalLen},
	}
	if d.Colorize {
		p.ColorRamp = defaultColorRamp()
	}
	return p
}

func defaultColorRamp() []model.Vec3 {
	return []model.Vec3{
		{X: 0, Y: 0, Z: 128},
		{X: 0, Y: 128, Z: 255},
		{X: 0, Y: 255, Z: 128},
		{X: 255, Y: 255, Z: 0},
		{X: 255, Y: 0, Z: 0},
	}
}

// IRParams builds the infrared worker's processing parameters.
func (c *Config) IRParams() worker.IRParams {
	return worker.IRParams{Gamma: c.Sensors.Infrared.Gamma}
}

// ColorParams builds the color worker's processing parameters.
func (c *Config) ColorParams() worker.ColorParams {
	col := c.Sensors.Color
	return worker.ColorParams{ForceAlpha: col.ForceAlpha, Compress: col.Compress, JPEGQuality: col.JPEGQuality}
}

// BodyParams builds the body worker's processing parameters.
func (c *Config) BodyParams() worker.BodyParams {
	b := c.Sensors.Body
	return worker.BodyParams{
		MaxDeviation:      b.MaxDeviation,
		JitterRadius:      b.JitterRadius,
		GestureThreshold:  b.GestureThreshold,
		ComputeVelocity:   b.ComputeVelocity,
		ComputeCOM:        b.ComputeCOM,
		ComputeConfidence: b.ComputeConfidence,
	}
}

// SynchronizerConfig builds the framesync.Config.
func (c *Config) SynchronizerConfig() framesync.Config {
	required := make([]model.StreamKind, 0, len(c.FrameSync.Required))
	for _, k := range c.FrameSync.Required {
		required = append(required, model.StreamKind(k))
	}
	return framesync.Config{
		Required:   required,
		SyncWindow: time.Duration(c.FrameSync.SyncWindowMs) * time.Millisecond,
		DropAfter:  time.Duration(c.FrameSync.DropAfterMs) * time.Millisecond,
		BufferSize: c.FrameSync.BufferSize,
	}
}

// BroadcastConfig builds the broadcast.Config.
func (c *Config) BroadcastConfig() broadcast.Config {
	ws := c.Network.Websocket
	return broadcast.Config{
		Host:                  ws.Host,
		Port:                  ws.Port,
		IdentificationTimeout: time.Duration(ws.IdentificationTimeoutMs) * time.Millisecond,
	}
}
