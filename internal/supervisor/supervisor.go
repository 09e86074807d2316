// Package supervisor wires the driver, BufferPool, Sensors,
// Synchronizer, Broadcaster and log sink into one running pipeline
// (spec.md §4.6).
//
// Grounded on cmd/driver/main.go's composition-root shape and
// cmd/driver/media.go's context-scoped goroutine fan-out with
// sync.WaitGroup, generalized per REDESIGN FLAGS into an explicit
// Run(ctx) entry point with no package-level globals or process
// signal subscriptions of its own (the caller in cmd/depthstreamd
// owns those).
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/brightlinelabs/depthstream/internal/broadcast"
	"github.com/brightlinelabs/depthstream/internal/bufferpool"
	"github.com/brightlinelabs/depthstream/internal/config"
	"github.com/brightlinelabs/depthstream/internal/driver"
	"github.com/brightlinelabs/depthstream/internal/framesync"
	"github.com/brightlinelabs/depthstream/internal/model"
	"github.com/brightlinelabs/depthstream/internal/sensor"
	"github.com/brightlinelabs/depthstream/internal/servicelog"
	"github.com/brightlinelabs/depthstream/internal/worker"
)

type sensorEvent struct {
	kind model.StreamKind
	ev   sensor.Event
}

// Supervisor owns every component's lifetime for the duration of Run.
type Supervisor struct {
	cfg    *config.Config
	drv    driver.Driver
	pool   *bufferpool.Pool
	logger servicelog.Logger

	sensors map[model.StreamKind]*sensor.Sensor
	sync    *framesync.Synchronizer
	bcast   *broadcast.Broadcaster

	connectedClients atomic.Int64
}

// New constructs every component but does not start anything.
func New(cfg *config.Config, drv driver.Driver, logger servicelog.Logger) (*Supervisor, error) {
	pool := bufferpool.New(cfg.BufferSpecs(), cfg.BaseSensor.MaxPoolSize)

	sync, err := framesync.New(cfg.SynchronizerConfig())
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	bcast := broadcast.New(cfg.BroadcastConfig(), logger)

	s := &Supervisor{cfg: cfg, drv: drv, pool: pool, logger: logger, sensors: make(map[model.StreamKind]*sensor.Sensor), sync: sync, bcast: bcast}

	if cfg.Sensors.Depth.Enabled {
		s.sensors[model.KindDepth] = sensor.New(model.KindDepth, drv, pool, worker.ProcessDepth, func() any { return cfg.DepthParams() }, cfg.SensorConfig(model.KindDepth), logger)
	}
	if cfg.Sensors.Infrared.Enabled {
		s.sensors[model.KindInfrared] = sensor.New(model.KindInfrared, drv, pool, worker.ProcessIR, func() any { return cfg.IRParams() }, cfg.SensorConfig(model.KindInfrared), logger)
	}
	if cfg.Sensors.Color.Enabled {
		s.sensors[model.KindColor] = sensor.New(model.KindColor, drv, pool, worker.ProcessColor, func() any { return cfg.ColorParams() }, cfg.SensorConfig(model.KindColor), logger)
	}
	if cfg.Sensors.Body.Enabled {
		bp := worker.NewBodyProcessor()
		s.sensors[model.KindBody] = sensor.New(model.KindBody, drv, pool, bp.Process, func() any { return cfg.BodyParams() }, cfg.SensorConfig(model.KindBody), logger)
	}

	return s, nil
}

// Run opens the driver, starts every enabled sensor, the synchronizer
// and the broadcaster, and routes events until ctx is cancelled. It
// returns the cleanup error, if any, and always attempts a full
// cleanup regardless of how it exits (spec.md §7 "Fatal... invoke
// cleanup() and exit non-zero").
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.drv.Open(ctx); err != nil {
		s.cleanup()
		return fmt.Errorf("supervisor: driver open: %w", err)
	}

	port, err := s.bcast.Start()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("supervisor: broadcaster start: %w", err)
	}
	s.logger.Info("broadcaster bound", servicelog.Int("port", port))

	for kind, sn := range s.sensors {
		if err := sn.Start(ctx); err != nil {
			s.logger.Warn("sensor failed to start", servicelog.String("kind", string(kind)), servicelog.Error(err))
		}
	}

	multiCh, err := s.drv.OpenMultiSource()
	if err != nil {
		s.logger.Warn("driver refused multi-source stream", servicelog.Error(err))
	} else {
		go s.sync.Run(multiCh)
	}

	centralCh := make(chan sensorEvent, 256)
	var wg sync.WaitGroup
	for kind, sn := range s.sensors {
		wg.Add(1)
		go func(k model.StreamKind, sn *sensor.Sensor) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-sn.Events():
					select {
					case centralCh <- sensorEvent{kind: k, ev: ev}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(kind, sn)
	}

	s.routeLoop(ctx, centralCh)

	wg.Wait()
	return s.cleanup()
}

func (s *Supervisor) routeLoop(ctx context.Context, centralCh <-chan sensorEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case se := <-centralCh:
			s.routeSensorEvent(se)
		case bundle, ok := <-s.sync.Bundles():
			if !ok {
				continue
			}
			s.bcast.Broadcast(model.FrameSyncMessage{Type: model.TypeFrameSync, Frame: bundle})
		case ev, ok := <-s.sync.Events():
			if !ok {
				continue
			}
			s.logger.Warn("synchronizer event", servicelog.Int("kind", int(ev.Kind)), servicelog.String("streamKind", string(ev.StreamKind)))
		case in, ok := <-s.bcast.Inbound():
			if !ok {
				continue
			}
			s.routeInbound(in)
		case lc, ok := <-s.bcast.Lifecycle():
			if !ok {
				continue
			}
			s.routeLifecycle(ctx, lc)
		}
	}
}

func (s *Supervisor) routeSensorEvent(se sensorEvent) {
	switch se.ev.Kind {
	case sensor.EventFrame:
		s.bcast.Broadcast(model.FrameMessage{Type: model.TypeFrame, SensorType: se.kind, Data: se.ev.Frame})
	case sensor.EventMovement:
		s.bcast.Broadcast(model.MovementMessage{Type: model.TypeMovement, Data: se.ev.Movement})
	case sensor.EventGesture:
		s.bcast.Broadcast(model.GestureMessage{Type: model.TypeGesture, Data: se.ev.Gesture})
	case sensor.EventError:
		s.logger.Error("sensor error", servicelog.String("kind", string(se.kind)), servicelog.Error(se.ev.Err))
	}
}

func (s *Supervisor) routeInbound(in broadcast.Inbound) {
	switch in.Envelope.Type {
	case model.TypeStartSensor:
		var cmd model.StartSensorCommand
		if err := json.Unmarshal(in.Raw, &cmd); err != nil {
			return
		}
		if sn, ok := s.sensors[cmd.SensorType]; ok {
			go sn.Start(context.Background())
		}
	case model.TypeStopSensor:
		var cmd model.StopSensorCommand
		if err := json.Unmarshal(in.Raw, &cmd); err != nil {
			return
		}
		if sn, ok := s.sensors[cmd.SensorType]; ok {
			go sn.Stop()
		}
	case model.TypeSetLED:
		var cmd model.SetLEDCommand
		if err := json.Unmarshal(in.Raw, &cmd); err != nil {
			return
		}
		if err := s.drv.SetLED(driver.LEDColor(cmd.Color)); err != nil {
			s.logger.Warn("setLED failed", servicelog.Error(err))
		}
	case model.TypeSetIREmitter:
		var cmd model.SetIREmitterCommand
		if err := json.Unmarshal(in.Raw, &cmd); err != nil {
			return
		}
		if err := s.drv.SetIREmitter(cmd.Enabled); err != nil {
			s.logger.Warn("setIREmitter failed", servicelog.Error(err))
		}
	default:
		s.logger.Warn("unknown subscriber message type",
			servicelog.String("type", in.Envelope.Type),
			servicelog.String("subscriber", in.SubscriberID))
	}
}

func (s *Supervisor) routeLifecycle(ctx context.Context, lc broadcast.LifecycleEvent) {
	if lc.Connected {
		s.connectedClients.Add(1)
		s.logger.Info("client_connected", servicelog.String("subscriber", lc.SubscriberID))
		return
	}
	remaining := s.connectedClients.Add(-1)
	s.logger.Info("client_disconnected", servicelog.String("subscriber", lc.SubscriberID))
	if remaining <= 0 {
		s.logger.Info("last subscriber disconnected, stopping all sensors")
		for _, sn := range s.sensors {
			go sn.Stop()
		}
	}
}

func (s *Supervisor) cleanup() error {
	for _, sn := range s.sensors {
		sn.Stop()
	}
	s.sync.Stop()
	if err := s.bcast.Stop(context.Background()); err != nil {
		s.logger.Warn("broadcaster stop error", servicelog.Error(err))
	}
	if err := s.drv.Close(); err != nil {
		return fmt.Errorf("supervisor: driver close: %w", err)
	}
	return nil
}
