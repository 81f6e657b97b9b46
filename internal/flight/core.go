// Package flight ties the autopilot together: it decodes board traffic,
// routes telemetry through the aggregator into the control worker, sends the
// resulting motor commands back to the board and tracks the system state.
package flight

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/qphone/internal/aggregator"
	"github.com/banshee-data/qphone/internal/control"
	"github.com/banshee-data/qphone/internal/monitoring"
	"github.com/banshee-data/qphone/internal/qcfp"
	"github.com/banshee-data/qphone/internal/serialmux"
	"github.com/banshee-data/qphone/internal/timeutil"
)

var logf = monitoring.Prefixed("flight")

// PacketPoster queues an unframed packet for the board.
type PacketPoster interface {
	Post(payload []byte) error
}

// Recorder persists flight data. Implementations must not block.
type Recorder interface {
	RecordSample(s aggregator.Sample)
	RecordMotors(t time.Time, out control.Output, speeds control.MotorSpeeds)
	RecordState(tr Transition)
}

// Config configures a Core.
type Config struct {
	MaxPacketSize int
	Control       control.Config
	Move          aggregator.Config
}

// DefaultConfig returns the stock flight configuration.
func DefaultConfig() Config {
	return Config{
		MaxPacketSize: qcfp.DefaultMaxPacketSize,
		Control:       control.DefaultConfig(),
		Move:          aggregator.DefaultConfig(),
	}
}

// Status is a snapshot of the autopilot for upstream reporting.
type Status struct {
	State        SystemState          `json:"state"`
	Flying       bool                 `json:"flying"`
	Link         serialmux.LinkStatus `json:"link"`
	Desired      aggregator.Sample    `json:"desired"`
	Measured     *aggregator.Sample   `json:"measured,omitempty"`
	MotorSpeeds  control.MotorSpeeds  `json:"motor_speeds"`
	BoardSpeeds  [4]byte              `json:"board_speeds"`
	Samples      uint64               `json:"samples"`
	BadSamples   uint64               `json:"bad_samples"`
	DroppedFrame uint64               `json:"dropped_frames"`
	LinkGaps     uint64               `json:"link_gaps"`
	Parser       qcfp.ParserStats     `json:"parser"`
	Loop         control.Stats        `json:"loop"`
	Worker       control.WorkerStats  `json:"worker"`
}

// Core is the flight-control core. The decoder, the control worker and the
// link writer each run on their own goroutine; the aggregator is the only
// state they share.
type Core struct {
	clock    timeutil.Clock
	epoch    time.Time
	agg      *aggregator.Aggregator
	loop     *control.Loop
	worker   *control.Worker
	out      PacketPoster
	rec      Recorder
	handlers *qcfp.Handlers
	parser   *qcfp.Parser
	status   *StatusPublisher

	mu     sync.Mutex
	speeds control.MotorSpeeds
	link   serialmux.LinkStatus

	// flying mirrors the board's flight mode and gates the control worker.
	flying atomic.Bool

	samples    atomic.Uint64
	badSamples atomic.Uint64
	linkGaps   atomic.Uint64
}

// NewCore builds a core sending board packets through out. rec may be nil.
func NewCore(cfg Config, clock timeutil.Clock, out PacketPoster, rec Recorder) (*Core, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	loop, err := control.NewLoop(cfg.Control, clock)
	if err != nil {
		return nil, err
	}

	c := &Core{
		clock:    clock,
		epoch:    clock.Now(),
		agg:      aggregator.New(cfg.Move, clock),
		loop:     loop,
		out:      out,
		rec:      rec,
		handlers: qcfp.NewHandlers(),
		status:   NewStatusPublisher(),
	}
	c.worker = control.NewWorker(loop, c.onResult)

	c.parser, err = qcfp.NewParser(cfg.MaxPacketSize, c.handlers)
	if err != nil {
		return nil, err
	}
	c.handlers.Register(qcfp.CmdAsyncData, c.handleAsyncData)
	c.handlers.Register(qcfp.CmdFlightMode, c.handleFlightMode)
	c.handlers.Register(qcfp.CmdCalibrate, c.handleCalibrate)
	c.handlers.Register(qcfp.CmdDebug, c.handleDebug)
	return c, nil
}

// Aggregator returns the core's state aggregator.
func (c *Core) Aggregator() *aggregator.Aggregator { return c.agg }

// Handlers returns the dispatch table, for registering extra commands.
func (c *Core) Handlers() *qcfp.Handlers { return c.handlers }

// SubscribeStates returns a channel of future system state transitions and a
// function that ends the subscription.
func (c *Core) SubscribeStates() (<-chan Transition, func()) { return c.status.Subscribe() }

// Run drives the decoder and the control worker until ctx is done or chunks
// is closed. chunks carries raw link bytes; links carries connectivity events
// and may be nil. The worker has stopped by the time Run returns.
func (c *Core) Run(ctx context.Context, chunks <-chan []byte, links <-chan serialmux.LinkStatus) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.worker.Run(ctx); err != nil && ctx.Err() == nil {
			logf("control worker stopped: %v", err)
		}
	}()
	defer wg.Wait()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return fmt.Errorf("link byte stream closed")
			}
			if chunk == nil {
				// bytes were lost, a partial frame could splice into the next
				c.linkGaps.Add(1)
				c.parser.Reset()
				continue
			}
			c.parser.AddData(chunk)
		case ls := <-links:
			c.handleLinkStatus(ls)
		}
	}
}

func (c *Core) handleLinkStatus(ls serialmux.LinkStatus) {
	c.mu.Lock()
	c.link = ls
	c.mu.Unlock()
	if ls.Up {
		logf("link up")
		// learn the board's state after (re)connecting
		c.post(qcfp.QueryFlightMode())
		c.post(qcfp.QueryCalibration())
		return
	}
	logf("link down: %s", ls.Reason)
}

func (c *Core) handleAsyncData(packet []byte) {
	s, err := qcfp.ParseAsyncData(packet)
	if err != nil {
		c.badSamples.Add(1)
		logf("dropping sensor packet: %v", err)
		return
	}
	c.samples.Add(1)

	sample := aggregator.Sample{
		Timestamp: c.epoch.Add(s.Uptime),
		Height:    s.Height,
		Roll:      s.Roll,
		Pitch:     s.Pitch,
		Yaw:       s.Yaw,
	}
	if c.rec != nil {
		c.rec.RecordSample(sample)
	}

	input, ok := c.agg.Ingest(sample)
	if !ok || !c.flying.Load() {
		return
	}
	c.worker.Submit(sample.Timestamp, input)
}

func (c *Core) onResult(r control.Result) {
	c.agg.SetNetPreviousActuation(r.Speeds.NetActuation())

	c.mu.Lock()
	c.speeds = r.Speeds
	c.mu.Unlock()

	if c.rec != nil {
		c.rec.RecordMotors(r.Timestamp, r.Output, r.Speeds)
	}
	// a disarm may land between Submit and here
	if c.flying.Load() {
		c.post(r.Speeds.Packet())
	}
}

func (c *Core) handleFlightMode(packet []byte) {
	mode, err := qcfp.StatusByte(packet, qcfp.CmdFlightMode)
	if err != nil {
		logf("%v", err)
		return
	}
	switch mode {
	case qcfp.FlightModeEnable:
		c.flying.Store(true)
		c.setState(StateArmed)
	case qcfp.FlightModeDisable:
		c.flying.Store(false)
		c.setState(StateDisarmed)
	case qcfp.FlightModePending:
		logf("flight mode pending")
	default:
		logf("unknown flight mode reply 0x%02x", mode)
	}
}

func (c *Core) handleCalibrate(packet []byte) {
	st, err := qcfp.StatusByte(packet, qcfp.CmdCalibrate)
	if err != nil {
		logf("%v", err)
		return
	}
	if c.flying.Load() {
		// calibration state is only reported while on the ground
		logf("calibration reply 0x%02x ignored in flight mode", st)
		return
	}
	switch st {
	case qcfp.CalibrationRunning:
		c.setState(StateCalibrating)
	case qcfp.CalibrationIdle:
		if c.status.State() == StateCalibrating {
			c.setState(StateCalibrated)
		}
	case qcfp.CalibrationFailed:
		c.setState(StateUnableToCalibrate)
	default:
		logf("unknown calibration reply 0x%02x", st)
	}
}

func (c *Core) handleDebug(packet []byte) {
	logf("board echo: % x", packet[1:])
}

func (c *Core) setState(s SystemState) {
	tr, changed := c.status.Publish(c.clock.Now(), s)
	if !changed {
		return
	}
	logf("state %s -> %s", tr.From, tr.State)
	if c.rec != nil {
		c.rec.RecordState(tr)
	}
}

func (c *Core) post(payload []byte) {
	if err := c.out.Post(payload); err != nil {
		logf("queue %s: %v", qcfp.CommandName(payload[0]), err)
	}
}

// Arm asks the board to enter or leave flight mode. The state changes when
// the board confirms.
func (c *Core) Arm(armed bool) error {
	return c.out.Post(qcfp.FlightMode(armed))
}

// Calibrate starts or stops sensor calibration on the board.
func (c *Core) Calibrate(start bool) error {
	return c.out.Post(qcfp.Calibration(start))
}

// Move applies the first of a batch of move commands.
func (c *Core) Move(cmds []aggregator.MoveCommand) (ignored int, err error) {
	return c.agg.ApplyMoveCommands(cmds)
}

// SetAttitude records an attitude setpoint and forwards it to the board as
// attitude, height and throttle packets.
func (c *Core) SetAttitude(cmd aggregator.AttitudeCommand) error {
	c.agg.ApplyAttitudeCommand(cmd)
	for _, p := range [][]byte{
		qcfp.Attitude(float32(cmd.Roll), float32(cmd.Pitch), float32(cmd.Yaw)),
		qcfp.Height(float32(cmd.Height)),
		qcfp.Throttle(cmd.Throttle),
	} {
		if err := c.out.Post(p); err != nil {
			return err
		}
	}
	return nil
}

// AltitudeHold toggles the board's own altitude hold.
func (c *Core) AltitudeHold(enabled bool) error {
	return c.out.Post(qcfp.AltitudeHold(enabled))
}

// Flying reports whether the board last confirmed flight mode.
func (c *Core) Flying() bool { return c.flying.Load() }

// Status returns a snapshot of the core.
func (c *Core) Status() Status {
	c.mu.Lock()
	speeds, link := c.speeds, c.link
	c.mu.Unlock()

	st := Status{
		State:        c.status.State(),
		Flying:       c.flying.Load(),
		Link:         link,
		Desired:      c.agg.Desired(),
		MotorSpeeds:  speeds,
		BoardSpeeds:  speeds.BoardSpeeds(),
		Samples:      c.samples.Load(),
		BadSamples:   c.badSamples.Load(),
		DroppedFrame: c.handlers.Dropped(),
		LinkGaps:     c.linkGaps.Load(),
		Parser:       c.parser.Stats(),
		Loop:         c.loop.Stats(),
		Worker:       c.worker.Stats(),
	}
	if m, ok := c.agg.Measured(); ok {
		st.Measured = &m
	}
	return st
}
