package mapper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lidarworks/roommapper/internal/monitoring"
	"github.com/lidarworks/roommapper/internal/timeutil"
)

// Pipeline defaults. The tick interval bounds scheduler latency; the
// decimation factor bounds how often the O(n) metrics recompute and observer
// notifications run relative to batch merges.
const (
	DefaultTickInterval     = 50 * time.Millisecond
	DefaultDecimationFactor = 3
	DefaultErrorThreshold   = 3
	DefaultChannelDepth     = 256
	DefaultStopTimeout      = 2 * time.Second
)

// frameMsg is one message on the acquisition-to-scheduler channel: either a
// batch of accepted points or a terminal acquisition error, never both.
type frameMsg struct {
	batch Batch
	err   error
}

// SessionConfig configures a Session. Device and Store are required; zero
// values elsewhere select the defaults above.
type SessionConfig struct {
	Device    Device
	Store     *PointStore
	Observers []Observer
	Filter    FilterConfig

	TickInterval     time.Duration
	DecimationFactor int
	ErrorThreshold   int
	ChannelDepth     int
	StopTimeout      time.Duration

	// Clock substitutes a fake time source in tests. Nil means real time.
	Clock timeutil.Clock
}

// Session owns the pipeline lifecycle: the acquisition goroutine, the
// scheduler goroutine, the state machine, and all mutation of the point
// store. External readers access the cloud only through Snapshot and
// Metrics, which return copies.
type Session struct {
	dev        Device
	observers  []Observer
	clock      timeutil.Clock
	tick       time.Duration
	decimation int
	errLimit   int
	chanDepth  int
	stopWait   time.Duration

	mu          sync.Mutex
	state       State
	filter      FilterConfig
	store       *PointStore
	lastMetrics RoomMetrics
	metricsOK   bool
	scanCount   int // batches merged since Clear

	frames  chan frameMsg
	cancel  context.CancelFunc
	acqDone chan struct{}
	schDone chan struct{}
}

// NewSession creates an idle Session. Start begins scanning.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("mapper: SessionConfig.Device is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("mapper: SessionConfig.Store is required")
	}
	s := &Session{
		dev:        cfg.Device,
		observers:  cfg.Observers,
		tick:       cfg.TickInterval,
		decimation: cfg.DecimationFactor,
		errLimit:   cfg.ErrorThreshold,
		chanDepth:  cfg.ChannelDepth,
		stopWait:   cfg.StopTimeout,
		clock:      cfg.Clock,
		state:      StateIdle,
		filter:     cfg.Filter,
		store:      cfg.Store,
	}
	if s.tick <= 0 {
		s.tick = DefaultTickInterval
	}
	if s.decimation < 1 {
		s.decimation = DefaultDecimationFactor
	}
	if s.errLimit < 1 {
		s.errLimit = DefaultErrorThreshold
	}
	if s.chanDepth <= 0 {
		s.chanDepth = DefaultChannelDepth
	}
	if s.stopWait <= 0 {
		s.stopWait = DefaultStopTimeout
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.filter == (FilterConfig{}) {
		s.filter = DefaultFilterConfig()
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Filter returns the filter currently applied to incoming frames.
func (s *Session) Filter() FilterConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// SetFilter replaces the acceptance filter. When retroactive is true the
// stored history is re-filtered immediately, so narrowing the range does not
// require a re-scan. Returns the number of stored points dropped.
func (s *Session) SetFilter(cfg FilterConfig, retroactive bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = cfg
	if !retroactive {
		return 0
	}
	removed := s.store.Refilter(cfg)
	s.recomputeLocked()
	return removed
}

// Snapshot returns a copy of the current point cloud.
func (s *Session) Snapshot() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Snapshot()
}

// Metrics returns the most recently computed room metrics. ok is false until
// the minimum-sample threshold has been reached.
func (s *Session) Metrics() (RoomMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMetrics, s.metricsOK
}

// ScanCount returns the number of batches merged since the last Clear.
func (s *Session) ScanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanCount
}

// Load replaces the point cloud with an imported document. Only legal while
// Idle: during a scan the scheduler is the sole store writer.
func (s *Session) Load(doc ScanDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("mapper: cannot load snapshot in state %s", s.state)
	}
	LoadIntoStore(s.store, doc.Points)
	s.scanCount = doc.ScanCount
	s.recomputeLocked()
	return nil
}

// Clear empties the store and resets metrics and the batch counter.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Clear()
	s.scanCount = 0
	s.lastMetrics = RoomMetrics{}
	s.metricsOK = false
}

// Start connects to the sensor and launches the acquisition and scheduler
// goroutines. It is only legal from Idle. A connection failure is reported
// through the observers and returns the session to Idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("mapper: cannot start from state %s", state)
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notifyState(StateConnecting)

	info, err := s.dev.Connect(ctx)
	if err != nil {
		return s.failConnect(&ConnectError{Err: err})
	}
	monitoring.Logf("connected to sensor: model=%s firmware=%s serial=%s",
		info.Model, info.Firmware, info.SerialNumber)

	health, err := s.dev.Health()
	if err != nil {
		s.teardownDevice()
		return s.failConnect(&ConnectError{Err: err})
	}
	if health.Status == "error" {
		s.teardownDevice()
		return s.failConnect(&ConnectError{
			Err: fmt.Errorf("sensor health %s (code %d)", health.Status, health.ErrorCode),
		})
	}
	monitoring.Logf("sensor health: %s", health.Status)

	if err := s.dev.StartScan(ctx); err != nil {
		s.teardownDevice()
		return s.failConnect(&ConnectError{Err: err})
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.state = StateScanning
	s.frames = make(chan frameMsg, s.chanDepth)
	s.cancel = cancel
	s.acqDone = make(chan struct{})
	s.schDone = make(chan struct{})
	s.mu.Unlock()
	s.notifyState(StateScanning)

	go s.acquire(runCtx)
	go s.schedule(runCtx)
	return nil
}

// Stop signals the acquisition goroutine to cease after its current frame,
// waits for it with a bounded timeout, tears the sensor down best-effort,
// and returns the session to Idle. Stop is a no-op outside Scanning.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	cancel := s.cancel
	acqDone, schDone := s.acqDone, s.schDone
	s.mu.Unlock()
	s.notifyState(StateStopping)

	cancel()
	s.joinTask(acqDone, "acquisition")
	s.joinTask(schDone, "scheduler")
	s.teardownDevice()

	// Forced final recompute so the external view reflects the true final
	// data regardless of where the decimation counter stopped.
	s.finalNotify()

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.notifyState(StateIdle)
}

// failConnect reports a connect-phase fault and returns the session to Idle.
func (s *Session) failConnect(err error) error {
	s.mu.Lock()
	s.state = StateError
	s.mu.Unlock()
	s.notifyState(StateError)
	s.notifyFault(err)

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.notifyState(StateIdle)
	return err
}

// fault handles a terminal acquisition error observed by the scheduler:
// abort scanning, tear the sensor down, report, land in Idle.
func (s *Session) fault(err error) {
	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	cancel := s.cancel
	acqDone := s.acqDone
	s.mu.Unlock()
	s.notifyState(StateError)
	s.notifyFault(err)

	cancel()
	s.joinTask(acqDone, "acquisition")
	s.teardownDevice()
	s.finalNotify()

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.notifyState(StateIdle)
}

// acquire is the sole producer into the frame channel. It blocks on the
// driver's frame reads, applies the filter, and counts consecutive per-frame
// failures; exceeding the threshold signals a terminal ChannelError.
func (s *Session) acquire(ctx context.Context) {
	defer close(s.acqDone)

	consecutive := 0
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := s.dev.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutive++
			ferr := &FrameError{Err: err}
			monitoring.Logf("frame fault %d/%d: %v", consecutive, s.errLimit, ferr)
			if consecutive >= s.errLimit {
				s.send(ctx, frameMsg{err: &ChannelError{Err: fmt.Errorf(
					"%d consecutive frame faults, last: %w", consecutive, err)}})
				return
			}
			continue
		}
		consecutive = 0

		batch := ProcessFrame(frame, s.Filter())
		if len(batch) == 0 {
			continue
		}
		s.send(ctx, frameMsg{batch: batch})
	}
}

// send enqueues a message without ever stalling acquisition: when the
// channel is full the oldest pending message is dropped to make room. Old
// data is expendable; the frame stream is not.
func (s *Session) send(ctx context.Context, msg frameMsg) {
	for {
		select {
		case s.frames <- msg:
			return
		default:
		}
		select {
		case dropped := <-s.frames:
			if dropped.err != nil {
				// Never drop a fault signal; re-deliver it instead of ours.
				msg = dropped
			}
		case <-ctx.Done():
			return
		default:
		}
	}
}

// schedule drains the frame channel on a fixed cadence, merges batches into
// the store, and triggers the decimated metrics recompute and observer
// notifications. It is the sole writer of the point store.
func (s *Session) schedule(ctx context.Context) {
	defer close(s.schDone)

	ticker := s.clock.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Merge anything still queued so the forced final recompute
			// sees every batch the producer managed to send.
			if fault := s.drain(); fault != nil {
				monitoring.Logf("fault during shutdown drain: %v", fault)
			}
			return
		case <-ticker.C():
			if fault := s.drain(); fault != nil {
				// fault() joins this goroutine, so hand off.
				go s.fault(fault)
				return
			}
		}
	}
}

// drain merges every currently queued message and returns the first fault
// encountered, if any.
func (s *Session) drain() error {
	for {
		select {
		case msg := <-s.frames:
			if msg.err != nil {
				return msg.err
			}
			s.merge(msg.batch)
		default:
			return nil
		}
	}
}

// merge inserts one batch and fires the decimated recompute.
func (s *Session) merge(batch Batch) {
	s.mu.Lock()
	s.store.InsertBatch(batch)
	s.scanCount++
	due := s.scanCount%s.decimation == 0
	var snapshot []Point
	var metrics RoomMetrics
	var ok bool
	if due {
		s.recomputeLocked()
		snapshot = s.store.Snapshot()
		metrics, ok = s.lastMetrics, s.metricsOK
	}
	s.mu.Unlock()

	if due {
		for _, o := range s.observers {
			o.OnBatchMerged(snapshot, metrics, ok)
		}
	}
}

// recomputeLocked refreshes the cached metrics. Callers hold s.mu.
func (s *Session) recomputeLocked() {
	s.lastMetrics, s.metricsOK = ComputeRoomMetrics(s.store.Snapshot())
}

// finalNotify recomputes metrics and notifies observers unconditionally.
func (s *Session) finalNotify() {
	s.mu.Lock()
	s.recomputeLocked()
	snapshot := s.store.Snapshot()
	metrics, ok := s.lastMetrics, s.metricsOK
	s.mu.Unlock()

	for _, o := range s.observers {
		o.OnBatchMerged(snapshot, metrics, ok)
	}
}

// joinTask waits for a goroutine with a bounded timeout. Teardown proceeds
// regardless of whether the deadline was met.
func (s *Session) joinTask(done chan struct{}, name string) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(s.stopWait):
		monitoring.Logf("timed out after %v waiting for %s task", s.stopWait, name)
	}
}

// teardownDevice stops and disconnects the sensor. Teardown faults are
// logged and swallowed so shutdown always completes.
func (s *Session) teardownDevice() {
	if err := s.dev.Stop(); err != nil {
		monitoring.Logf("sensor stop failed: %v", err)
	}
	if err := s.dev.Disconnect(); err != nil {
		monitoring.Logf("sensor disconnect failed: %v", err)
	}
}

func (s *Session) notifyState(state State) {
	for _, o := range s.observers {
		o.OnStateChanged(state)
	}
}

func (s *Session) notifyFault(err error) {
	for _, o := range s.observers {
		o.OnFault(err)
	}
}
