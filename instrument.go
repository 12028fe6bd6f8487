// Package antonpaar provides a driver for Anton Paar precision thermometer readout units (MKT
// series), supporting both their HTTP / XML and their RS232 interfaces
package antonpaar

import (
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const (

	// MinUpdateInterval denotes the minimum interval between two measurements, querying
	// the instrument more often overloads it
	MinUpdateInterval = 1440 * time.Millisecond

	// Forever can be used as sample budget for a sampling loop that only ends upon
	// RequestStop()
	Forever = math.MaxInt32
)

// backend denotes a transport / parser pair that refreshes the state of an instrument
type backend interface {

	// update queries the instrument and parses its response into s (which is a copy
	// of the current state), including metadata if parseAll is set. Implementations
	// must maintain s.Valid according to the outcome of the last exchange
	update(s *Snapshot, parseAll bool) error

	close() error
}

// Instrument denotes the transport-independent part of an Anton Paar precision
// thermometer readout unit (MKT series)
type Instrument struct {
	backend backend

	// opMu serializes all access to the transport, stateMu guards the published state
	opMu    sync.Mutex
	stateMu sync.RWMutex

	state          Snapshot
	updateInterval time.Duration
	retryDelay     time.Duration

	handlerMu         sync.RWMutex
	updateHandlers    []func(*Instrument)
	loopReadyHandlers []func(*Instrument)
	updateChan        chan Snapshot

	loopActive  atomic.Bool
	stopRequest atomic.Bool
	stopChan    chan struct{}

	now    func() time.Time
	logger Logger
}

func newInstrument(b backend, port string, cfg *config) *Instrument {
	now := cfg.clock()
	i := &Instrument{
		backend: b,
		state: Snapshot{
			Channel1:             NewChannel(),
			Channel2:             NewChannel(),
			Metadata:             newMetadata(port),
			InitTimeStamp:        now,
			MeasurementTimeStamp: now,
		},
		retryDelay: cfg.retryDelay,
		stopChan:   make(chan struct{}, 1),
		now:        cfg.clock,
		logger:     cfg.logger,
	}
	i.SetUpdateInterval(cfg.updateInterval)

	return i
}

// initialize performs a full update, ignoring the update interval
func (i *Instrument) initialize(cfg *config) {
	if cfg.skipInitial {
		return
	}

	i.opMu.Lock()
	defer i.opMu.Unlock()

	if !i.update(true) {
		i.logger.Warnf("initial update of instrument at `%s` failed", i.Metadata().Port)
	}
}

// Snapshot returns a consistent copy of the current state of the instrument
func (i *Instrument) Snapshot() Snapshot {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.state
}

// Channel1 returns the current state of the first sensor channel
func (i *Instrument) Channel1() Channel {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.state.Channel1
}

// Channel2 returns the current state of the second sensor channel
func (i *Instrument) Channel2() Channel {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.state.Channel2
}

// Temperature1 returns the current temperature of the first channel (if available)
func (i *Instrument) Temperature1() *float64 {
	return i.Channel1().Temperature
}

// Temperature2 returns the current temperature of the second channel (if available)
func (i *Instrument) Temperature2() *float64 {
	return i.Channel2().Temperature
}

// Metadata returns the information about the instrument itself
func (i *Instrument) Metadata() Metadata {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.state.Metadata
}

// InitTimeStamp returns the time the instrument driver was created
func (i *Instrument) InitTimeStamp() time.Time {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.state.InitTimeStamp
}

// MeasurementTimeStamp returns the time of the last successful update
func (i *Instrument) MeasurementTimeStamp() time.Time {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.state.MeasurementTimeStamp
}

// NumberOfSamples returns the number of samples the current statistics are based on
func (i *Instrument) NumberOfSamples() int {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.state.NumberOfSamples
}

// DisplayMode returns the last known display mode of the instrument
func (i *Instrument) DisplayMode() DisplayMode {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.state.DisplayMode
}

// SHT returns the last known self heating status of the instrument
func (i *Instrument) SHT() ShtStatus {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.state.SHT
}

// Valid returns if the last exchange with the instrument was successful
func (i *Instrument) Valid() bool {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.state.Valid
}

// UpdateInterval returns the minimum interval between two measurements
func (i *Instrument) UpdateInterval() time.Duration {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.updateInterval
}

// SetUpdateInterval sets the minimum interval between two measurements, values
// below MinUpdateInterval are raised to MinUpdateInterval
func (i *Instrument) SetUpdateInterval(interval time.Duration) {
	if interval < MinUpdateInterval {
		interval = MinUpdateInterval
	}

	i.stateMu.Lock()
	i.updateInterval = interval
	i.stateMu.Unlock()
}

// AddUpdateHandler registers a handler function that is called upon each successful
// Refresh()
func (i *Instrument) AddUpdateHandler(fn func(*Instrument)) {
	i.handlerMu.Lock()
	defer i.handlerMu.Unlock()

	i.updateHandlers = append(i.updateHandlers, fn)
}

// AddLoopReadyHandler registers a handler function that is called once a sampling
// loop has terminated
func (i *Instrument) AddLoopReadyHandler(fn func(*Instrument)) {
	i.handlerMu.Lock()
	defer i.handlerMu.Unlock()

	i.loopReadyHandlers = append(i.loopReadyHandlers, fn)
}

// SetUpdateChannel defines a channel that receives a snapshot upon each successful
// Refresh() (if not ready to receive, the snapshot is dropped)
func (i *Instrument) SetUpdateChannel(ch chan Snapshot) {
	i.handlerMu.Lock()
	defer i.handlerMu.Unlock()

	i.updateChan = ch
}

// RefreshSync queries the instrument and updates the sensor values (and the instrument
// metadata if parseAll is set). It returns false without querying the instrument if
// the update interval has not elapsed since the last measurement, and false if the
// query failed (in which case the previous state is retained)
func (i *Instrument) RefreshSync(parseAll bool) bool {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	if !i.needsUpdate() {
		return false
	}

	return i.update(parseAll)
}

// Refresh performs the same operation as RefreshSync(), calling all update handlers
// upon success
func (i *Instrument) Refresh(parseAll bool) bool {
	if !i.RefreshSync(parseAll) {
		return false
	}

	i.notifyUpdated()
	return true
}

// StartSamplingLoop performs n successful refresh operations and returns once
// done (or once stopped via RequestStop()). Only the first refresh includes the
// instrument metadata. If a loop is already active, the call is ignored
func (i *Instrument) StartSamplingLoop(n int) {
	if !i.acquireLoop() {
		return
	}
	i.samplingLoop(n)
}

// StartSamplingLoopAsync performs the same operation as StartSamplingLoop() in the
// background and returns immediately
func (i *Instrument) StartSamplingLoopAsync(n int) {
	if !i.acquireLoop() {
		return
	}
	go i.samplingLoop(n)
}

// LoopActive returns if a sampling loop is currently active
func (i *Instrument) LoopActive() bool {
	return i.loopActive.Load()
}

// RequestStop requests an active sampling loop to terminate. The loop stops after
// the current exchange with the instrument has finished
func (i *Instrument) RequestStop() {
	i.stopRequest.Store(true)
	select {
	case i.stopChan <- struct{}{}:
	default:
	}
}

// Close stops any sampling loop and releases the underlying transport
func (i *Instrument) Close() error {
	i.RequestStop()

	i.opMu.Lock()
	defer i.opMu.Unlock()

	return i.backend.close()
}

////////////////////////////////////////////////////////////////////////////////

func (i *Instrument) needsUpdate() bool {
	return i.untilNextUpdate() <= 0
}

func (i *Instrument) untilNextUpdate() time.Duration {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()

	return i.state.MeasurementTimeStamp.Add(i.updateInterval).Sub(i.now())
}

// update must be called while holding opMu
func (i *Instrument) update(parseAll bool) bool {
	err := i.exec(func(s *Snapshot) error {
		if err := i.backend.update(s, parseAll); err != nil {
			return err
		}
		s.MeasurementTimeStamp = i.now()
		return nil
	})
	if err != nil {
		i.logger.Warnf("failed to update instrument at `%s`: %s", i.Metadata().Port, err)
		return false
	}

	return true
}

// exec runs fn on a copy of the current state and publishes the result if fn
// succeeds. Otherwise only the validity flag is carried over. Must be called
// while holding opMu
func (i *Instrument) exec(fn func(s *Snapshot) error) error {
	s := i.Snapshot()
	err := fn(&s)

	i.stateMu.Lock()
	if err != nil {
		i.state.Valid = s.Valid
	} else {
		i.state = s
	}
	i.stateMu.Unlock()

	return err
}

// command runs fn with exclusive access to the transport (see exec)
func (i *Instrument) command(fn func(s *Snapshot) error) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	return i.exec(fn)
}

func (i *Instrument) acquireLoop() bool {
	if !i.loopActive.CAS(false, true) {
		i.logger.Debugf("sampling loop already active, ignoring request")
		return false
	}

	// Reset any stale stop request
	i.stopRequest.Store(false)
	select {
	case <-i.stopChan:
	default:
	}

	return true
}

func (i *Instrument) samplingLoop(n int) {
	defer func() {
		i.loopActive.Store(false)
		i.notifyLoopReady()
	}()

	if n < 1 {
		n = 1
	}

	i.logger.Debugf("starting sampling loop (%d samples)", n)
	for count := 0; count < n && !i.stopRequest.Load(); {

		// Wait until the next measurement is due
		if wait := i.untilNextUpdate(); wait > 0 {
			if !i.wait(wait) {
				break
			}
			continue
		}

		// Only the first measurement includes the instrument metadata
		if i.Refresh(count == 0) {
			count++
			continue
		}

		if !i.wait(i.failureDelay()) {
			break
		}
	}
	i.logger.Debugf("sampling loop terminated")
}

func (i *Instrument) failureDelay() time.Duration {
	if i.retryDelay > 0 {
		return i.retryDelay
	}
	return i.UpdateInterval()
}

// wait blocks for the given duration, returning false if a stop was requested
func (i *Instrument) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-i.stopChan:
		return false
	}
}

func (i *Instrument) notifyUpdated() {
	i.handlerMu.RLock()
	handlers, ch := i.updateHandlers, i.updateChan
	i.handlerMu.RUnlock()

	for _, fn := range handlers {
		fn(i)
	}

	// Put snapshot on channel, if any
	if ch != nil {
		select {
		case ch <- i.Snapshot():
		default:
		}
	}
}

func (i *Instrument) notifyLoopReady() {
	i.handlerMu.RLock()
	handlers := i.loopReadyHandlers
	i.handlerMu.RUnlock()

	for _, fn := range handlers {
		fn(i)
	}
}
