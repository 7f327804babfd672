package micbridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// callDetector reports, once per tick, whether the target application is
// actively using audio. Implemented by Correlator.
type callDetector interface {
	Poll() bool
}

// Pipeline is the audio passthrough as the controller sees it: an opaque
// external resource it starts and stops but never inspects. Start is
// idempotent and may fail on device acquisition; Stop is idempotent.
type Pipeline interface {
	Start() error
	Stop()
}

// defaultPollInterval is a deliberate, documented approximation: the OS
// exposes no call-state event API usable here, so we poll. Two polls per
// second bounds the user-perceived delay between call start and correct
// routing at roughly half a second to a second.
const defaultPollInterval = 500 * time.Millisecond

// Controller drives the Idle/Active call state machine off the correlator's
// verdict. All transitions are serialized through one mutex so a rapid flicker
// of the verdict can never produce overlapping activate/deactivate sequences.
type Controller struct {
	logger   *zap.SugaredLogger
	notifier Notifier

	detector  callDetector
	switcher  *DefaultSwitcher
	pipeline  Pipeline
	directory DeviceDirectory

	cableCaptureName string
	interval         time.Duration

	mu     sync.Mutex
	active bool
	inUse  bool
}

func newController(
	logger *zap.SugaredLogger,
	notifier Notifier,
	detector callDetector,
	switcher *DefaultSwitcher,
	pipeline Pipeline,
	directory DeviceDirectory,
	cableCaptureName string,
	interval time.Duration,
) *Controller {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Controller{
		logger:           logger.Named("controller"),
		notifier:         notifier,
		detector:         detector,
		switcher:         switcher,
		pipeline:         pipeline,
		directory:        directory,
		cableCaptureName: cableCaptureName,
		interval:         interval,
	}
}

// IsDeviceInUse reports the correlator's most recent verdict. Safe to call
// from other goroutines (the tray reads it).
func (c *Controller) IsDeviceInUse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inUse
}

// Run polls until ctx is cancelled. Cancellation performs the terminal forced
// transition synchronously before returning, so the user's microphone is
// never left pointed at the cable after shutdown.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Infow("Call monitor starting",
		"interval", c.interval,
		"cableCapture", c.cableCaptureName)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Call monitor cancelled, forcing idle state")
			c.forceIdle()
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	inUse := c.detector.Poll()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.inUse = inUse

	if inUse && !c.active {
		c.activate()
	} else if !inUse && c.active {
		c.deactivate()
	}
}

// activate runs the rising-edge sequence: save original, switch default to the
// cable, then start the pipeline. Any failure leaves the state machine Idle so
// the whole sequence is retried next tick; the pipeline is never started
// against an unswitched device.
func (c *Controller) activate() {
	if err := c.switcher.CaptureOriginal(); err != nil {
		c.logger.Warnw("Failed to save original default endpoint, staying idle", "error", err)
		return
	}

	endpoint, err := c.directory.Resolve(FlowCapture, c.cableCaptureName)
	if err != nil {
		c.logger.Warnw("Failed to resolve cable capture endpoint, staying idle",
			"name", c.cableCaptureName,
			"error", err)
		return
	}

	if err := c.switcher.Activate(endpoint.ID); err != nil {
		c.logger.Warnw("Switch to cable endpoint failed, staying idle",
			"endpointID", endpoint.ID,
			"error", err)
		return
	}

	c.logger.Infow("Switch to cable endpoint succeeded", "endpointID", endpoint.ID)

	if err := c.pipeline.Start(); err != nil {
		c.logger.Errorw("Failed to start audio passthrough, reverting switch", "error", err)

		if restoreErr := c.switcher.Restore(); restoreErr != nil {
			c.logger.Errorw("Failed to revert switch after pipeline start failure", "error", restoreErr)
		}

		return
	}

	c.active = true
	c.logger.Info("Call detected, passthrough active")
}

// deactivate runs the falling-edge sequence. The pipeline is stopped first,
// always - audio routing must never outlive a call - and only then is the
// original default restored.
func (c *Controller) deactivate() {
	c.pipeline.Stop()

	if err := c.switcher.Restore(); err != nil {
		c.logger.Errorw("Failed to restore original default endpoint, your microphone may be misconfigured",
			"error", err)
		c.notifier.Notify("Device restore failed!",
			"micbridge couldn't restore your default microphone. Check your sound settings.")
	}

	c.active = false
	c.logger.Info("Call ended, passthrough stopped")
}

// forceIdle is the terminal transition: unconditionally stop the pipeline if
// running and restore the original default if one was ever saved, regardless
// of what the correlator would report.
func (c *Controller) forceIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		c.pipeline.Stop()
		c.active = false
	}

	if c.switcher.HasOriginal() {
		if err := c.switcher.Restore(); err != nil {
			c.logger.Errorw("Failed to restore original default endpoint during shutdown",
				"error", err)
			c.notifier.Notify("Device restore failed!",
				"micbridge couldn't restore your default microphone. Check your sound settings.")
		}
	}

	c.inUse = false
}
