// Package micbridge re-renders a physical microphone into a virtual audio
// cable to work around an OS audio-stack gain bug, and automatically points
// the OS default recording device at the cable while a target calling
// application is using the microphone.
package micbridge

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/micbridge/micbridge/pkg/micbridge/util"
)

// Micbridge is the main entity managing all subcomponents
type Micbridge struct {
	logger      *zap.SugaredLogger
	notifier    Notifier
	configMan   *ConfigManager
	backend     *audioBackend
	passthrough Pipeline
	newPipeline func(micName, cableName string) Pipeline

	monitorLock   sync.Mutex
	controller    *Controller
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}

	runningWithTray bool
	stopChannel     chan bool
	version         string
	verbose         bool
}

func NewMicbridge(logger *zap.SugaredLogger, verbose bool) (*Micbridge, error) {
	logger = logger.Named("micbridge")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	backend, err := newAudioBackend(logger)
	if err != nil {
		logger.Errorw("Failed to create audio backend", "error", err)
		return nil, fmt.Errorf("create audio backend: %w", err)
	}

	m := &Micbridge{
		logger:      logger,
		notifier:    notifier,
		configMan:   config,
		backend:     backend,
		stopChannel: make(chan bool),
		verbose:     verbose,
	}

	m.newPipeline = func(micName, cableName string) Pipeline {
		return newPassthrough(logger, micName, cableName)
	}

	logger.Debug("Created micbridge instance")

	return m, nil
}

func (m *Micbridge) currConf() *Config {
	return &m.configMan.current
}

// Initialize sets up components and starts to run in the background
func (m *Micbridge) Initialize() error {
	m.logger.Debug("Initializing")

	// load the config for the first time
	if err := m.configMan.Load(); err != nil {
		m.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	// configured devices must exist before entering monitoring mode
	if err := m.validateDevices(); err != nil {
		m.logger.Errorw("Device validation failed during initialization", "error", err)
		return fmt.Errorf("validate devices during init: %w", err)
	}

	m.passthrough = m.newPipeline(
		m.currConf().Devices.Microphone,
		m.currConf().Devices.CableRender,
	)

	m.setupInterruptHandler()

	if m.currConf().DisableTray {
		m.logger.Debugw("Running without tray icon", "reason", "disabled in config")

		// run in main thread while waiting on ctrl+C
		m.run()
	} else {
		m.runningWithTray = true
		m.initializeTray(m.run)
	}

	return nil
}

// ListDevices prints every capture and render endpoint to stdout, for use
// when authoring the config file.
func (m *Micbridge) ListDevices() error {
	for _, flow := range []DataFlow{FlowCapture, FlowRender} {
		endpoints, err := m.backend.directory.ListAll(flow)
		if err != nil {
			return fmt.Errorf("list %s endpoints: %w", flow, err)
		}

		fmt.Printf("%s devices:\n", flow)
		for _, endpoint := range endpoints {
			fmt.Printf("  %q (%s)\n", endpoint.Name, endpoint.State)
		}
		fmt.Println()
	}

	return nil
}

// IsDeviceInUse reports the monitor's current verdict on whether the target
// application is using audio. False while monitoring is off.
func (m *Micbridge) IsDeviceInUse() bool {
	m.monitorLock.Lock()
	defer m.monitorLock.Unlock()

	if m.controller == nil {
		return false
	}

	return m.controller.IsDeviceInUse()
}

// SetVersion causes micbridge to add a version string to its tray menu if called before Initialize
func (m *Micbridge) SetVersion(version string) {
	m.version = version
}

func (m *Micbridge) validateDevices() error {
	devices := m.currConf().Devices

	checks := []struct {
		flow DataFlow
		name string
	}{
		{FlowCapture, devices.Microphone},
		{FlowRender, devices.CableRender},
		{FlowCapture, devices.CableCapture},
	}

	for _, check := range checks {
		if _, err := m.backend.directory.Resolve(check.flow, check.name); err != nil {
			m.notifier.Notify("Audio device not found!",
				fmt.Sprintf("No active %s device is named %q. Check config.yaml against -list-devices.",
					check.flow, check.name))

			return err
		}
	}

	m.logger.Debug("All configured devices resolved successfully")
	return nil
}

func (m *Micbridge) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		m.logger.Debugw("Interrupted", "signal", signal)
		m.signalStop()
	}()
}

func (m *Micbridge) run() {
	defer m.recoverFromPanic()

	m.logger.Info("Run loop starting")

	go m.configMan.WatchConfigFileChanges()

	m.setupOnConfigReload()

	if m.currConf().AutoSwitch.Enabled {
		m.startMonitor()
	} else {
		m.startManualPassthrough()
	}

	// wait until gracefully stopped
	<-m.stopChannel
	m.logger.Debug("Stop channel signaled, terminating")

	if err := m.stop(); err != nil {
		m.logger.Warnw("Failed to stop micbridge", "error", err)
		os.Exit(1)
	} else {
		os.Exit(0)
	}
}

func (m *Micbridge) setupOnConfigReload() {
	configReloadedChannel := m.configMan.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			m.logger.Info("Detected config reload, restarting monitor with new settings")
			m.restartMonitor()
		}
	}()
}

// startMonitor builds a fresh correlator/switcher/controller trio from the
// current config and launches the polling loop.
func (m *Micbridge) startMonitor() {
	m.monitorLock.Lock()
	defer m.monitorLock.Unlock()

	if m.controller != nil {
		m.logger.Debug("Monitor already running")
		return
	}

	conf := m.currConf()

	correlator := newCorrelator(
		m.logger,
		m.backend.directory,
		m.backend.sessions,
		psProcessLister{},
		conf.AutoSwitch.TargetProcess,
		[]string{conf.Devices.Microphone, conf.Devices.CableCapture},
		os.Getpid(),
		conf.GracePeriod(),
		m.verbose,
	)

	switcher := newDefaultSwitcher(m.logger, m.backend.defaults)

	m.controller = newController(
		m.logger,
		m.notifier,
		correlator,
		switcher,
		m.passthrough,
		m.backend.directory,
		conf.Devices.CableCapture,
		conf.PollInterval(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.monitorCancel = cancel
	m.monitorDone = done

	controller := m.controller

	go func() {
		controller.Run(ctx)
		close(done)
	}()
}

// stopMonitor cancels the polling loop and waits for its terminal forced
// transition (pipeline stopped, original device restored) to finish.
func (m *Micbridge) stopMonitor() {
	m.monitorLock.Lock()
	defer m.monitorLock.Unlock()

	if m.controller == nil {
		return
	}

	m.monitorCancel()
	<-m.monitorDone

	m.controller = nil
	m.monitorCancel = nil
	m.monitorDone = nil
}

// pauseMonitoring halts call detection. The forced idle transition inside
// stopMonitor restores the original default device first.
func (m *Micbridge) pauseMonitoring() {
	m.logger.Info("Pausing auto-switch monitoring")
	m.stopMonitor()
}

// resumeMonitoring restarts call detection with the current config. No-op when
// auto-switch is disabled there.
func (m *Micbridge) resumeMonitoring() {
	if !m.currConf().AutoSwitch.Enabled {
		m.logger.Debug("Auto-switch disabled in config, not resuming monitoring")
		return
	}

	m.logger.Info("Resuming auto-switch monitoring")
	m.startMonitor()
}

// startManualPassthrough runs the passthrough with no monitoring attached, for
// configs that disable auto-switching.
func (m *Micbridge) startManualPassthrough() {
	m.logger.Info("Auto-switch disabled, starting passthrough unconditionally")

	if err := m.passthrough.Start(); err != nil {
		m.logger.Errorw("Failed to start passthrough", "error", err)
		m.notifier.Notify("Passthrough failed to start!", "Please check micbridge's logs for more details.")
	}
}

func (m *Micbridge) restartMonitor() {
	m.stopMonitor()

	// in manual mode the monitor never owned the passthrough, so it may still
	// be running with the pre-reload device names
	m.passthrough.Stop()

	m.passthrough = m.newPipeline(
		m.currConf().Devices.Microphone,
		m.currConf().Devices.CableRender,
	)

	if m.currConf().AutoSwitch.Enabled {
		m.startMonitor()
	} else {
		m.startManualPassthrough()
	}
}

func (m *Micbridge) signalStop() {
	m.logger.Debug("Signalling stop channel")
	m.stopChannel <- true
}

func (m *Micbridge) stop() error {
	m.logger.Info("Stopping")

	m.configMan.StopWatchingConfigFile()

	// the forced idle transition inside guarantees the original default
	// device is restored before we let the process exit
	m.stopMonitor()

	m.passthrough.Stop()

	if err := m.backend.Release(); err != nil {
		m.logger.Errorw("Failed to release audio backend", "error", err)
		return fmt.Errorf("release audio backend: %w", err)
	}

	if m.runningWithTray {
		m.stopTray()
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = m.logger.Sync()

	return nil
}
