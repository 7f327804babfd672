package micbridge

import (
	"time"

	"fyne.io/systray"

	"github.com/micbridge/micbridge/pkg/micbridge/util"
)

const trayStatusRefreshInterval = time.Second

func (m *Micbridge) initializeTray(onDone func()) {
	logger := m.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTitle("micbridge")
		systray.SetTooltip("micbridge")

		status := systray.AddMenuItem("Status: idle", "Whether a call is currently detected")
		status.Disable()

		pauseResume := systray.AddMenuItem("Pause auto-switch", "Temporarily stop call detection")
		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with notepad")

		if m.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(m.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop micbridge and quit")

		// keep the status item in sync with the monitor
		go func() {
			ticker := time.NewTicker(trayStatusRefreshInterval)
			defer ticker.Stop()

			inCall := false

			for range ticker.C {
				nowInCall := m.IsDeviceInUse()
				if nowInCall == inCall {
					continue
				}

				inCall = nowInCall
				if inCall {
					status.SetTitle("Status: in call")
				} else {
					status.SetTitle("Status: idle")
				}
			}
		}()

		go func() {
			paused := false

			for {
				select {
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					m.signalStop()

				case <-pauseResume.ClickedCh:
					if paused {
						logger.Info("Resume menu item clicked")
						m.resumeMonitoring()
						pauseResume.SetTitle("Pause auto-switch")
					} else {
						logger.Info("Pause menu item clicked")
						m.pauseMonitoring()
						pauseResume.SetTitle("Resume auto-switch")
					}

					paused = !paused

				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					editor := "notepad.exe"
					if util.Linux() {
						editor = "gedit"
					}

					if err := util.OpenExternal(logger, editor, userConfigFilepath); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}
				}
			}
		}()

		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (m *Micbridge) stopTray() {
	m.logger.Debug("Quitting tray")
	systray.Quit()
}
