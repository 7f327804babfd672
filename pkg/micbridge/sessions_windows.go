package micbridge

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/diegosz/go-wca/pkg/wca"
	"go.uber.org/zap"
)

// wcaSessionLister enumerates the live audio sessions of a capture endpoint.
// Every call is a fresh enumeration; session objects are released before
// returning and nothing COM-owned survives the call.
type wcaSessionLister struct {
	logger *zap.SugaredLogger

	mmDeviceEnumerator *wca.IMMDeviceEnumerator
}

func newWCASessionLister(logger *zap.SugaredLogger) (*wcaSessionLister, error) {
	sl := &wcaSessionLister{
		logger: logger.Named("session_lister"),
	}

	if err := comInitialize(sl.logger); err != nil {
		return nil, err
	}

	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&sl.mmDeviceEnumerator,
	); err != nil {
		sl.logger.Warnw("Failed to call CoCreateInstance", "error", err)
		return nil, fmt.Errorf("call CoCreateInstance: %w", err)
	}

	sl.logger.Debug("Created WCA session lister instance")
	return sl, nil
}

func (sl *wcaSessionLister) Release() error {
	if sl.mmDeviceEnumerator != nil {
		sl.mmDeviceEnumerator.Release()
		sl.mmDeviceEnumerator = nil
	}

	sl.logger.Debug("Released WCA session lister instance")
	return nil
}

func (sl *wcaSessionLister) Sessions(endpointID string) ([]audioSession, error) {
	var device *wca.IMMDevice

	if err := sl.mmDeviceEnumerator.GetDevice(endpointID, &device); err != nil {
		sl.logger.Warnw("Failed to get device for endpoint", "endpointID", endpointID, "error", err)
		return nil, fmt.Errorf("get device for endpoint: %w", err)
	}
	defer device.Release()

	var audioSessionManager2 *wca.IAudioSessionManager2

	if err := device.Activate(
		wca.IID_IAudioSessionManager2,
		wca.CLSCTX_ALL,
		nil,
		&audioSessionManager2,
	); err != nil {
		sl.logger.Warnw("Failed to activate endpoint as IAudioSessionManager2", "error", err)
		return nil, fmt.Errorf("activate endpoint: %w", err)
	}
	defer audioSessionManager2.Release()

	var sessionEnumerator *wca.IAudioSessionEnumerator

	if err := audioSessionManager2.GetSessionEnumerator(&sessionEnumerator); err != nil {
		return nil, fmt.Errorf("get session enumerator: %w", err)
	}
	defer sessionEnumerator.Release()

	var sessionCount int
	if err := sessionEnumerator.GetCount(&sessionCount); err != nil {
		sl.logger.Warnw("Failed to get session count from session enumerator", "error", err)
		return nil, fmt.Errorf("get session count: %w", err)
	}

	sessions := make([]audioSession, 0, sessionCount)

	for sessionIdx := 0; sessionIdx < sessionCount; sessionIdx++ {
		session, err := sl.inspectSession(sessionEnumerator, sessionIdx)
		if err != nil {
			sl.logger.Warnw("Failed to inspect a session, skipping it",
				"error", err,
				"sessionIdx", sessionIdx)
			continue
		}

		sessions = append(sessions, session)
	}

	return sessions, nil
}

func (sl *wcaSessionLister) inspectSession(
	sessionEnumerator *wca.IAudioSessionEnumerator,
	sessionIdx int,
) (audioSession, error) {
	var audioSessionControl *wca.IAudioSessionControl
	if err := sessionEnumerator.GetSession(sessionIdx, &audioSessionControl); err != nil {
		return audioSession{}, fmt.Errorf("get session %d from enumerator: %w", sessionIdx, err)
	}
	defer audioSessionControl.Release()

	var state uint32
	if err := audioSessionControl.GetState(&state); err != nil {
		return audioSession{}, fmt.Errorf("get session %d state: %w", sessionIdx, err)
	}

	var displayName string
	if err := audioSessionControl.GetDisplayName(&displayName); err != nil {
		// plenty of sessions simply don't set one
		displayName = ""
	}

	dispatch, err := audioSessionControl.QueryInterface(wca.IID_IAudioSessionControl2)
	if err != nil {
		return audioSession{}, fmt.Errorf("query session %d IAudioSessionControl2: %w", sessionIdx, err)
	}

	audioSessionControl2 := (*wca.IAudioSessionControl2)(unsafe.Pointer(dispatch))
	defer audioSessionControl2.Release()

	isSystem := audioSessionControl2.IsSystemSoundsSession() == nil

	var pid uint32
	if err := audioSessionControl2.GetProcessId(&pid); err != nil {
		// the system sounds session (and UWP apps) error here with
		// AUDCLNT_S_NO_CURRENT_PROCESS (143196173 in decimal); for UWP the pid
		// is still populated despite the non-nil error
		if !isSystem && !strings.Contains(err.Error(), "143196173") {
			return audioSession{}, fmt.Errorf("get session %d pid: %w", sessionIdx, err)
		}
	}

	return audioSession{
		PID:         pid,
		DisplayName: displayName,
		State:       sessionState(state),
		IsSystem:    isSystem,
	}, nil
}
