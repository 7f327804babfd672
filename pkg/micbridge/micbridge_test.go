package micbridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type manualModeFixture struct {
	m         *Micbridge
	notifier  *recordingNotifier
	log       *eventLog
	pipelines []*seqPipeline
}

// newManualModeFixture wires a Micbridge with auto-switch disabled and a
// scripted pipeline factory, skipping the platform backend entirely.
func newManualModeFixture(t *testing.T) *manualModeFixture {
	t.Helper()

	f := &manualModeFixture{
		notifier: &recordingNotifier{},
		log:      &eventLog{},
	}

	configMan, err := NewConfig(zap.NewNop().Sugar(), f.notifier)
	require.NoError(t, err)
	configMan.current = Config{
		Devices: DevicesConfig{
			Microphone:   "Mic",
			CableRender:  "Cable In",
			CableCapture: "Cable Out",
		},
		AutoSwitch: AutoSwitchConfig{
			Enabled:        false,
			TargetProcess:  testTargetName,
			PollIntervalMs: 500,
		},
	}

	f.m = &Micbridge{
		logger:      zap.NewNop().Sugar(),
		notifier:    f.notifier,
		configMan:   configMan,
		stopChannel: make(chan bool),
	}
	f.m.newPipeline = func(micName, cableName string) Pipeline {
		p := &seqPipeline{log: f.log}
		f.pipelines = append(f.pipelines, p)
		return p
	}

	f.m.passthrough = f.m.newPipeline(
		configMan.current.Devices.Microphone,
		configMan.current.Devices.CableRender,
	)

	return f
}

func TestManualModeReloadSwapsRunningPassthrough(t *testing.T) {
	f := newManualModeFixture(t)

	f.m.startManualPassthrough()
	require.Equal(t, []string{"pipeline.start"}, f.log.all())

	// config reload path: the running pipeline must be stopped before it is
	// replaced, and the replacement must be started
	f.m.restartMonitor()

	require.Len(t, f.pipelines, 2)
	assert.Equal(t, []string{"pipeline.start", "pipeline.stop", "pipeline.start"}, f.log.all())
	assert.Equal(t, 1, f.pipelines[0].stopCalls)
	assert.Equal(t, 1, f.pipelines[1].startCalls)
	assert.Zero(t, f.pipelines[1].stopCalls)
}

func TestManualModeReloadStartFailureNotifies(t *testing.T) {
	f := newManualModeFixture(t)

	f.m.startManualPassthrough()

	f.m.newPipeline = func(micName, cableName string) Pipeline {
		p := &seqPipeline{log: f.log, startErr: errors.New("device busy")}
		f.pipelines = append(f.pipelines, p)
		return p
	}

	f.m.restartMonitor()

	assert.Equal(t, 1, f.pipelines[0].stopCalls)
	assert.Contains(t, f.notifier.notifications, "Passthrough failed to start!")
}
