package micbridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	notifications []string
}

func (n *recordingNotifier) Notify(title string, _ string) {
	n.notifications = append(n.notifications, title)
}

func writeTestConfig(t *testing.T, contents string) {
	t.Helper()
	t.Chdir(t.TempDir())

	require.NoError(t, os.WriteFile(filepath.Join(".", userConfigFilepath), []byte(contents), 0o644))
}

func newTestConfigManager(t *testing.T) (*ConfigManager, *recordingNotifier) {
	t.Helper()

	notifier := &recordingNotifier{}
	cc, err := NewConfig(zap.NewNop().Sugar(), notifier)
	require.NoError(t, err)

	return cc, notifier
}

func TestConfigLoadAppliesDefaults(t *testing.T) {
	writeTestConfig(t, `
devices:
  microphone: "Microphone (Realtek Audio)"
`)

	cc, _ := newTestConfigManager(t)
	require.NoError(t, cc.Load())

	assert.Equal(t, "Microphone (Realtek Audio)", cc.current.Devices.Microphone)
	assert.Equal(t, defaultCableRender, cc.current.Devices.CableRender)
	assert.Equal(t, defaultCableCapture, cc.current.Devices.CableCapture)
	assert.Equal(t, defaultTargetProcess, cc.current.AutoSwitch.TargetProcess)
	assert.True(t, cc.current.AutoSwitch.Enabled)
	assert.EqualValues(t, 500, cc.current.AutoSwitch.PollIntervalMs)
	assert.Zero(t, cc.current.AutoSwitch.GracePeriodMs)
}

func TestConfigLoadOverrides(t *testing.T) {
	writeTestConfig(t, `
devices:
  microphone: "Mic"
  cable_render: "Cable In"
  cable_capture: "Cable Out"
auto_switch:
  enabled: false
  target_process: "zoom.exe"
  poll_interval_ms: 250
  grace_period_ms: 1500
disable_tray: true
`)

	cc, _ := newTestConfigManager(t)
	require.NoError(t, cc.Load())

	assert.Equal(t, "zoom.exe", cc.current.AutoSwitch.TargetProcess)
	assert.False(t, cc.current.AutoSwitch.Enabled)
	assert.True(t, cc.current.DisableTray)
	assert.Equal(t, 250*time.Millisecond, cc.current.PollInterval())
	assert.Equal(t, 1500*time.Millisecond, cc.current.GracePeriod())
}

func TestConfigLoadRejectsMissingMicrophone(t *testing.T) {
	writeTestConfig(t, `
auto_switch:
  enabled: true
`)

	cc, notifier := newTestConfigManager(t)
	require.Error(t, cc.Load())
	assert.NotEmpty(t, notifier.notifications)
}

func TestConfigLoadRejectsOutOfRangeInterval(t *testing.T) {
	writeTestConfig(t, `
devices:
  microphone: "Mic"
auto_switch:
  poll_interval_ms: 5
`)

	cc, _ := newTestConfigManager(t)
	require.Error(t, cc.Load())
}

func TestConfigLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cc, notifier := newTestConfigManager(t)
	require.Error(t, cc.Load())
	assert.Contains(t, notifier.notifications, "Can't find configuration!")
}
