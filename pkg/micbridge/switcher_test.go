package micbridge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type setCall struct {
	endpointID string
	role       Role
}

// fakeDefaultDeviceAPI scripts per-role defaults and set failures, recording
// every assignment in order.
type fakeDefaultDeviceAPI struct {
	defaults map[Role]string
	setErrs  map[Role]error

	setCalls []setCall
}

func newFakeDefaultDeviceAPI() *fakeDefaultDeviceAPI {
	return &fakeDefaultDeviceAPI{
		defaults: make(map[Role]string),
		setErrs:  make(map[Role]error),
	}
}

func (f *fakeDefaultDeviceAPI) DefaultEndpointID(role Role) (string, error) {
	id, ok := f.defaults[role]
	if !ok {
		return "", fmt.Errorf("no default for role %s", role)
	}

	return id, nil
}

func (f *fakeDefaultDeviceAPI) SetDefaultEndpoint(endpointID string, role Role) error {
	if err := f.setErrs[role]; err != nil {
		return err
	}

	f.setCalls = append(f.setCalls, setCall{endpointID, role})
	f.defaults[role] = endpointID
	return nil
}

func (f *fakeDefaultDeviceAPI) failAllRoles(err error) {
	for _, role := range rolePriority {
		f.setErrs[role] = err
	}
}

func newTestSwitcher(api defaultDeviceAPI) *DefaultSwitcher {
	return newDefaultSwitcher(zap.NewNop().Sugar(), api)
}

func TestCaptureOriginalPrefersConsoleRole(t *testing.T) {
	api := newFakeDefaultDeviceAPI()
	api.defaults[RoleConsole] = "mic-console"
	api.defaults[RoleMultimedia] = "mic-multimedia"
	api.defaults[RoleCommunications] = "mic-comms"

	s := newTestSwitcher(api)

	require.NoError(t, s.CaptureOriginal())
	assert.Equal(t, "mic-console", s.state.originalID)
}

func TestCaptureOriginalFallsBackToCommunications(t *testing.T) {
	api := newFakeDefaultDeviceAPI()
	api.defaults[RoleCommunications] = "mic-comms"

	s := newTestSwitcher(api)

	require.NoError(t, s.CaptureOriginal())
	assert.Equal(t, "mic-comms", s.state.originalID)
}

func TestCaptureOriginalFailsWhenNoRoleHasDefault(t *testing.T) {
	s := newTestSwitcher(newFakeDefaultDeviceAPI())

	require.Error(t, s.CaptureOriginal())
	assert.False(t, s.HasOriginal())
}

func TestCaptureOriginalKeepsAlreadySavedOriginal(t *testing.T) {
	api := newFakeDefaultDeviceAPI()
	api.defaults[RoleConsole] = "mic-original"

	s := newTestSwitcher(api)
	require.NoError(t, s.CaptureOriginal())

	// the default changes under us (e.g. activation already happened)
	api.defaults[RoleConsole] = "cable-capture"

	require.NoError(t, s.CaptureOriginal())
	assert.Equal(t, "mic-original", s.state.originalID,
		"a second capture before a restore must not overwrite the true original")
}

func TestActivateSetsAllRoles(t *testing.T) {
	api := newFakeDefaultDeviceAPI()
	s := newTestSwitcher(api)

	require.NoError(t, s.Activate("cable-capture"))

	require.Len(t, api.setCalls, len(rolePriority))
	for i, role := range rolePriority {
		assert.Equal(t, setCall{"cable-capture", role}, api.setCalls[i])
	}
}

func TestActivateSucceedsWhenOneRoleSucceeds(t *testing.T) {
	api := newFakeDefaultDeviceAPI()
	api.setErrs[RoleConsole] = errors.New("access denied")
	api.setErrs[RoleMultimedia] = errors.New("access denied")

	s := newTestSwitcher(api)

	require.NoError(t, s.Activate("cable-capture"))
	require.Len(t, api.setCalls, 1)
	assert.Equal(t, RoleCommunications, api.setCalls[0].role)
}

func TestActivateFailsOnlyWhenAllRolesFail(t *testing.T) {
	api := newFakeDefaultDeviceAPI()
	api.failAllRoles(errors.New("access denied"))

	s := newTestSwitcher(api)

	err := s.Activate("cable-capture")
	require.ErrorIs(t, err, ErrAllRolesFailed)
	assert.Empty(t, api.setCalls)
}

func TestActivateFailureDoesNotCorruptSavedOriginal(t *testing.T) {
	api := newFakeDefaultDeviceAPI()
	api.defaults[RoleConsole] = "mic-original"

	s := newTestSwitcher(api)
	require.NoError(t, s.CaptureOriginal())

	api.failAllRoles(errors.New("access denied"))
	require.Error(t, s.Activate("cable-capture"))

	assert.True(t, s.HasOriginal())
	assert.Equal(t, "mic-original", s.state.originalID)
}

func TestRestoreIsIdempotent(t *testing.T) {
	api := newFakeDefaultDeviceAPI()
	api.defaults[RoleConsole] = "mic-original"

	s := newTestSwitcher(api)
	require.NoError(t, s.CaptureOriginal())
	require.NoError(t, s.Activate("cable-capture"))

	require.NoError(t, s.Restore())
	assert.False(t, s.HasOriginal())

	callsAfterFirstRestore := len(api.setCalls)

	// second restore with nothing saved reports the failure without touching
	// the device
	err := s.Restore()
	require.ErrorIs(t, err, ErrNoOriginalSaved)
	assert.Len(t, api.setCalls, callsAfterFirstRestore)
}

func TestRestoreKeepsStateOnFailure(t *testing.T) {
	api := newFakeDefaultDeviceAPI()
	api.defaults[RoleConsole] = "mic-original"

	s := newTestSwitcher(api)
	require.NoError(t, s.CaptureOriginal())

	api.failAllRoles(errors.New("device gone"))
	require.Error(t, s.Restore())
	assert.True(t, s.HasOriginal(), "a failed restore must keep the saved original for the next attempt")

	api.setErrs = map[Role]error{}
	require.NoError(t, s.Restore())
	assert.False(t, s.HasOriginal())
	assert.Equal(t, "mic-original", api.defaults[RoleConsole])
}
