package micbridge

import (
	"fmt"

	"github.com/diegosz/go-wca/pkg/wca"
	"go.uber.org/zap"
)

// wcaDefaultDeviceAPI implements defaultDeviceAPI over the real audio stack:
// reads go through the documented device enumerator, writes go through
// IPolicyConfig. The persisted-settings route (writing the role properties to
// the registry) is deliberately not used - the audio engine never reads it
// back.
type wcaDefaultDeviceAPI struct {
	logger *zap.SugaredLogger

	mmDeviceEnumerator *wca.IMMDeviceEnumerator
	policyConfig       *IPolicyConfig
}

var wcaRoles = map[Role]uint32{
	RoleConsole:        uint32(wca.EConsole),
	RoleMultimedia:     uint32(wca.EMultimedia),
	RoleCommunications: uint32(wca.ECommunications),
}

func newWCADefaultDeviceAPI(logger *zap.SugaredLogger) (*wcaDefaultDeviceAPI, error) {
	api := &wcaDefaultDeviceAPI{
		logger: logger.Named("default_device"),
	}

	if err := comInitialize(api.logger); err != nil {
		return nil, err
	}

	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&api.mmDeviceEnumerator,
	); err != nil {
		api.logger.Warnw("Failed to call CoCreateInstance", "error", err)
		return nil, fmt.Errorf("call CoCreateInstance: %w", err)
	}

	policyConfig, err := newPolicyConfig()
	if err != nil {
		api.mmDeviceEnumerator.Release()
		api.logger.Warnw("Failed to create PolicyConfig instance", "error", err)
		return nil, err
	}
	api.policyConfig = policyConfig

	api.logger.Debug("Created WCA default device API instance")
	return api, nil
}

func (api *wcaDefaultDeviceAPI) Release() error {
	if api.policyConfig != nil {
		api.policyConfig.Release()
		api.policyConfig = nil
	}

	if api.mmDeviceEnumerator != nil {
		api.mmDeviceEnumerator.Release()
		api.mmDeviceEnumerator = nil
	}

	api.logger.Debug("Released WCA default device API instance")
	return nil
}

func (api *wcaDefaultDeviceAPI) DefaultEndpointID(role Role) (string, error) {
	var device *wca.IMMDevice

	if err := api.mmDeviceEnumerator.GetDefaultAudioEndpoint(wca.ECapture, wcaRoles[role], &device); err != nil {
		return "", fmt.Errorf("get default capture endpoint for role %s: %w", role, err)
	}
	defer device.Release()

	var endpointID string
	if err := device.GetId(&endpointID); err != nil {
		return "", fmt.Errorf("get default capture endpoint id: %w", err)
	}

	return endpointID, nil
}

func (api *wcaDefaultDeviceAPI) SetDefaultEndpoint(endpointID string, role Role) error {
	if err := api.policyConfig.SetDefaultEndpoint(endpointID, wcaRoles[role]); err != nil {
		return fmt.Errorf("set default endpoint for role %s: %w", role, err)
	}

	return nil
}
