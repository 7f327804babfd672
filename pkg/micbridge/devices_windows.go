package micbridge

import (
	"fmt"

	"github.com/diegosz/go-wca/pkg/wca"
	"go.uber.org/zap"
)

type wcaDeviceDirectory struct {
	logger *zap.SugaredLogger

	mmDeviceEnumerator *wca.IMMDeviceEnumerator
}

const deviceStateMaskAll = wca.DEVICE_STATE_ACTIVE |
	wca.DEVICE_STATE_DISABLED |
	wca.DEVICE_STATE_NOTPRESENT |
	wca.DEVICE_STATE_UNPLUGGED

func newDeviceDirectory(logger *zap.SugaredLogger) (*wcaDeviceDirectory, error) {
	dd := &wcaDeviceDirectory{
		logger: logger.Named("devices"),
	}

	if err := comInitialize(dd.logger); err != nil {
		return nil, err
	}

	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&dd.mmDeviceEnumerator,
	); err != nil {
		dd.logger.Warnw("Failed to call CoCreateInstance", "error", err)
		return nil, fmt.Errorf("call CoCreateInstance: %w", err)
	}

	dd.logger.Debug("Created WCA device directory instance")
	return dd, nil
}

func (dd *wcaDeviceDirectory) Release() error {
	if dd.mmDeviceEnumerator != nil {
		dd.mmDeviceEnumerator.Release()
		dd.mmDeviceEnumerator = nil
	}

	dd.logger.Debug("Released WCA device directory instance")
	return nil
}

// Resolve enumerates active endpoints on every call. Endpoints come and go
// with hardware changes, so nothing here is cached.
func (dd *wcaDeviceDirectory) Resolve(flow DataFlow, name string) (Endpoint, error) {
	endpoints, err := dd.enumerate(flow, wca.DEVICE_STATE_ACTIVE)
	if err != nil {
		return Endpoint{}, err
	}

	for _, endpoint := range endpoints {
		if endpoint.Name == name {
			return endpoint, nil
		}
	}

	dd.logger.Debugw("No endpoint matched name",
		"flow", flow.String(),
		"name", name,
		"activeCount", len(endpoints))

	return Endpoint{}, fmt.Errorf("%w: %q (%s)", ErrEndpointNotFound, name, flow)
}

func (dd *wcaDeviceDirectory) ListAll(flow DataFlow) ([]Endpoint, error) {
	return dd.enumerate(flow, deviceStateMaskAll)
}

func (dd *wcaDeviceDirectory) enumerate(flow DataFlow, stateMask uint32) ([]Endpoint, error) {
	dataFlow := wca.ECapture
	if flow == FlowRender {
		dataFlow = wca.ERender
	}

	var deviceCollection *wca.IMMDeviceCollection

	if err := dd.mmDeviceEnumerator.EnumAudioEndpoints(uint32(dataFlow), stateMask, &deviceCollection); err != nil {
		dd.logger.Warnw("Failed to enumerate audio endpoints", "flow", flow.String(), "error", err)
		return nil, fmt.Errorf("enumerate audio endpoints: %w", err)
	}
	defer deviceCollection.Release()

	var deviceCount uint32

	if err := deviceCollection.GetCount(&deviceCount); err != nil {
		dd.logger.Warnw("Failed to get device count from device collection", "error", err)
		return nil, fmt.Errorf("get device count from device collection: %w", err)
	}

	endpoints := make([]Endpoint, 0, deviceCount)

	for deviceIdx := uint32(0); deviceIdx < deviceCount; deviceIdx++ {
		endpoint, err := func() (Endpoint, error) {
			var device *wca.IMMDevice

			if err := deviceCollection.Item(deviceIdx, &device); err != nil {
				dd.logger.Warnw("Failed to get device from device collection",
					"deviceIdx", deviceIdx,
					"error", err)

				return Endpoint{}, fmt.Errorf("get device %d from device collection: %w", deviceIdx, err)
			}
			defer device.Release()

			var endpointID string
			if err := device.GetId(&endpointID); err != nil {
				dd.logger.Warnw("Failed to get device id", "deviceIdx", deviceIdx, "error", err)
				return Endpoint{}, fmt.Errorf("get device %d id: %w", deviceIdx, err)
			}

			var deviceState uint32
			if err := device.GetState(&deviceState); err != nil {
				dd.logger.Warnw("Failed to get device state", "deviceIdx", deviceIdx, "error", err)
				return Endpoint{}, fmt.Errorf("get device %d state: %w", deviceIdx, err)
			}

			friendlyName, err := dd.getEndpointFriendlyName(device)
			if err != nil {
				return Endpoint{}, err
			}

			return Endpoint{
				ID:    endpointID,
				Name:  friendlyName,
				Flow:  flow,
				State: EndpointState(deviceState),
			}, nil
		}()
		if err != nil {
			return nil, err
		}

		endpoints = append(endpoints, endpoint)
	}

	return endpoints, nil
}

func (dd *wcaDeviceDirectory) getEndpointFriendlyName(device *wca.IMMDevice) (string, error) {
	var propertyStore *wca.IPropertyStore

	if err := device.OpenPropertyStore(wca.STGM_READ, &propertyStore); err != nil {
		dd.logger.Warnw("Failed to open property store for endpoint", "error", err)
		return "", fmt.Errorf("open endpoint property store: %w", err)
	}
	defer propertyStore.Release()

	value := &wca.PROPVARIANT{}

	if err := propertyStore.GetValue(&wca.PKEY_Device_FriendlyName, value); err != nil {
		dd.logger.Warnw("Failed to get friendly name for device", "error", err)
		return "", fmt.Errorf("get device friendly name: %w", err)
	}

	// device friendly name i.e. "Microphone (Realtek Audio)"
	return value.String(), nil
}
