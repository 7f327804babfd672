package micbridge

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
)

// IPolicyConfig is the undocumented policy-configuration interface the OS
// audio control panel itself uses to change default endpoints. It is the only
// mechanism the audio engine actually reads back; writing the persisted
// device-role properties directly does not take effect.
var (
	CLSID_PolicyConfigClient = ole.NewGUID("{870AF99C-171D-4F9E-AF0D-E63DF40C2BC9}")
	IID_IPolicyConfig        = ole.NewGUID("{F8679F50-850A-41CF-9C72-430F290290C8}")
)

type IPolicyConfig struct {
	ole.IUnknown
}

type IPolicyConfigVtbl struct {
	ole.IUnknownVtbl
	GetMixFormat          uintptr
	GetDeviceFormat       uintptr
	ResetDeviceFormat     uintptr
	SetDeviceFormat       uintptr
	GetProcessingPeriod   uintptr
	SetProcessingPeriod   uintptr
	GetShareMode          uintptr
	SetShareMode          uintptr
	GetPropertyValue      uintptr
	SetPropertyValue      uintptr
	SetDefaultEndpoint    uintptr
	SetEndpointVisibility uintptr
}

func (v *IPolicyConfig) VTable() *IPolicyConfigVtbl {
	return (*IPolicyConfigVtbl)(unsafe.Pointer(v.RawVTable))
}

func (v *IPolicyConfig) SetDefaultEndpoint(deviceID string, role uint32) error {
	wszDeviceID, err := syscall.UTF16PtrFromString(deviceID)
	if err != nil {
		return fmt.Errorf("encode device id: %w", err)
	}

	hr, _, _ := syscall.SyscallN(
		v.VTable().SetDefaultEndpoint,
		uintptr(unsafe.Pointer(v)),
		uintptr(unsafe.Pointer(wszDeviceID)),
		uintptr(role),
	)
	if hr != 0 {
		return ole.NewError(hr)
	}
	return nil
}

func newPolicyConfig() (*IPolicyConfig, error) {
	unk, err := ole.CreateInstance(CLSID_PolicyConfigClient, IID_IPolicyConfig)
	if err != nil {
		return nil, fmt.Errorf("create PolicyConfig instance: %w", err)
	}

	return (*IPolicyConfig)(unsafe.Pointer(unk)), nil
}
