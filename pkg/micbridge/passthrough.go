package micbridge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// Passthrough continuously copies audio from the physical microphone into the
// cable render endpoint, bypassing the OS's buggy gain handling of the mic.
// It runs a single full-duplex miniaudio device whose data callback copies
// capture frames straight to the playback buffer.
type Passthrough struct {
	logger *zap.SugaredLogger

	micName   string
	cableName string

	sampleRate uint32
	channels   uint32

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func newPassthrough(logger *zap.SugaredLogger, micName, cableName string) *Passthrough {
	return &Passthrough{
		logger:     logger.Named("passthrough"),
		micName:    micName,
		cableName:  cableName,
		sampleRate: 48000,
		channels:   1,
	}
}

// Start acquires both devices and begins the capture->render copy. Calling it
// while already running is a no-op. Device names are matched against
// miniaudio's device list, which uses the same friendly names as the OS mixer.
func (p *Passthrough) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		p.logger.Debug("Passthrough already running")
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		p.logger.Debugw("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return fmt.Errorf("init miniaudio context: %w", err)
	}

	captureID, err := p.findDeviceID(ctx, malgo.Capture, p.micName)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return err
	}

	playbackID, err := p.findDeviceID(ctx, malgo.Playback, p.cableName)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = p.channels
	deviceConfig.Capture.DeviceID = captureID.Pointer()
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = p.channels
	deviceConfig.Playback.DeviceID = playbackID.Pointer()
	deviceConfig.SampleRate = p.sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSample []byte, frameCount uint32) {
			// same format on both sides, so a straight copy is enough
			copy(pOutputSample, pInputSample)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init passthrough device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start passthrough device: %w", err)
	}

	p.ctx = ctx
	p.device = device

	p.logger.Infow("Passthrough started",
		"microphone", p.micName,
		"cable", p.cableName,
		"sampleRate", p.sampleRate,
		"channels", p.channels)

	return nil
}

// Stop halts the copy and releases both device handles. Calling it while not
// running is a no-op.
func (p *Passthrough) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device == nil {
		p.logger.Debug("Passthrough not running, nothing to stop")
		return
	}

	p.device.Uninit()
	p.device = nil

	_ = p.ctx.Uninit()
	p.ctx.Free()
	p.ctx = nil

	p.logger.Info("Passthrough stopped")
}

func (p *Passthrough) findDeviceID(
	ctx *malgo.AllocatedContext,
	deviceType malgo.DeviceType,
	name string,
) (malgo.DeviceID, error) {
	devices, err := ctx.Devices(deviceType)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("list miniaudio devices: %w", err)
	}

	for _, device := range devices {
		if device.Name() == name {
			return device.ID, nil
		}
	}

	return malgo.DeviceID{}, fmt.Errorf("%w: %q", ErrEndpointNotFound, name)
}
