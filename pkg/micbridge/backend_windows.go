package micbridge

import (
	"go.uber.org/zap"
)

// audioBackend groups the platform implementations of the three seams the
// core operates through.
type audioBackend struct {
	directory DeviceDirectory
	sessions  sessionLister
	defaults  defaultDeviceAPI

	releaseFuncs []func() error
}

func newAudioBackend(logger *zap.SugaredLogger) (*audioBackend, error) {
	directory, err := newDeviceDirectory(logger)
	if err != nil {
		return nil, err
	}

	sessions, err := newWCASessionLister(logger)
	if err != nil {
		_ = directory.Release()
		return nil, err
	}

	defaults, err := newWCADefaultDeviceAPI(logger)
	if err != nil {
		_ = sessions.Release()
		_ = directory.Release()
		return nil, err
	}

	return &audioBackend{
		directory: directory,
		sessions:  sessions,
		defaults:  defaults,
		releaseFuncs: []func() error{
			defaults.Release,
			sessions.Release,
			directory.Release,
		},
	}, nil
}

func (b *audioBackend) Release() error {
	for _, release := range b.releaseFuncs {
		if err := release(); err != nil {
			return err
		}
	}

	return nil
}
