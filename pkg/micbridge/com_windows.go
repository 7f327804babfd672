package micbridge

import (
	"errors"
	"fmt"

	"github.com/go-ole/go-ole"
	"go.uber.org/zap"
)

// comInitialize calls CoInitializeEx for the calling goroutine's thread.
// A redundant invocation (E_FALSE) is tolerated, matching how the rest of the
// process may already have initialized the apartment.
func comInitialize(logger *zap.SugaredLogger) error {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// E_FALSE means that the call was redundant.
		const eFalse = 1
		oleError := &ole.OleError{}

		if errors.As(err, &oleError) {
			if oleError.Code() == eFalse {
				logger.Warn("CoInitializeEx failed with E_FALSE due to redundant invocation")
				return nil
			}

			logger.Warnw("Failed to call CoInitializeEx",
				"isOleError", true,
				"error", err,
				"oleError", oleError)

			return fmt.Errorf("call CoInitializeEx: %w", err)
		}

		logger.Warnw("Failed to call CoInitializeEx",
			"isOleError", false,
			"error", err,
			"oleError", nil)

		return fmt.Errorf("call CoInitializeEx: %w", err)
	}

	return nil
}
