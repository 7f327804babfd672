package micbridge

import (
	"fmt"

	"github.com/mitchellh/go-ps"
)

// psProcessLister lists processes through the OS process snapshot. The full
// list is re-read on every call; the target application may restart at any
// time, so nothing is assumed stable.
type psProcessLister struct{}

func (psProcessLister) Processes() ([]processInfo, error) {
	processes, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	result := make([]processInfo, 0, len(processes))
	for _, process := range processes {
		result = append(result, processInfo{
			PID:        process.Pid(),
			Executable: process.Executable(),
		})
	}

	return result, nil
}
