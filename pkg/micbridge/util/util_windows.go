package util

import (
	"github.com/rodolfoag/gow32"
)

func CreateMutex(name string) error {
	// cannot use w32.CreateMutex as it doesn't return an error
	// relying on OS to release it on program exit
	_, err := gow32.CreateMutex("Global//" + name)
	return err
}
