package main

import (
	"flag"
	"fmt"

	"github.com/micbridge/micbridge/pkg/micbridge"
	"github.com/micbridge/micbridge/pkg/micbridge/util"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose     bool
	listDevices bool
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "show verbose logs (useful for debugging session detection)")
	flag.BoolVar(&verbose, "v", false, "shorthand for --verbose")
	flag.BoolVar(&listDevices, "list-devices", false, "print all audio devices and exit")
	flag.Parse()
}

func main() {
	logger, err := micbridge.NewLogger(buildType)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	if err := util.CreateMutex("micbridge"); err != nil {
		named.Fatalw("Another micbridge instance appears to be running", "error", err)
	}

	m, err := micbridge.NewMicbridge(logger, verbose)
	if err != nil {
		named.Fatalw("Failed to create micbridge object", "error", err)
	}

	if listDevices {
		if err := m.ListDevices(); err != nil {
			named.Fatalw("Failed to list devices", "error", err)
		}

		return
	}

	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		versionString := fmt.Sprintf("Version %s-%s", buildType, identifier)
		m.SetVersion(versionString)
	}

	if err = m.Initialize(); err != nil {
		named.Fatalw("Failed to initialize micbridge", "error", err)
	}
}
