package main

import (
	"fmt"
	"os"

	"code.hybscloud.com/wlappidproxy/internal/cli"
	"code.hybscloud.com/wlappidproxy/internal/xerr"
)

// Set via -ldflags at release build time.
var (
	Version   string
	BuildTime string
	GitCommit string
)

func main() {
	if Version != "" {
		cli.Version = Version
	}
	if BuildTime != "" {
		cli.BuildTime = BuildTime
	}
	if GitCommit != "" {
		cli.GitCommit = GitCommit
	}

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(xerr.ExitCode(err))
	}
}
