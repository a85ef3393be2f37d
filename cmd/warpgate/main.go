// Command warpgate runs Warpgate's multi-protocol authenticating bastion:
// SSH, HTTP(S), MySQL, Postgres, and Kubernetes API front-ends sharing one
// credential policy, session registry, and rate-limit stack.
package main

import (
	"fmt"
	"os"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
)

func main() {
	app := kingpin.New("warpgate", "Multi-protocol authenticating bastion.")
	configPath := app.Flag("config", "Path to the YAML config file.").
		Default("/etc/warpgate.yaml").String()

	checkCmd := app.Command("check", "Validate the config file without starting any listener.")

	setupCmd := app.Command("setup", "Bootstrap a new config file, admin role, and admin user.")
	setupDataDir := setupCmd.Flag("data-dir", "Directory to store recordings and the entity fixture in.").
		Default("./data").String()

	runCmd := app.Command("run", "Start every enabled protocol front-end.")
	enableAdminToken := runCmd.Flag("enable-admin-token", "Print a one-shot admin API token on startup.").Bool()

	selected, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var runErr error
	switch selected {
	case checkCmd.FullCommand():
		runErr = runCheck(*configPath)
	case setupCmd.FullCommand():
		runErr = runSetup(*configPath, *setupDataDir)
	case runCmd.FullCommand():
		runErr = runRun(*configPath, *enableAdminToken)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, trace.DebugReport(runErr))
		os.Exit(1)
	}
}
