package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	serverCmd "github.com/jsenecal/netbox-notices/internal/cmd/commands/server"
	versionCmd "github.com/jsenecal/netbox-notices/internal/cmd/commands/version"
)

// Commands is the mapping of all available CLI commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	Commands = map[string]cli.CommandFactory{
		"server": func() (cli.Command, error) {
			return &serverCmd.Command{Log: log, UI: ui}, nil
		},
		"version": func() (cli.Command, error) {
			return &versionCmd.Command{UI: ui}, nil
		},
	}
}
