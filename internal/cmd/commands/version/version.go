package version

import (
	"github.com/mitchellh/cli"

	"github.com/jsenecal/netbox-notices/internal/version"
)

type Command struct {
	UI cli.Ui
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return "Usage: notices version"
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.Version)
	return 0
}
