// Command sc persists working context for AI coding assistants.
package main

import "github.com/marcus/savecontext/cmd"

// Version is overridden with -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	cmd.SetVersion(Version)
	cmd.Execute()
}
