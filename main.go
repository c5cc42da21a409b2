package main

import (
	"github.com/neohoods/portal-assistant/cmd"
	_ "github.com/neohoods/portal-assistant/pkg/logger/autoload"
)

func main() {
	cmd.Execute()
}
