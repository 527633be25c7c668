package main

import (
	"tagwatch/cmd/tagwatch/commands"
	"tagwatch/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
