package main

import (
	"os"

	"github.com/charmbracelet/log"

	"github.com/kubelens/kubelens/pkg/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		log.SetReportTimestamp(false)
		log.Error(err.Error())
		os.Exit(1)
	}
}
