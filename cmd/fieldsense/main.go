package main

import (
	"fmt"
	"os"

	"github.com/YasmineBenYamna/AI-Enhanced-Crop-Monitoring-and-Sensor-Based-Anomaly-Detection/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
