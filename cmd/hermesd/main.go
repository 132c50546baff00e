// hermesd runs the hermes dispatch server standalone.
package main

import (
	"flag"
	"fmt"
	"os"

	"hermes/internal/app"
)

func main() {
	configPath := flag.String("config", "hermes.yaml", "path to the configuration file")
	flag.Parse()

	application, err := app.New(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hermesd: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "hermesd: %v\n", err)
		os.Exit(1)
	}
}
