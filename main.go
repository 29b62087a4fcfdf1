package main

import (
	"os"
	"time"

	"github.com/cloud66-oss/iphub/cmd"
	"github.com/getsentry/sentry-go"
)

func main() {
	status := cmd.Execute()

	// sentry is set up in cmd/root.go once the config is read
	sentry.Flush(2 * time.Second)
	os.Exit(status)
}
