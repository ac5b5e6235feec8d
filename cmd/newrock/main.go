package main

import (
	"context"
	"os"

	"newrock-catalog/cmd/newrock/commands"
	"newrock-catalog/lib/telemetry"
	"newrock-catalog/lib/util/serviceutil"
)

func main() {
	ctx := serviceutil.SignalContext()

	// telemetry.json5 is optional; spans go nowhere without it
	tel, err := telemetry.SetupFromEnv(ctx, "newrock")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer tel.Shutdown(context.Background())

	telemetry.InitSlog(true)
	commands.ExecuteContext(ctx)
}
