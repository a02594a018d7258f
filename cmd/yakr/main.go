// Command yakr runs the chat bot against a live server, records a live
// session, or replays a recorded session against the router.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/najoast/yakr/bootstrap"
)

func main() {
	configFile := flag.String("config", "", "configuration file (default: search ., ./config, /etc/yakr, ~/.yakr)")
	recordPath := flag.String("record", "", "record the live session to this file")
	replayPath := flag.String("replay", "", "replay this recorded session instead of connecting")
	replayTimeout := flag.Duration("replay-timeout", 0, "give up on a recorded reply after this long (0 waits for the router)")
	strict := flag.Bool("strict", false, "exit with status 1 if a replay does not match")
	flag.Parse()

	app, err := bootstrap.NewApplication(bootstrap.Options{
		ConfigFile:    *configFile,
		Record:        *recordPath,
		Replay:        *replayPath,
		ReplayTimeout: *replayTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to start yakr: %v", err)
	}
	defer app.Close()

	if err := app.Run(context.Background()); err != nil {
		app.Close()
		log.Fatalf("yakr stopped: %v", err)
	}

	res, replayed := app.ReplayResult()
	if !replayed {
		return
	}

	fmt.Printf("Replay: %d lines injected, %d compared\n", res.Injected, res.Compared)
	for _, m := range res.Mismatches {
		fmt.Printf("  mismatch %s\n", m)
	}
	for _, line := range res.Unexpected {
		fmt.Printf("  unexpected %q\n", line)
	}
	if res.Malformed > 0 {
		fmt.Printf("  %d malformed log lines skipped\n", res.Malformed)
	}

	if *strict && !res.OK() {
		app.Close()
		os.Exit(1)
	}
}
