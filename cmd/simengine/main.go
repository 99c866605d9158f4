// cmd/simengine runs the strategy simulation engine: live against a tick
// WebSocket feed, as a backtest over recorded ticks, or exports the trade
// journal as a spreadsheet.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
