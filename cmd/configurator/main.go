// Command configurator is the external CLI operating on PersistentStore and
// signaling the Orchestrator: create/alter/remove assignments, dump the
// current table, and request reload/trigger of the running scheduler.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
