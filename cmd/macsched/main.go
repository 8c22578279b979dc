// Command macsched runs the per-frame proportional-fairness MU-MIMO
// scheduler and serves its decisions.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
