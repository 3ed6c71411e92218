// Command promptopt is the optional CLI wrapper: a cobra-based entry
// point exposing one-shot `optimize` runs and a long-running `serve` mode
// exposing the task polling API, following the same cobra-driven main
// shape as longregen-alicia/cmd/alicia/main.go.
package main

import "os"

func main() {
	os.Exit(Execute())
}
