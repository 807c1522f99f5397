/*
posebridge converts motion capture arrays between the conventions of
simulation skeletons and parametric body models.
*/
package main

import (
	"os"

	"github.com/spaghettifunk/posebridge/engine/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
