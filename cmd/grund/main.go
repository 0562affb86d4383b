// Command grund dispatches commands committed to a jobs repository and
// publishes their results. See "grund --help".
package main

import (
	"fmt"
	"os"

	"github.com/roach88/grund/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "grund:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
