// The main package for the jobboard-crawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/jobboard-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
