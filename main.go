// The main package for the metalcrawler executable.
package main

import (
	"github.com/JakeFAU/metal-release-crawler/cmd"
)

func main() {
	cmd.Execute()
}
