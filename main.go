// The main package for the socialgraph executable.
package main

import (
	"github.com/JakeFAU/socialgraph-crawler/cmd"
)

func main() {
	cmd.Execute()
}
