// Command urlcrawl is the crawler executable.
package main

import "github.com/JakeFAU/urlcrawl/cmd"

func main() {
	cmd.Execute()
}
