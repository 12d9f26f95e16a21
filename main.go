// The main package for the scraper executable.
package main

import "github.com/JakeFAU/listing-snapshot-scraper/cmd"

func main() {
	cmd.Execute()
}
