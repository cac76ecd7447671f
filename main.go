// Command sitemap-indexer submits sitemap URLs to the Google Indexing API.
package main

import "github.com/JakeFAU/sitemap-indexer/cmd"

func main() {
	cmd.Execute()
}
