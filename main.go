package main

import "github.com/cardvault/storefront/cmd"

func main() {
	cmd.Execute()
}
