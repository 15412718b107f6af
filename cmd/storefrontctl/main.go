package main

import "github.com/pilab-dev/storefront/cmd/storefrontctl/cmd"

func main() {
	cmd.Execute()
}
