package main

import "github.com/crmkit/tenant-sync/cmd"

func main() {
	cmd.Execute()
}
