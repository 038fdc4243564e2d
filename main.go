// Package main provides the entry point for the scopesentry control plane.
package main

import "github.com/Autumn-27/ScopeSentry-sub000/cmd"

func main() {
	cmd.Execute()
}
