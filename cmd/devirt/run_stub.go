//go:build !unicorn
// +build !unicorn

package main

import "fmt"

func run(opts runOptions) error {
	return fmt.Errorf("devirt: built without the unicorn build tag; rebuild with -tags unicorn")
}
