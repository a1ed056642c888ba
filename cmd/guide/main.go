// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command guide runs the step-by-step guide service.
//
// # Usage
//
//	# Build
//	go build -o guide ./cmd/guide
//
//	# Serve the HTTP API
//	./guide serve --config guide.yaml
//
//	# Generate one guide and print its first step as JSON
//	./guide generate "Replace a bike inner tube" --difficulty beginner
//
// Configuration is read from the optional --config YAML file and then from
// environment variables; see package config for the list.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
