// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kg builds, queries and serves knowledge graphs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianKG/services/knowledge"
	"github.com/AleutianAI/AleutianKG/services/knowledge/builder"
	"github.com/AleutianAI/AleutianKG/services/knowledge/config"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitNotFound = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Close()
	}
	if err == nil {
		return exitOK
	}
	stderr := newPrinter(os.Stderr, false)
	fmt.Fprintf(os.Stderr, "%s %v\n", stderr.render(styles.Error, "✗"), err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, knowledge.ErrGraphNotFound), errors.Is(err, knowledge.ErrEntityNotFound):
		return exitNotFound
	case errors.Is(err, knowledge.ErrInvalidRequest),
		errors.Is(err, knowledge.ErrUnsupportedFormat),
		errors.Is(err, builder.ErrSensitiveContent),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, config.ErrMissingSecret):
		return exitUsage
	default:
		return exitError
	}
}
