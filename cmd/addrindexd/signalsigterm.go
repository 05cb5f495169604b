// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// SIGTERM is also caught on POSIX systems.
func init() {
	interruptSignals = []os.Signal{os.Interrupt, unix.SIGTERM}
}
