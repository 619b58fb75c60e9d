// Package debug provides lightweight runtime assertions for the rest of
// this module. Assertions are cheap no-ops unless SVCTRUST_DEBUG is set,
// mirroring the teacher's own debug-build discipline without requiring a
// separate build tag per package.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var enabled = os.Getenv("SVCTRUST_DEBUG") != ""

// Enabled reports whether debug assertions are currently active.
func Enabled() bool { return enabled }

func _panic(a ...interface{}) {
	msg := "DEBUG PANIC: " + fmt.Sprint(a...)
	var trace []string
	for i := 2; i < 8; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok || !strings.Contains(file, "svctrust") {
			break
		}
		trace = append(trace, fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}
	if len(trace) > 0 {
		msg += " <- " + strings.Join(trace, " <- ")
	}
	panic(msg)
}

// Assert panics with a short call chain when cond is false, and only
// when debug assertions are enabled.
func Assert(cond bool, a ...interface{}) {
	if enabled && !cond {
		_panic(a...)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, f string, a ...interface{}) {
	if enabled && !cond {
		_panic(fmt.Sprintf(f, a...))
	}
}

// AssertNoErr panics on a non-nil error, only when debug assertions are enabled.
func AssertNoErr(err error) {
	if enabled && err != nil {
		_panic(err)
	}
}

// AssertMsg is like Assert but always carries an explanatory string.
func AssertMsg(cond bool, msg string) {
	if enabled && !cond {
		_panic(msg)
	}
}
