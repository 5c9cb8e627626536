// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"fmt"
	"math"
	"os"
	"runtime"
)

func AssertFunc(b bool) {
	if !b {
		panic("assertion failed")
	}
}

// Assertf panics with a formatted message. Used for contract violations
// that indicate a wiring defect rather than a bad query.
func Assertf(b bool, format string, args ...any) {
	if !b {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

func FileIsValid(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !stat.IsDir()
}

func ConvertPanicError(v interface{}) error {
	return fmt.Errorf("panic %v: %+v", v, Callers(3))
}

type Stack []uintptr

// Callers makes the depth customizable.
func Callers(depth int) *Stack {
	const numFrames = 32
	var pcs [numFrames]uintptr
	n := runtime.Callers(2+depth, pcs[:])
	var st Stack = pcs[0:n]
	return &st
}

// CompareFloat is a 3-way compare that orders NaN above every number.
func CompareFloat[T ~float32 | ~float64](lhs, rhs T) int {
	lIsNan := math.IsNaN(float64(lhs))
	rIsNan := math.IsNaN(float64(rhs))
	switch {
	case lIsNan && rIsNan:
		return 0
	case lIsNan:
		return 1
	case rIsNan:
		return -1
	case lhs < rhs:
		return -1
	case lhs > rhs:
		return 1
	}
	return 0
}

func CompareInt[T ~int32 | ~int64 | ~uint32 | ~uint64](lhs, rhs T) int {
	if lhs < rhs {
		return -1
	} else if lhs > rhs {
		return 1
	}
	return 0
}
