package util

import (
	"fmt"

	"github.com/petermattis/goid"
)

// OwnerCheck asserts that an object is only used from the goroutine that
// touched it first. A disabled check costs one branch.
type OwnerCheck struct {
	enabled bool
	owner   int64
}

func NewOwnerCheck(enabled bool) OwnerCheck {
	return OwnerCheck{enabled: enabled}
}

func (oc *OwnerCheck) Enabled() bool {
	return oc.enabled
}

func (oc *OwnerCheck) Check() {
	if !oc.enabled {
		return
	}
	rid := goid.Get()
	if oc.owner == 0 {
		oc.owner = rid
		return
	}
	if oc.owner != rid {
		panic(fmt.Sprintf("sorter used by goroutine %d, owned by %d", rid, oc.owner))
	}
}

// Release lets the next caller take ownership, e.g. after a worker
// hands its sorter over for merging.
func (oc *OwnerCheck) Release() {
	oc.owner = 0
}
