package util

import (
	"sync"
	"sync/atomic"
)

// fault scopes
const (
	FaultScopeRunner int = iota
	FaultScopeSource
	faultScopeCount
)

// FaultRunnerPush fires in a runner worker every time it checks for
// cancellation.
const FaultRunnerPush = "runner.push"

// FaultSourceRead fires after every row a source reads.
const FaultSourceRead = "source.read"

var faultScopes [faultScopeCount]faultScope

type faultScope struct {
	_enable atomic.Bool
	_faults sync.Map
}

type FaultAction struct {
	Args   []string
	Action func([]string) error
}

func (fa *FaultAction) Run() error {
	if fa == nil || fa.Action == nil {
		return nil
	}
	return fa.Action(fa.Args)
}

func validScope(scope int) bool {
	return scope >= 0 && scope < faultScopeCount
}

// EnableFaults turns on the injection points of a scope.
func EnableFaults(scope int) {
	if !validScope(scope) {
		return
	}
	faultScopes[scope]._enable.Store(true)
}

// DisableFaults turns a scope off and forgets its faults.
func DisableFaults(scope int) {
	if !validScope(scope) {
		return
	}
	faultScopes[scope]._enable.Store(false)
	faultScopes[scope]._faults.Clear()
}

// CheckFault returns the fault registered under name, nil when the scope
// is off.
func CheckFault(scope int, name string) *FaultAction {
	if !validScope(scope) || !faultScopes[scope]._enable.Load() {
		return nil
	}
	val, ok := faultScopes[scope]._faults.Load(name)
	if !ok || val == nil {
		return nil
	}
	return val.(*FaultAction)
}

// InjectFault is a no-op unless the scope is enabled.
func InjectFault(scope int, name string, args []string, action func([]string) error) {
	if !validScope(scope) || !faultScopes[scope]._enable.Load() {
		return
	}
	faultScopes[scope]._faults.Store(name, &FaultAction{Args: args, Action: action})
}
