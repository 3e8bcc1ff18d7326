//go:build vacore_lockdebug

package sig

import "fmt"

// lockLevel names the five levels of spec section 5's documented
// acquire order: global_task_list -> sighand -> task -> mm -> core.
type lockLevel int

const (
	levelGlobalTaskList lockLevel = iota + 1
	levelSighand
	levelTask
	levelMM
	levelCore
)

// orderGuard enforces that order within one call chain, panicking on
// violation. It is a stack of "what's currently held" rather than true
// thread-local state: GroupCoordinator threads one orderGuard value
// through the functions that acquire these locks (SigDelivery does not
// use an orderGuard), which is sufficient to catch the out-of-order bugs the
// original's prose guarantee was meant to prevent, without the
// complexity of goroutine-local storage. Compiled in only under the
// vacore_lockdebug build tag (see DESIGN.md).
type orderGuard struct {
	stack []lockLevel
}

func newOrderGuard() *orderGuard { return &orderGuard{} }

func (g *orderGuard) acquire(level lockLevel) {
	if len(g.stack) > 0 && g.stack[len(g.stack)-1] >= level {
		panic(fmt.Sprintf("sig: lock order violation: acquired level %d after %d", level, g.stack[len(g.stack)-1]))
	}
	g.stack = append(g.stack, level)
}

func (g *orderGuard) release() {
	g.stack = g.stack[:len(g.stack)-1]
}
