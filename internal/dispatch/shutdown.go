package dispatch

import (
	"github.com/luxonis/xlink/internal/wire"
	"github.com/luxonis/xlink/internal/xlinkerr"
)

// teardown implements spec §4.5's dispatcher_reset: idempotent, closes the
// transport exactly once so any blocked read/write wakes, drains both
// queues with a failure completion, marks the link Down, and fires the
// link-down callback exactly once. cause is nil for a Reset (sent or
// received) or Close, and non-nil for a transport/decode failure.
func (d *Dispatcher) teardown(cause error) {
	d.closeOnce.Do(func() {
		_ = d.link.Transport.Close()
		close(d.closed)

		failErr := xlinkerr.Wrap("teardown", xlinkerr.CommunicationFail, cause)
		if cause == nil {
			failErr = xlinkerr.New("teardown", xlinkerr.CommunicationNotOpen)
		}

		d.local.FreeWithState(wire.Allocated, failErr)
		d.local.FreeWithState(wire.Pending, failErr)
		d.local.FreeWithState(wire.Blocked, failErr)
		d.local.FreeWithState(wire.Ready, failErr)
		d.remote.FreeWithState(wire.Allocated, failErr)
		d.remote.FreeWithState(wire.Pending, failErr)
		d.remote.FreeWithState(wire.Blocked, failErr)
		d.remote.FreeWithState(wire.Ready, failErr)

		d.link.setState(Down)

		if d.onDown != nil {
			d.onDown(d.link.ID)
		}
	})
}

// Close tears the link down from the outside (e.g. ResetAll, process
// shutdown) the same way a transport failure would.
func (d *Dispatcher) Close() { d.teardown(nil) }
