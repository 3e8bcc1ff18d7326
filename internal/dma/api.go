package dma

import "time"

// API is the public-facing surface DEM exposes to callers outside this
// package: submit a transfer (optionally blocking until it finishes),
// cancel one in flight, and tear the engine down.
type API struct {
	engine *Engine
}

// NewAPI wraps an opened Engine.
func NewAPI(engine *Engine) *API {
	return &API{engine: engine}
}

// SubmitTransfer posts req. If deadline is nil the call returns as soon
// as the request is posted/enqueued, handing back the ReqList for the
// caller to poll or wait on later. If deadline is non-nil, it blocks
// until the request reaches a terminal status or the deadline passes.
func (a *API) SubmitTransfer(req Request, deadline *time.Time) (*ReqList, AggregatedStatus, error) {
	rl, err := a.engine.Submit(req)
	if err != nil {
		return nil, AggNotFinished, err
	}
	if deadline == nil {
		return rl, a.engine.Test(rl), nil
	}
	return rl, a.engine.TimedWait(rl, *deadline), nil
}

// Wait blocks until rl reaches a terminal status.
func (a *API) Wait(rl *ReqList) AggregatedStatus {
	return a.engine.Wait(rl)
}

// Cancel terminates rl: in-flight fragments are removed from the ring
// (stopping the engine first), queued fragments are dropped, and
// waiters are woken with Canceled.
func (a *API) Cancel(rl *ReqList) {
	a.engine.Terminate(rl)
}

// Teardown cancels every outstanding request and closes the engine.
// Unlike Close, Teardown never returns ErrBusy: it cancels first.
func (a *API) Teardown() error {
	a.engine.TerminateAll()
	return a.engine.Close()
}
