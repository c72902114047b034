package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"scanbot/internal/analysis"
	logx "scanbot/pkg/logx"
)

func (p *Pool) worker(idx int) {
	defer p.workers.Done()
	for j := range p.requests {
		if p.cfg.CallDelay > 0 {
			time.Sleep(p.cfg.CallDelay)
		}
		resp := p.call(j.req)
		p.processed.Add(1)
		p.emit(idx, envelope{batch: j.batch, resp: resp})
	}
}

// call runs one remote call under a deadline that does not descend from any
// submission context.
func (p *Pool) call(req analysis.Request) (resp analysis.Response) {
	resp.Request = req
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CallTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			resp.Result = nil
			resp.Err = fmt.Errorf("%w: %v", ErrPanic, r)
			p.log.Error("analyzer panicked", logx.String("id", req.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	start := time.Now()
	res, err := p.analyzer.Analyze(ctx, req)
	switch {
	case err != nil:
		resp.Err = err
		p.log.Debug("call.failed", logx.String("id", req.ID), logx.Err(err), logx.Duration("dur", time.Since(start)))
	case res == nil:
		resp.Err = ErrNilResult
	default:
		resp.Result = res
	}
	return resp
}

// emit hands a response to the collector, dropping it if the queue stays
// full for SendTimeout.
func (p *Pool) emit(idx int, env envelope) {
	select {
	case p.responses <- env:
		return
	default:
	}

	t := time.NewTimer(p.cfg.SendTimeout)
	defer t.Stop()
	select {
	case p.responses <- env:
	case <-t.C:
		p.dropped.Add(1)
		p.log.Warn("response dropped: queue full",
			logx.Int("worker", idx),
			logx.String("id", env.resp.Request.ID),
			logx.Int("queue_len", len(p.responses)),
			logx.Int("queue_cap", cap(p.responses)),
			logx.Uint64("dropped", p.dropped.Load()),
		)
	}
}
