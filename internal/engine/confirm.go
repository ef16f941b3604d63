package engine

import (
	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"
)

// confirmPool delivers trade/reject confirmations to owners off the
// matching path, adapted from the teacher's worker-pool-over-a-channel
// shape: a fixed number of goroutines drain a bounded job queue under a
// tomb.Tomb, so a slow or panicking Confirmer can never stall Submit.
type confirmPool struct {
	jobs chan confirmJob
	log  zerolog.Logger
	t    tomb.Tomb
}

type confirmJob struct {
	owner Confirmer
	event ConfirmationEvent
}

func newConfirmPool(workers int, log zerolog.Logger) *confirmPool {
	p := &confirmPool{
		jobs: make(chan confirmJob, 1024),
		log:  log.With().Str("component", "confirmPool").Logger(),
	}
	for i := 0; i < workers; i++ {
		p.t.Go(p.run)
	}
	return p
}

func (p *confirmPool) run() error {
	for {
		select {
		case <-p.t.Dying():
			return nil
		case job := <-p.jobs:
			p.deliver(job)
		}
	}
}

func (p *confirmPool) deliver(job confirmJob) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Int64("order_id", job.event.OrderID).Msg("confirmer panicked, swallowing")
		}
	}()
	job.owner.Confirm(job.event)
}

// post enqueues a confirmation for asynchronous delivery. A nil owner is a
// no-op (bot orders carry no owner to notify); a full queue drops the
// confirmation and logs it rather than blocking the caller.
func (p *confirmPool) post(owner Confirmer, event ConfirmationEvent) {
	if owner == nil {
		return
	}
	select {
	case p.jobs <- confirmJob{owner: owner, event: event}:
	default:
		p.log.Warn().Int64("order_id", event.OrderID).Msg("confirmation queue full, dropping")
	}
}

func (p *confirmPool) close() {
	p.t.Kill(nil)
	_ = p.t.Wait()
}
