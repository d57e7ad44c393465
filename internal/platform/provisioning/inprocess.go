package provisioning

import (
	"context"
	"sync"
	"time"
)

// DefaultJobTimeout bounds one provisioning run.
const DefaultJobTimeout = 30 * time.Second

// InProcessDispatcher runs each job on its own goroutine. It is used when no
// Redis queue is configured; jobs in flight are lost on restart.
type InProcessDispatcher struct {
	provisioner *Provisioner
	timeout     time.Duration
	wg          sync.WaitGroup
}

func NewInProcessDispatcher(p *Provisioner) *InProcessDispatcher {
	return &InProcessDispatcher{provisioner: p, timeout: DefaultJobTimeout}
}

// Dispatch detaches the job from ctx so it outlives the request that
// triggered it.
func (d *InProcessDispatcher) Dispatch(_ context.Context, job Job) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.provisioner.Run(ctx, job); err != nil {
			d.provisioner.logFailure(job, err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has finished.
func (d *InProcessDispatcher) Wait() {
	d.wg.Wait()
}
