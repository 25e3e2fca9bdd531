package bridge

import "context"

// Runner drives a Server on its own goroutine so callers can stop it
// without owning the serve loop. Stop is observed between requests, never
// in the middle of a reply.
type Runner struct {
	srv    *Server
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewRunner wraps an already-bound server.
func NewRunner(srv *Server) *Runner {
	return &Runner{srv: srv}
}

// Start launches the serve loop. It must be called at most once.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.err = r.srv.Serve(ctx)
	}()
}

// Stop cancels the serve loop, waits for it to finish, releases the socket
// and returns the loop's terminal error, if any.
func (r *Runner) Stop() error {
	r.cancel()
	<-r.done
	if cerr := r.srv.Close(); cerr != nil && r.err == nil {
		r.err = cerr
	}
	return r.err
}

// Done is closed once the serve loop has exited, whether by Stop or by a
// serve error.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Err returns the serve loop's terminal error. Only valid after Done.
func (r *Runner) Err() error { return r.err }
