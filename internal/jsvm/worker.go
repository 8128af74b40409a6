package jsvm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

const workerQueueSize = 64

var (
	errInboxClosed  = errors.New("jsvm: worker inbox is closed")
	errWorkerExited = errors.New("jsvm: worker has finished")
)

// Worker is the handle connecting a worker's code to its creator. The
// creator posts into the worker's inbox and reads what the worker posts
// back; the worker sees the other side as its Master binding.
type Worker struct {
	id     string
	inbox  chan any
	outbox chan any

	// mu orders sends against closing the inbox.
	mu     sync.Mutex
	closed bool
	done   chan struct{}
	err    error
}

// NewWorker creates an unattached worker handle.
func NewWorker() *Worker {
	return &Worker{
		id:     uuid.NewString(),
		inbox:  make(chan any, workerQueueSize),
		outbox: make(chan any, workerQueueSize),
		done:   make(chan struct{}),
	}
}

// ID returns the worker identifier.
func (w *Worker) ID() string {
	return w.id
}

// PostMessage queues v for the worker. Values must be plain data; script
// objects are exported before crossing. It blocks while the queue is full
// and fails once the inbox is closed or the worker has finished.
func (w *Worker) PostMessage(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errInboxClosed
	}

	select {
	case <-w.done:
		return errWorkerExited
	default:
	}

	select {
	case w.inbox <- v:
		return nil
	case <-w.done:
		return errWorkerExited
	}
}

// CloseInbox tells the worker no more messages are coming; its pending
// Master.recv() calls return undefined.
func (w *Worker) CloseInbox() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.inbox)
	}
}

// Messages returns the channel of values the worker posted. It is closed
// when the worker finishes.
func (w *Worker) Messages() <-chan any {
	return w.outbox
}

// Done is closed once the worker's entry point has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the worker finishes and returns its error.
func (w *Worker) Wait() error {
	<-w.done
	return w.err
}

func (w *Worker) finish(err error) {
	w.err = err
	close(w.outbox)
	close(w.done)
}

// bind builds the worker-side Master object in vm.
func (w *Worker) bind(vm *goja.Runtime) *goja.Object {
	master := vm.NewObject()
	_ = master.Set("id", w.id)

	_ = master.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		w.outbox <- exportValue(call.Argument(0))
		return goja.Undefined()
	})

	_ = master.Set("recv", func(call goja.FunctionCall) goja.Value {
		v, ok := <-w.inbox
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(v)
	})

	return master
}

// RunWorker executes fname as a worker entry point in this sandbox, on the
// calling goroutine. The sandbox must not be used by anyone else meanwhile;
// StartWorker arranges that.
func (sb *Sandbox) RunWorker(fname string, master *Worker) error {
	if err := sb.checkOpen(); err != nil {
		return err
	}
	if master == nil {
		return fmt.Errorf("jsvm: run worker %s: nil master", fname)
	}

	res, err := sb.findPath(fname)
	if err != nil {
		return err
	}

	src, err := sb.host.fs.ReadFile(res.path)
	if err != nil {
		return fmt.Errorf("read worker %s: %w", res.path, err)
	}

	canon := canonical(res.path, res.loader)
	ctx := newContext(sb, canon, res.path)

	sb.logger.Debug().Str("path", res.path).Str("worker", master.ID()).Msg("running worker")

	sc := enterScope(sb)
	defer sc.close()

	return wrapExecutionError(res.loader.RunWorker(ctx, src, res.path, master), canon)
}

// StartWorker runs fname as a worker on its own goroutine. The worker gets
// a clone of this sandbox on a separate host with a fresh realm, so nothing
// it loads or mutates is shared with the caller. Resolution errors are
// reported synchronously.
func (sb *Sandbox) StartWorker(fname string) (*Worker, error) {
	if err := sb.checkOpen(); err != nil {
		return nil, err
	}

	res, err := sb.findPath(fname)
	if err != nil {
		return nil, err
	}

	host := NewHost(sb.host.fs, sb.host.Cwd(), sb.logger)
	clone := sb.cloneOnto(host, true)
	w := NewWorker()

	go func() {
		err := clone.RunWorker(res.path, w)
		if cerr := clone.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			sb.logger.Warn().Err(err).Str("worker", w.ID()).Msg("worker failed")
		}
		w.finish(err)
	}()

	return w, nil
}
