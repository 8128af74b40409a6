package jsvm

import (
	"errors"
	"testing"
	"time"
)

func collect(t *testing.T, w *Worker) []any {
	t.Helper()

	var got []any
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-w.Messages():
			if !ok {
				return got
			}
			got = append(got, msg)
		case <-timeout:
			t.Fatal("worker did not finish")
			return nil
		}
	}
}

func TestStartWorkerEcho(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/echo.js": `
const fmt = require("./fmt");
let m;
while ((m = Master.recv()) !== undefined) {
	Master.postMessage(fmt.wrap(m));
}
Master.postMessage("bye");
`,
		"/app/fmt.js": `exports.wrap = m => ({got: m});`,
	})

	w, err := sb.StartWorker("echo.js")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if w.ID() == "" {
		t.Error("worker needs an id")
	}

	for _, msg := range []any{1, "two"} {
		if err := w.PostMessage(msg); err != nil {
			t.Fatalf("post %v: %v", msg, err)
		}
	}
	w.CloseInbox()
	w.CloseInbox()

	got := collect(t, w)
	if err := w.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d messages: %v", len(got), got)
	}
	first, ok := got[0].(map[string]any)
	if !ok || first["got"] != int64(1) {
		t.Errorf("first message = %#v", got[0])
	}
	if second := got[1].(map[string]any); second["got"] != "two" {
		t.Errorf("second message = %#v", got[1])
	}
	if got[2] != "bye" {
		t.Errorf("last message = %#v", got[2])
	}

	// The worker loads into its own clone.
	if len(sb.cache) != 0 {
		t.Error("worker modules leaked into the parent cache")
	}
}

func TestWorkerPostAfterClose(t *testing.T) {
	w := NewWorker()
	w.CloseInbox()

	if err := w.PostMessage(1); !errors.Is(err, errInboxClosed) {
		t.Errorf("post after close = %v, want closed inbox error", err)
	}
}

func TestWorkerPostAfterFinish(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/quick.js": `Master.postMessage("started");`,
	})

	w, err := sb.StartWorker("quick.js")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	collect(t, w)
	if err := w.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}

	// More than the queue holds, so a send that ignored the finished worker
	// would block.
	errc := make(chan error, 1)
	go func() {
		var last error
		for i := 0; i <= workerQueueSize; i++ {
			last = w.PostMessage(i)
		}
		errc <- last
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, errWorkerExited) {
			t.Errorf("post after finish = %v, want finished error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("post to a finished worker blocked")
	}
}

func TestStartWorkerIsolatedRealm(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/peek.js": `Master.postMessage(typeof parentOnly);`,
	})
	_ = sb.Realm().Runtime().Set("parentOnly", 1)

	w, err := sb.StartWorker("peek.js")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	got := collect(t, w)
	if err := w.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}
	if len(got) != 1 || got[0] != "undefined" {
		t.Errorf("worker saw the parent's globals: %v", got)
	}
}

func TestStartWorkerError(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/fail.js": `throw new Error("worker boom");`,
	})

	w, err := sb.StartWorker("fail.js")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	collect(t, w)

	err = w.Wait()
	if !errors.Is(err, ErrExecution) {
		t.Errorf("got %v, want execution error", err)
	}
	select {
	case <-w.Done():
	default:
		t.Error("done should be closed after Wait")
	}
}

func TestStartWorkerNotFound(t *testing.T) {
	sb := newTestSandbox(t, nil)

	if _, err := sb.StartWorker("missing.js"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("got %v, want not found", err)
	}
}

func TestRunWorkerNilMaster(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{"/app/w.js": ``})

	if err := sb.RunWorker("w.js", nil); err == nil {
		t.Error("nil master should fail")
	}
}
