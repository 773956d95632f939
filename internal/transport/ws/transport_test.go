package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/giantswarm/latentworker/internal/core"
)

type fakeDriver struct{}

func (fakeDriver) StartInstance(ctx context.Context, build core.Build) (bool, error) {
	return true, nil
}
func (fakeDriver) StopInstance(ctx context.Context, fast bool) error { return nil }

type fakeDispatcher struct{}

func (fakeDispatcher) MaybeStartBuildsForWorker(ctx context.Context, workerName string) {}
func (fakeDispatcher) WorkerMissing(ctx context.Context, event core.WorkerMissingEvent)  {}
func (fakeDispatcher) WorkerLost(ctx context.Context, workerName string)                 {}
func (fakeDispatcher) AttachBuilder(ctx context.Context, b core.BuilderBinding) error     { return nil }

func TestHandlerAttachesAndDetachesOnClose(t *testing.T) {
	h := NewHandler(nil)

	ctrl, err := core.NewController(core.ControllerConfig{
		Name:             "worker-1",
		MissingTimeout:   time.Minute,
		BuildWaitTimeout: -1,
	}, fakeDriver{}, h, fakeDispatcher{}, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.SetController(ctrl)

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	header.Set("X-Worker-Name", "worker-1")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for ctrl.State() != core.Substantiated {
		if time.Now().After(deadline) {
			t.Fatalf("controller never reached Substantiated, state=%s", ctrl.State())
		}
		time.Sleep(time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for {
		h.mu.Lock()
		current := h.current
		h.mu.Unlock()
		if current == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("handler never cleared current connection after close")
		}
		time.Sleep(time.Millisecond)
	}
}
