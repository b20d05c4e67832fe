package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/image-captioner/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	called bool
	err    error
}

func (f *fakeScheduler) Schedule(context.Context) error {
	f.called = true
	return f.err
}

type fakeCron struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeCron) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeCron) Stop() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return context.Background()
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	listenErr    error
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

type fakeWorkers struct {
	stopped chan struct{}
}

func (f *fakeWorkers) Stop(context.Context) error {
	close(f.stopped)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{Addr: "127.0.0.1:0"},
	}
}

func TestMain_StartsCronAndHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := &fakeScheduler{}
	cronEngine := &fakeCron{}
	httpSrv := newFakeHTTP()
	workers := &fakeWorkers{stopped: make(chan struct{})}

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, testConfig(), scheduler, cronEngine, httpSrv, workers)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.True(t, scheduler.called)
	assert.True(t, cronEngine.started)
	assert.True(t, cronEngine.stopped)
	select {
	case <-workers.stopped:
	default:
		t.Fatal("workers were not drained")
	}
}

func TestMain_ScheduleErrorAborts(t *testing.T) {
	scheduler := &fakeScheduler{err: errors.New("bad cron")}
	cronEngine := &fakeCron{}

	err := runWithComponents(context.Background(), testConfig(), scheduler, cronEngine, newFakeHTTP(), nil)
	require.Error(t, err)
	assert.False(t, cronEngine.started)
}

func TestMain_ListenErrorShutsDown(t *testing.T) {
	httpSrv := newFakeHTTP()
	httpSrv.listenErr = errors.New("address in use")
	cronEngine := &fakeCron{}

	err := runWithComponents(context.Background(), testConfig(), nil, cronEngine, httpSrv, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.True(t, cronEngine.stopped)
}
