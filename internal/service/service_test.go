package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MimeLyc/image-captioner/internal/imaging"
	"github.com/MimeLyc/image-captioner/internal/jobs"
	"github.com/MimeLyc/image-captioner/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaptioner struct {
	mu      sync.Mutex
	caption string
	err     error
	gate    chan struct{}
	calls   int
}

func (f *fakeCaptioner) Caption(ctx context.Context, _ image.Image) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.caption, nil
}

// failingCodec wraps the real codec and fails decoding on demand.
type failingCodec struct {
	*imaging.Codec
	decodeErr error
	panicOn   string
}

func (f *failingCodec) Decode(path string) (*imaging.Image, error) {
	if f.panicOn != "" && filepath.Base(path) == f.panicOn {
		panic("codec exploded")
	}
	if f.decodeErr != nil {
		return nil, f.decodeErr
	}
	return f.Codec.Decode(path)
}

type recordingLog struct {
	mu   sync.Mutex
	jobs []*jobs.Job
}

func (r *recordingLog) Append(job *jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingLog) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type stoppedScheduler struct{}

func (stoppedScheduler) Submit(jobs.Task) error { return jobs.ErrDispatcherStopped }

type harness struct {
	dir       string
	store     *jobs.Store
	stats     *stats.Aggregator
	intake    *Intake
	query     *Query
	captioner *fakeCaptioner
	codec     *failingCodec
	results   *recordingLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dir:       filepath.Join(t.TempDir(), "images"),
		store:     jobs.NewStore(nil),
		stats:     stats.NewAggregator(),
		captioner: &fakeCaptioner{caption: "a cat sitting on a sofa"},
		codec:     &failingCodec{Codec: imaging.NewCodec()},
		results:   &recordingLog{},
	}
	dispatcher := jobs.NewDispatcher(4, 16)
	dispatcher.Start()
	t.Cleanup(func() {
		if h.captioner.gate != nil {
			select {
			case <-h.captioner.gate:
			default:
				close(h.captioner.gate)
			}
		}
		_ = dispatcher.Stop(context.Background())
	})

	processor := NewProcessor(h.codec, h.captioner, h.store, h.stats, h.results)
	intake, err := NewIntake(h.dir, h.store, dispatcher, processor, h.stats)
	require.NoError(t, err)
	h.intake = intake
	h.query = NewQuery(h.dir, h.store, h.stats)
	return h
}

func (h *harness) waitTerminal(t *testing.T, id string) *jobs.Job {
	t.Helper()
	var job *jobs.Job
	require.Eventually(t, func() bool {
		got, err := h.query.GetJob(id)
		if err != nil {
			return false
		}
		job = got
		return got.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func encodeImage(t *testing.T, format string, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if format == "png" {
		require.NoError(t, png.Encode(&buf, img))
	} else {
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	return buf.Bytes()
}

func TestIntake_ProcessesValidJPEG(t *testing.T) {
	h := newHarness(t)
	raw := encodeImage(t, "jpeg", 400, 300)

	sub, err := h.intake.Submit(context.Background(), "cat.jpg", "image/jpeg", raw)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, sub.Status)
	assert.Equal(t, "cat.jpg", sub.Filename)
	assert.NotEmpty(t, sub.ID)

	job := h.waitTerminal(t, sub.ID)
	require.Equal(t, jobs.StatusProcessed, job.Status)
	require.NotNil(t, job.Result)
	assert.Empty(t, job.Error)
	assert.Equal(t, "a cat sitting on a sofa", job.Caption)
	assert.FileExists(t, job.Thumb200)
	assert.FileExists(t, job.Thumb50)
	assert.Equal(t, filepath.Join(h.dir, "thumb1_cat.jpg"), job.Thumb200)
	assert.Equal(t, filepath.Join(h.dir, "thumb2_cat.jpg"), job.Thumb50)
	assert.Equal(t, [2]int{400, 300}, job.Metadata.Dimensions)
	assert.Equal(t, "JPEG", job.Metadata.Format)
	assert.Equal(t, int64(len(raw)), job.Metadata.SizeBytes)
	assert.False(t, job.Metadata.ProcessedAt.IsZero())
	assert.Empty(t, job.EXIF)

	medium, err := h.codec.Codec.Decode(job.Thumb200)
	require.NoError(t, err)
	assert.Equal(t, 200, medium.Width())
	assert.Equal(t, 150, medium.Height())
	small, err := h.codec.Codec.Decode(job.Thumb50)
	require.NoError(t, err)
	assert.Equal(t, 50, small.Width())
	assert.Equal(t, 38, small.Height())

	snap := h.query.Stats()
	assert.Equal(t, 1, snap.SuccessCount)
	assert.Equal(t, 0, snap.FailureCount)
	assert.Equal(t, 1, h.results.len())

	again, err := h.query.GetJob(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, job, again)
}

func TestIntake_RejectsDuplicateFilename(t *testing.T) {
	h := newHarness(t)
	h.captioner.gate = make(chan struct{})
	raw := encodeImage(t, "jpeg", 20, 20)

	first, err := h.intake.Submit(context.Background(), "cat.jpg", "image/jpeg", raw)
	require.NoError(t, err)

	// while processing
	_, err = h.intake.Submit(context.Background(), "cat.jpg", "image/jpeg", raw)
	assert.True(t, IsKind(err, ErrDuplicateFilename))

	close(h.captioner.gate)
	h.waitTerminal(t, first.ID)

	// after processing, even with otherwise invalid input
	_, err = h.intake.Submit(context.Background(), "cat.jpg", "text/plain", []byte("x"))
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrDuplicateFilename))
	assert.Contains(t, err.Error(), MsgDuplicateFilename)
	assert.Len(t, h.store.List(), 1)
}

func TestIntake_ValidationOrder(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name     string
		filename string
		mimeType string
		want     ErrorKind
	}{
		{name: "type checked before extension", filename: "doc.txt", mimeType: "text/plain", want: ErrUnsupportedType},
		{name: "bad extension", filename: "photo.gif", mimeType: "image/png", want: ErrInvalidExtension},
		{name: "extension outside the allowed set", filename: "photo.bmp", mimeType: "image/jpeg", want: ErrInvalidExtension},
		{name: "path traversal", filename: "../escape.png", mimeType: "image/png", want: ErrInvalidFilename},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.intake.Submit(context.Background(), tt.filename, tt.mimeType, []byte("x"))
			require.Error(t, err)
			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, kind)
			assert.True(t, kind.IsInput())
		})
	}

	assert.Empty(t, h.store.List())
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIntake_AcceptsUppercaseExtensionAndMediaTypeParams(t *testing.T) {
	h := newHarness(t)

	sub, err := h.intake.Submit(context.Background(), "LOGO.PNG", "image/png; charset=binary", encodeImage(t, "png", 10, 10))
	require.NoError(t, err)

	job := h.waitTerminal(t, sub.ID)
	assert.Equal(t, jobs.StatusProcessed, job.Status)
	assert.Equal(t, "PNG", job.Metadata.Format)
}

func TestProcessor_ThumbnailsFollowFileExtension(t *testing.T) {
	h := newHarness(t)

	// JPEG bytes behind a .png name
	sub, err := h.intake.Submit(context.Background(), "mixed.png", "image/png", encodeImage(t, "jpeg", 60, 40))
	require.NoError(t, err)

	job := h.waitTerminal(t, sub.ID)
	require.Equal(t, jobs.StatusProcessed, job.Status)
	assert.Equal(t, "JPEG", job.Metadata.Format)
	assert.Equal(t, filepath.Join(h.dir, "thumb1_mixed.png"), job.Thumb200)

	for _, path := range []string{job.Thumb200, job.Thumb50} {
		thumb, err := h.codec.Codec.Decode(path)
		require.NoError(t, err)
		assert.Equal(t, "png", thumb.Format, path)
	}
}

func TestIntake_SubmitDoesNotWaitForProcessing(t *testing.T) {
	h := newHarness(t)
	h.captioner.gate = make(chan struct{})

	done := make(chan *Submission, 1)
	go func() {
		sub, err := h.intake.Submit(context.Background(), "slow.jpg", "image/jpeg", encodeImage(t, "jpeg", 10, 10))
		assert.NoError(t, err)
		done <- sub
	}()

	var sub *Submission
	select {
	case sub = <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on processing")
	}

	job, err := h.query.GetJob(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, job.Status)
	assert.Nil(t, job.Result)
	assert.Empty(t, job.Error)

	close(h.captioner.gate)
	assert.Equal(t, jobs.StatusProcessed, h.waitTerminal(t, sub.ID).Status)
}

func TestProcessor_DecodeFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.codec.decodeErr = errors.New("cannot identify image file")

	sub, err := h.intake.Submit(context.Background(), "broken.png", "image/png", []byte("garbage"))
	require.NoError(t, err)

	job := h.waitTerminal(t, sub.ID)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Nil(t, job.Result)
	assert.Equal(t, "cannot identify image file", job.Error)

	snap := h.query.Stats()
	assert.Equal(t, 1, snap.FailureCount)
	assert.Equal(t, 0, snap.SuccessCount)
	assert.Zero(t, snap.AverageDurationSec)
	assert.Equal(t, 0, h.results.len())
}

func TestProcessor_RealDecoderRejectsGarbage(t *testing.T) {
	h := newHarness(t)

	sub, err := h.intake.Submit(context.Background(), "broken.png", "image/png", []byte("not a png"))
	require.NoError(t, err)

	job := h.waitTerminal(t, sub.ID)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "decode image broken.png")
}

func TestProcessor_CaptionFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.captioner.err = errors.New("model unavailable")

	sub, err := h.intake.Submit(context.Background(), "cat.jpg", "image/jpeg", encodeImage(t, "jpeg", 10, 10))
	require.NoError(t, err)

	job := h.waitTerminal(t, sub.ID)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, "caption: model unavailable", job.Error)
	assert.Equal(t, 1, h.query.Stats().FailureCount)
}

func TestProcessor_PanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.codec.panicOn = "boom.jpg"

	bad, err := h.intake.Submit(context.Background(), "boom.jpg", "image/jpeg", encodeImage(t, "jpeg", 10, 10))
	require.NoError(t, err)
	good, err := h.intake.Submit(context.Background(), "fine.jpg", "image/jpeg", encodeImage(t, "jpeg", 10, 10))
	require.NoError(t, err)

	failed := h.waitTerminal(t, bad.ID)
	assert.Equal(t, jobs.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "codec exploded")
	assert.Equal(t, jobs.StatusProcessed, h.waitTerminal(t, good.ID).Status)
}

func TestIntake_DispatchFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	processor := NewProcessor(h.codec, h.captioner, h.store, h.stats, nil)
	intake, err := NewIntake(h.dir, h.store, stoppedScheduler{}, processor, h.stats)
	require.NoError(t, err)

	_, err = intake.Submit(context.Background(), "late.jpg", "image/jpeg", encodeImage(t, "jpeg", 4, 4))
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrUnavailable))

	all := h.store.List()
	require.Len(t, all, 1)
	assert.Equal(t, jobs.StatusFailed, all[0].Status)
	assert.Equal(t, 1, h.stats.Snapshot().FailureCount)
}

func TestIntake_ConcurrentSameFilenameAcceptsOne(t *testing.T) {
	h := newHarness(t)
	raw := encodeImage(t, "jpeg", 8, 8)

	var accepted, duplicates atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.intake.Submit(context.Background(), "race.jpg", "image/jpeg", raw)
			switch {
			case err == nil:
				accepted.Add(1)
			case IsKind(err, ErrDuplicateFilename):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(15), duplicates.Load())
}

func TestStats_ManyConcurrentJobs(t *testing.T) {
	h := newHarness(t)

	const good, bad = 12, 5
	ids := make([]string, 0, good+bad)
	for i := range good {
		sub, err := h.intake.Submit(context.Background(), fmt.Sprintf("ok-%02d.png", i), "image/png", encodeImage(t, "png", 6, 6))
		require.NoError(t, err)
		ids = append(ids, sub.ID)
	}
	for i := range bad {
		sub, err := h.intake.Submit(context.Background(), fmt.Sprintf("bad-%02d.png", i), "image/png", []byte("nope"))
		require.NoError(t, err)
		ids = append(ids, sub.ID)
	}
	for _, id := range ids {
		h.waitTerminal(t, id)
	}

	snap := h.query.Stats()
	assert.Equal(t, good+bad, snap.TotalProcessed)
	assert.Equal(t, good, snap.SuccessCount)
	assert.Equal(t, bad, snap.FailureCount)
	assert.InDelta(t, 100.0, snap.SuccessRatePercent+snap.FailureRatePercent, 1e-9)
}

func TestQuery_ListImagesDefaultsUntrackedToProcessed(t *testing.T) {
	h := newHarness(t)
	h.captioner.gate = make(chan struct{})

	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "legacy.jpg"), []byte("old"), 0o644))
	_, err := h.intake.Submit(context.Background(), "new.jpg", "image/jpeg", encodeImage(t, "jpeg", 10, 10))
	require.NoError(t, err)

	entries, err := h.query.ListImages()
	require.NoError(t, err)

	byName := map[string]jobs.Status{}
	for _, e := range entries {
		byName[e.Filename] = e.Status
	}
	assert.Equal(t, jobs.StatusProcessed, byName["legacy.jpg"])
	assert.Equal(t, jobs.StatusProcessing, byName["new.jpg"])
}

func TestQuery_GetJobUnknown(t *testing.T) {
	h := newHarness(t)

	_, err := h.query.GetJob("missing")
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrNotFound))
	assert.Contains(t, err.Error(), MsgJobNotFound)
}

func TestQuery_GetThumbnail(t *testing.T) {
	h := newHarness(t)

	_, err := h.query.GetThumbnail("unknown", ThumbnailSmall)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrNotFound))
	assert.Contains(t, err.Error(), MsgJobNotFound)

	sub, err := h.intake.Submit(context.Background(), "cat.png", "image/png", encodeImage(t, "png", 300, 100))
	require.NoError(t, err)
	job := h.waitTerminal(t, sub.ID)

	small, err := h.query.GetThumbnail(sub.ID, ThumbnailSmall)
	require.NoError(t, err)
	assert.Equal(t, "thumb2_cat.png", small.Name)
	decoded, err := png.Decode(bytes.NewReader(small.Content))
	require.NoError(t, err)
	assert.Equal(t, 50, decoded.Bounds().Dx())

	medium, err := h.query.GetThumbnail(sub.ID, ThumbnailMedium)
	require.NoError(t, err)
	assert.Equal(t, "thumb1_cat.png", medium.Name)

	require.NoError(t, os.Remove(job.Thumb50))
	_, err = h.query.GetThumbnail(sub.ID, ThumbnailSmall)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrNotFound))
	assert.Contains(t, err.Error(), MsgThumbnailNotFound)
}

func TestQuery_GetThumbnailUnknownSize(t *testing.T) {
	h := newHarness(t)

	sub, err := h.intake.Submit(context.Background(), "wait.jpg", "image/jpeg", encodeImage(t, "jpeg", 10, 10))
	require.NoError(t, err)
	h.waitTerminal(t, sub.ID)

	_, err = h.query.GetThumbnail(sub.ID, ThumbnailSize("huge"))
	assert.True(t, IsKind(err, ErrNotFound))
}

func TestQuery_GetThumbnailBeforeProcessing(t *testing.T) {
	h := newHarness(t)
	h.codec.decodeErr = errors.New("unreadable")

	sub, err := h.intake.Submit(context.Background(), "never.png", "image/png", []byte("x"))
	require.NoError(t, err)
	h.waitTerminal(t, sub.ID)

	_, err = h.query.GetThumbnail(sub.ID, ThumbnailMedium)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrNotFound))
	assert.Contains(t, err.Error(), MsgThumbnailNotFound)
}

func TestParseThumbnailSize(t *testing.T) {
	size, ok := ParseThumbnailSize("small")
	assert.True(t, ok)
	assert.Equal(t, ThumbnailSmall, size)
	_, ok = ParseThumbnailSize("large")
	assert.False(t, ok)
}
