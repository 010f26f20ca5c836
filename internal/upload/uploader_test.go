package upload

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// createNoopDevice creates a noop device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

// trackingDevice records buffer creation and destruction.
type trackingDevice struct {
	hal.Device
	created   map[string]hal.Buffer
	destroyed map[hal.Buffer]bool
}

func newTrackingDevice(d hal.Device) *trackingDevice {
	return &trackingDevice{Device: d, created: map[string]hal.Buffer{}, destroyed: map[hal.Buffer]bool{}}
}

func (d *trackingDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	b, err := d.Device.CreateBuffer(desc)
	if err == nil {
		d.created[desc.Label] = b
	}
	return b, err
}

func (d *trackingDevice) DestroyBuffer(b hal.Buffer) {
	d.destroyed[b] = true
	d.Device.DestroyBuffer(b)
}

// laggingQueue reports submissions complete only up to limit.
type laggingQueue struct {
	hal.Queue
	submitted uint64
	limit     uint64
}

func (q *laggingQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	if _, err := q.Queue.Submit(cmds); err != nil {
		return 0, err
	}
	q.submitted++
	return q.submitted, nil
}

func (q *laggingQueue) PollCompleted() uint64 { return min(q.submitted, q.limit) }

func quadBlobs() []Blob {
	vertices := make([]byte, 4*20)
	for i := range vertices {
		vertices[i] = byte(i)
	}
	indices := []byte{0, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 0, 0, 0, 0}
	return []Blob{
		{Label: "vertices", Kind: KindVertex, Data: vertices},
		{Label: "indices", Kind: KindIndex, Data: indices},
	}
}

func TestRecordFillsStaging(t *testing.T) {
	device, queue := createNoopDevice(t)
	td := newTrackingDevice(device)
	u, err := New(Config{Device: td, Queue: queue})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer u.Close()

	blobs := quadBlobs()
	targets, err := u.Record(blobs)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	defer DestroyTargets(td, targets)

	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2", len(targets))
	}
	for i, tg := range targets {
		if tg.Buffer == nil || tg.Texture != nil {
			t.Errorf("target %d: want buffer only", i)
		}
		if tg.Size != blobs[i].Size() {
			t.Errorf("target %d size = %d, want %d", i, tg.Size, blobs[i].Size())
		}
	}

	staging := td.created["upload_staging"]
	if staging == nil {
		t.Fatal("staging buffer not created")
	}
	const total = 4*20 + 6*4
	m, err := td.MapBuffer(staging, 0, total)
	if err != nil {
		t.Fatalf("MapBuffer: %v", err)
	}
	mem := unsafe.Slice((*byte)(m.Ptr), total)
	regions, _ := Plan(blobs)
	for i := range blobs {
		if !bytes.Equal(mem[regions[i].Offset:regions[i].End()], blobs[i].Data) {
			t.Errorf("staging region %d does not hold blob %q", i, blobs[i].Label)
		}
	}

	if _, err := u.Record(blobs); !errors.Is(err, ErrRecording) {
		t.Errorf("second Record error = %v, want ErrRecording", err)
	}
	if _, err := u.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := u.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if u.Uploaded() != total {
		t.Errorf("Uploaded() = %d, want %d", u.Uploaded(), total)
	}
}

func TestStagingOutlivesSubmission(t *testing.T) {
	device, queue := createNoopDevice(t)
	td := newTrackingDevice(device)
	lq := &laggingQueue{Queue: queue}
	u, err := New(Config{Device: td, Queue: lq})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer u.Close()

	targets, err := u.Record(quadBlobs())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	defer DestroyTargets(td, targets)
	staging := td.created["upload_staging"]

	value, err := u.Submit()
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if value != 1 {
		t.Errorf("fence value = %d, want 1", value)
	}

	if n := u.Release(); n != 1 {
		t.Fatalf("Release() in flight = %d, want 1", n)
	}
	if td.destroyed[staging] {
		t.Fatal("staging destroyed before its fence value was reached")
	}
	if _, err := u.Record(quadBlobs()); !errors.Is(err, ErrBusy) {
		t.Errorf("Record during flight error = %v, want ErrBusy", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := u.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait on lagging queue error = %v, want DeadlineExceeded", err)
	}

	lq.limit = 1
	if err := u.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !td.destroyed[staging] {
		t.Error("staging not destroyed after fence value was reached")
	}
	if u.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", u.InFlight())
	}
}

func TestRecordTexture(t *testing.T) {
	device, queue := createNoopDevice(t)
	u, err := New(Config{Device: device, Queue: queue})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer u.Close()

	blobs := []Blob{
		{Label: "quad_vertices", Kind: KindVertex, Data: make([]byte, 80)},
		{
			Label: "quad_texture", Kind: KindTexture, Data: make([]byte, 256*2),
			Width: 2, Height: 2, BytesPerRow: 256, Format: gputypes.TextureFormatRGBA8UnormSrgb,
		},
	}
	targets, err := u.Record(blobs)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	defer DestroyTargets(device, targets)

	if targets[1].Texture == nil || targets[1].Buffer != nil {
		t.Error("texture blob did not produce a texture target")
	}
	if _, err := u.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := u.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSubmitWithoutRecord(t *testing.T) {
	device, queue := createNoopDevice(t)
	u, err := New(Config{Device: device, Queue: queue})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer u.Close()

	if _, err := u.Submit(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Submit error = %v, want ErrNotRecording", err)
	}
}

func TestRecordRejectsInvalidBlob(t *testing.T) {
	device, queue := createNoopDevice(t)
	u, err := New(Config{Device: device, Queue: queue})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer u.Close()

	if _, err := u.Record([]Blob{{Label: "empty", Kind: KindVertex}}); !errors.Is(err, ErrEmptyBlob) {
		t.Errorf("Record error = %v, want ErrEmptyBlob", err)
	}
}

var errQueueLost = errors.New("queue lost")

// rejectingQueue fails submissions while fail is set.
type rejectingQueue struct {
	hal.Queue
	fail bool
}

func (q *rejectingQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	if q.fail {
		return 0, errQueueLost
	}
	return q.Queue.Submit(cmds)
}

// endTrackingEncoder counts DiscardEncoding calls made after EndEncoding.
type endTrackingEncoder struct {
	hal.CommandEncoder
	ended            bool
	discardsAfterEnd int
}

func (e *endTrackingEncoder) BeginEncoding(label string) error {
	e.ended = false
	return e.CommandEncoder.BeginEncoding(label)
}

func (e *endTrackingEncoder) EndEncoding() (hal.CommandBuffer, error) {
	e.ended = true
	return e.CommandEncoder.EndEncoding()
}

func (e *endTrackingEncoder) DiscardEncoding() {
	if e.ended {
		e.discardsAfterEnd++
	}
	e.ended = true
	e.CommandEncoder.DiscardEncoding()
}

type encoderTrackingDevice struct {
	*trackingDevice
	encoder *endTrackingEncoder
}

func (d *encoderTrackingDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc, err := d.trackingDevice.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	d.encoder = &endTrackingEncoder{CommandEncoder: enc}
	return d.encoder, nil
}

func TestSubmitFailureDropsBatch(t *testing.T) {
	device, queue := createNoopDevice(t)
	td := &encoderTrackingDevice{trackingDevice: newTrackingDevice(device)}
	rq := &rejectingQueue{Queue: queue, fail: true}
	u, err := New(Config{Device: td, Queue: rq})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	targets, err := u.Record(quadBlobs())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	DestroyTargets(td, targets)
	staging := td.created["upload_staging"]

	if _, err := u.Submit(); !errors.Is(err, errQueueLost) {
		t.Fatalf("Submit error = %v, want queue error", err)
	}
	if !td.destroyed[staging] {
		t.Error("staging buffer of rejected batch not destroyed")
	}
	if u.InFlight() != 0 || u.Uploaded() != 0 {
		t.Errorf("InFlight() = %d, Uploaded() = %d, want 0 and 0", u.InFlight(), u.Uploaded())
	}
	if _, err := u.Submit(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second Submit error = %v, want ErrNotRecording", err)
	}

	rq.fail = false
	targets, err = u.Record(quadBlobs())
	if err != nil {
		t.Fatalf("Record after failure: %v", err)
	}
	defer DestroyTargets(td, targets)
	value, err := u.Submit()
	if err != nil {
		t.Fatalf("Submit after failure: %v", err)
	}
	if value != 1 {
		t.Errorf("fence value = %d, want 1", value)
	}
	if err := u.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	u.Close()
	if td.encoder.discardsAfterEnd != 0 {
		t.Errorf("encoder discarded %d times after EndEncoding", td.encoder.discardsAfterEnd)
	}
}
