package frame

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/hellogpu/internal/swapchain"
)

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

// trackedCmd remembers which submission carried it.
type trackedCmd struct {
	hal.CommandBuffer
	submission uint64
}

// slowQueue completes one submission per poll, so fence waits must spin.
type slowQueue struct {
	hal.Queue
	submitted uint64
	completed uint64
}

func (q *slowQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	q.submitted++
	for _, c := range cmds {
		if tc, ok := c.(*trackedCmd); ok {
			tc.submission = q.submitted
		}
	}
	return q.submitted, nil
}

func (q *slowQueue) PollCompleted() uint64 {
	if q.completed < q.submitted {
		q.completed++
	}
	return q.completed
}

// trackingEncoder flags any reset of a command buffer the GPU has not
// finished.
type trackingEncoder struct {
	hal.CommandEncoder
	queue      *slowQueue
	resets     int
	violations int
}

func (e *trackingEncoder) EndEncoding() (hal.CommandBuffer, error) {
	cb, err := e.CommandEncoder.EndEncoding()
	if err != nil {
		return nil, err
	}
	return &trackedCmd{CommandBuffer: cb}, nil
}

func (e *trackingEncoder) ResetAll(cmds []hal.CommandBuffer) {
	for _, c := range cmds {
		tc := c.(*trackedCmd)
		if tc.submission == 0 || tc.submission > e.queue.completed {
			e.violations++
		}
	}
	e.resets++
	e.CommandEncoder.ResetAll(nil)
}

type trackingDevice struct {
	hal.Device
	queue    *slowQueue
	encoders []*trackingEncoder
}

func (d *trackingDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	te := &trackingEncoder{CommandEncoder: enc, queue: d.queue}
	d.encoders = append(d.encoders, te)
	return te, nil
}

func newLoop(t *testing.T, device hal.Device, queue hal.Queue) *Loop {
	t.Helper()
	sc, err := swapchain.New(swapchain.Config{Device: device, Width: 1280, Height: 720})
	if err != nil {
		t.Fatalf("swapchain.New: %v", err)
	}
	t.Cleanup(sc.Destroy)

	l, err := New(Config{Device: device, Queue: queue, SwapChain: sc})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func runFrame(t *testing.T, l *Loop) *Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := l.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.End(f); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := l.Present(); err != nil {
		t.Fatalf("Present: %v", err)
	}
	return f
}

func TestSlotsCycleInOrder(t *testing.T) {
	device, queue := createNoopDevice(t)
	l := newLoop(t, device, queue)

	const frames = 10
	for i := range frames {
		if got, want := l.Slot(), i%swapchain.SlotCount; got != want {
			t.Fatalf("frame %d: Slot() = %d, want %d", i, got, want)
		}
		f := runFrame(t, l)
		if f.Slot != i%swapchain.SlotCount {
			t.Errorf("frame %d recorded on slot %d", i, f.Slot)
		}
		if f.Number != uint64(i) {
			t.Errorf("frame number = %d, want %d", f.Number, i)
		}
	}
	if l.Frames() != frames {
		t.Errorf("Frames() = %d, want %d", l.Frames(), frames)
	}
}

func TestFenceValuesIncreasePerSlot(t *testing.T) {
	device, queue := createNoopDevice(t)
	l := newLoop(t, device, queue)

	var last [swapchain.SlotCount]uint64
	for i := range 4 * swapchain.SlotCount {
		f := runFrame(t, l)
		v := l.FenceValue(f.Slot)
		if v <= last[f.Slot] {
			t.Fatalf("frame %d: slot %d fence value %d not above previous %d", i, f.Slot, v, last[f.Slot])
		}
		last[f.Slot] = v
	}
	if got := l.NextFenceValue(); got != 4*swapchain.SlotCount+1 {
		t.Errorf("NextFenceValue() = %d, want %d", got, 4*swapchain.SlotCount+1)
	}
}

func TestEncoderNotResetBeforeFence(t *testing.T) {
	device, queue := createNoopDevice(t)
	sq := &slowQueue{Queue: queue}
	td := &trackingDevice{Device: device, queue: sq}
	l := newLoop(t, td, sq)

	const frames = 5 * swapchain.SlotCount
	for range frames {
		runFrame(t, l)
	}
	if err := l.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	resets, violations := 0, 0
	for _, e := range td.encoders {
		resets += e.resets
		violations += e.violations
	}
	if violations != 0 {
		t.Errorf("%d encoder resets happened before the GPU finished", violations)
	}
	if want := frames - swapchain.SlotCount; resets != want {
		t.Errorf("resets = %d, want %d", resets, want)
	}
	for i := range swapchain.SlotCount {
		if !l.SlotReady(i) {
			t.Errorf("slot %d not ready after Drain", i)
		}
	}
}

func TestBeginHonorsContext(t *testing.T) {
	device, queue := createNoopDevice(t)
	stuck := &stuckQueue{Queue: queue}
	l := newLoop(t, device, stuck)

	// Fill every slot; nothing ever completes.
	for range swapchain.SlotCount {
		runFrame(t, l)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Begin(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Begin error = %v, want DeadlineExceeded", err)
	}
	if l.State() != StatePresented {
		t.Errorf("State() = %s after failed Begin, want presented", l.State())
	}
	stuck.release = true
}

// stuckQueue never completes submissions until released.
type stuckQueue struct {
	hal.Queue
	submitted uint64
	release   bool
}

func (q *stuckQueue) Submit([]hal.CommandBuffer) (uint64, error) {
	q.submitted++
	return q.submitted, nil
}

func (q *stuckQueue) PollCompleted() uint64 {
	if q.release {
		return q.submitted
	}
	return 0
}

func TestStateMachine(t *testing.T) {
	device, queue := createNoopDevice(t)
	l := newLoop(t, device, queue)
	ctx := context.Background()

	if l.State() != StateIdle {
		t.Fatalf("initial State() = %s, want idle", l.State())
	}
	if err := l.Present(); !errors.Is(err, ErrBadState) {
		t.Errorf("Present while idle error = %v, want ErrBadState", err)
	}
	if err := l.End(nil); !errors.Is(err, ErrBadState) {
		t.Errorf("End while idle error = %v, want ErrBadState", err)
	}

	f, err := l.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if l.State() != StateRecording {
		t.Errorf("State() = %s, want recording", l.State())
	}
	if _, err := l.Begin(ctx); !errors.Is(err, ErrBadState) {
		t.Errorf("Begin while recording error = %v, want ErrBadState", err)
	}
	if err := l.End(f); err != nil {
		t.Fatalf("End: %v", err)
	}
	if l.State() != StateSubmitted {
		t.Errorf("State() = %s, want submitted", l.State())
	}
	if l.LastSlot() != 0 {
		t.Errorf("LastSlot() = %d, want 0", l.LastSlot())
	}
	if err := l.Present(); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if l.State() != StatePresented {
		t.Errorf("State() = %s, want presented", l.State())
	}
	if l.LastSlot() != 0 || l.Slot() != 1 {
		t.Errorf("LastSlot() = %d, Slot() = %d, want 0 and 1", l.LastSlot(), l.Slot())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateIdle, "idle"},
		{StateRecording, "recording"},
		{StateSubmitted, "submitted"},
		{StatePresented, "presented"},
		{State(7), "State(7)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

var errDeviceLost = errors.New("device lost")

// failingQueue rejects submissions while fail is set.
type failingQueue struct {
	hal.Queue
	fail bool
}

func (q *failingQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	if q.fail {
		return 0, errDeviceLost
	}
	return q.Queue.Submit(cmds)
}

// countingPass counts End calls on one render pass.
type countingPass struct {
	hal.RenderPassEncoder
	ends *int
}

func (p *countingPass) End() {
	*p.ends++
	p.RenderPassEncoder.End()
}

// lifecycleEncoder flags encoder calls made after recording has ended.
type lifecycleEncoder struct {
	hal.CommandEncoder
	passEnds         int
	ended            bool
	discards         int
	discardsAfterEnd int
}

func (e *lifecycleEncoder) BeginEncoding(label string) error {
	e.ended = false
	return e.CommandEncoder.BeginEncoding(label)
}

func (e *lifecycleEncoder) EndEncoding() (hal.CommandBuffer, error) {
	e.ended = true
	return e.CommandEncoder.EndEncoding()
}

func (e *lifecycleEncoder) DiscardEncoding() {
	e.discards++
	if e.ended {
		e.discardsAfterEnd++
	}
	e.ended = true
	e.CommandEncoder.DiscardEncoding()
}

func (e *lifecycleEncoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	return &countingPass{RenderPassEncoder: e.CommandEncoder.BeginRenderPass(desc), ends: &e.passEnds}
}

type lifecycleDevice struct {
	hal.Device
	encoders []*lifecycleEncoder
}

func (d *lifecycleDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	le := &lifecycleEncoder{CommandEncoder: enc}
	d.encoders = append(d.encoders, le)
	return le, nil
}

func TestEndSubmitFailureRecovers(t *testing.T) {
	device, queue := createNoopDevice(t)
	ld := &lifecycleDevice{Device: device}
	fq := &failingQueue{Queue: queue, fail: true}
	l := newLoop(t, ld, fq)
	ctx := context.Background()

	f, err := l.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.End(f); !errors.Is(err, errDeviceLost) {
		t.Fatalf("End error = %v, want submit error", err)
	}
	if l.State() != StateIdle {
		t.Errorf("State() = %s after failed submit, want idle", l.State())
	}
	if l.Slot() != 0 || l.FenceValue(0) != 0 {
		t.Errorf("Slot() = %d, FenceValue(0) = %d, want 0 and 0", l.Slot(), l.FenceValue(0))
	}

	fq.fail = false
	runFrame(t, l)
	if l.FenceValue(0) != 1 || l.Slot() != 1 {
		t.Errorf("FenceValue(0) = %d, Slot() = %d after recovery, want 1 and 1", l.FenceValue(0), l.Slot())
	}

	l.Close()
	enc := ld.encoders[0]
	if enc.passEnds != 2 {
		t.Errorf("slot 0 pass ended %d times, want 2", enc.passEnds)
	}
	for i, e := range ld.encoders {
		if e.discardsAfterEnd != 0 {
			t.Errorf("encoder %d discarded %d times after EndEncoding", i, e.discardsAfterEnd)
		}
	}
}

func TestAbortDiscardsFrame(t *testing.T) {
	device, queue := createNoopDevice(t)
	ld := &lifecycleDevice{Device: device}
	l := newLoop(t, ld, queue)
	ctx := context.Background()

	f, err := l.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.Abort(f); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if l.State() != StateIdle || l.Slot() != 0 {
		t.Errorf("State() = %s, Slot() = %d after Abort, want idle and 0", l.State(), l.Slot())
	}
	if err := l.Abort(f); !errors.Is(err, ErrBadState) {
		t.Errorf("second Abort error = %v, want ErrBadState", err)
	}
	if err := l.End(f); !errors.Is(err, ErrBadState) {
		t.Errorf("End after Abort error = %v, want ErrBadState", err)
	}
	runFrame(t, l)

	l.Close()
	enc := ld.encoders[0]
	if enc.passEnds != 2 || enc.discards != 1 || enc.discardsAfterEnd != 0 {
		t.Errorf("passEnds = %d, discards = %d, discardsAfterEnd = %d, want 2, 1, 0",
			enc.passEnds, enc.discards, enc.discardsAfterEnd)
	}
}

func TestCloseWhileRecording(t *testing.T) {
	device, queue := createNoopDevice(t)
	ld := &lifecycleDevice{Device: device}
	l := newLoop(t, ld, queue)

	if _, err := l.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	l.Close()
	enc := ld.encoders[0]
	if enc.passEnds != 1 || enc.discards != 1 || enc.discardsAfterEnd != 0 {
		t.Errorf("passEnds = %d, discards = %d, discardsAfterEnd = %d, want 1, 1, 0",
			enc.passEnds, enc.discards, enc.discardsAfterEnd)
	}
	if l.State() != StateIdle {
		t.Errorf("State() = %s after Close, want idle", l.State())
	}
}
