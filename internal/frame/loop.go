// Package frame drives the per-frame lifecycle over a swap chain ring:
// wait for the slot's fence, recycle its encoder, record, submit, signal,
// present and advance.
//
// Every slot owns a command encoder, its last command buffer and a fence.
// A slot's resources are only reused after its fence has reached the value
// signaled for the slot's previous submission, so at most SlotCount frames
// are in flight.
package frame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/hellogpu/internal/fence"
	"github.com/gogpu/hellogpu/internal/swapchain"
)

// ErrBadState is returned when a loop operation is called out of order.
var ErrBadState = errors.New("frame: operation not valid in current state")

// ClearColor is the background every frame starts from.
var ClearColor = gputypes.Color{R: 0.042, G: 0.042, B: 0.042, A: 1}

// State is the loop's position in the frame lifecycle.
type State uint8

const (
	StateIdle State = iota
	StateRecording
	StateSubmitted
	StatePresented
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateSubmitted:
		return "submitted"
	case StatePresented:
		return "presented"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Config holds the loop dependencies.
type Config struct {
	Device    hal.Device
	Queue     hal.Queue
	SwapChain *swapchain.SwapChain
	Logger    *slog.Logger
}

// Frame is the frame being recorded. Pass is open between Begin and End.
type Frame struct {
	Number uint64
	Slot   int
	Pass   hal.RenderPassEncoder
	Target *swapchain.Target

	encoder hal.CommandEncoder
}

// Loop is the frame state machine. It is not safe for concurrent use.
type Loop struct {
	device hal.Device
	queue  hal.Queue
	swap   *swapchain.SwapChain
	logger *slog.Logger

	encoders    [swapchain.SlotCount]hal.CommandEncoder
	cmdBufs     [swapchain.SlotCount]hal.CommandBuffer
	fences      [swapchain.SlotCount]*fence.Fence
	fenceValues [swapchain.SlotCount]uint64

	nextValue uint64
	current   int
	state     State
	frame     *Frame
	frames    uint64
}

// New creates the per-slot encoders and fences.
func New(cfg Config) (*Loop, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Loop{
		device:    cfg.Device,
		queue:     cfg.Queue,
		swap:      cfg.SwapChain,
		logger:    logger,
		nextValue: 1,
	}
	for i := range l.encoders {
		enc, err := cfg.Device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
			Label: fmt.Sprintf("frame_encoder_%d", i),
		})
		if err != nil {
			l.destroyEncoders()
			return nil, fmt.Errorf("create frame encoder %d: %w", i, err)
		}
		l.encoders[i] = enc
		l.fences[i] = fence.New(fmt.Sprintf("frame_fence_%d", i), cfg.Queue)
	}
	return l, nil
}

// Begin waits until the current slot is free, recycles its encoder and
// opens a render pass on the slot's back buffer cleared to ClearColor.
func (l *Loop) Begin(ctx context.Context) (*Frame, error) {
	if l.state != StateIdle && l.state != StatePresented {
		return nil, fmt.Errorf("%w: Begin while %s", ErrBadState, l.state)
	}
	slot := l.current

	if !l.fences[slot].Reached(l.fenceValues[slot]) {
		l.logger.Debug("frame: waiting for slot", "slot", slot, "value", l.fenceValues[slot])
	}
	if err := l.fences[slot].Wait(ctx, l.fenceValues[slot]); err != nil {
		return nil, fmt.Errorf("wait for slot %d: %w", slot, err)
	}

	enc := l.encoders[slot]
	if l.cmdBufs[slot] != nil {
		enc.ResetAll([]hal.CommandBuffer{l.cmdBufs[slot]})
		l.cmdBufs[slot] = nil
	}
	if err := enc.BeginEncoding(fmt.Sprintf("frame_%d", l.frames)); err != nil {
		return nil, fmt.Errorf("begin frame encoding: %w", err)
	}

	target, err := l.swap.Acquire(slot)
	if err != nil {
		enc.DiscardEncoding()
		return nil, err
	}

	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: target.Texture,
		Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll},
		Usage: hal.TextureUsageTransition{
			OldUsage: target.Before,
			NewUsage: gputypes.TextureUsageRenderAttachment,
		},
	}})

	pass := enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "quad_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       target.View,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: ClearColor,
		}},
	})
	w, h := l.swap.Size()
	pass.SetViewport(0, 0, float32(w), float32(h), 0, 1)
	pass.SetScissorRect(0, 0, w, h)

	l.frame = &Frame{
		Number:  l.frames,
		Slot:    slot,
		Pass:    pass,
		Target:  target,
		encoder: enc,
	}
	l.state = StateRecording
	return l.frame, nil
}

// End closes the pass, transitions the back buffer for presentation,
// submits the slot's commands and signals the slot's fence with a fresh
// value.
func (l *Loop) End(f *Frame) error {
	if l.state != StateRecording || f == nil || f != l.frame {
		return fmt.Errorf("%w: End while %s", ErrBadState, l.state)
	}
	f.Pass.End()
	f.encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: f.Target.Texture,
		Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll},
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: l.swap.PresentUsage(),
		},
	}})

	cmd, err := f.encoder.EndEncoding()
	if err != nil {
		f.encoder.DiscardEncoding()
		l.abandon()
		return fmt.Errorf("end frame encoding: %w", err)
	}

	sub, err := l.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		f.encoder.ResetAll([]hal.CommandBuffer{cmd})
		l.abandon()
		return fmt.Errorf("submit frame %d: %w", f.Number, err)
	}
	l.cmdBufs[f.Slot] = cmd
	value := l.nextValue
	l.nextValue++
	if err := l.fences[f.Slot].Signal(value, sub); err != nil {
		l.abandon()
		return err
	}
	l.fenceValues[f.Slot] = value
	l.state = StateSubmitted
	return nil
}

// Abort ends the open pass and discards the recorded commands of a frame
// that will not be submitted. The slot is reused by the next Begin.
func (l *Loop) Abort(f *Frame) error {
	if l.state != StateRecording || f == nil || f != l.frame {
		return fmt.Errorf("%w: Abort while %s", ErrBadState, l.state)
	}
	f.Pass.End()
	f.encoder.DiscardEncoding()
	l.abandon()
	return nil
}

// abandon drops the current frame after its encoder left the recording
// state. The slot is not advanced and nothing is presented.
func (l *Loop) abandon() {
	l.frame = nil
	l.state = StateIdle
}

// Present presents the submitted frame and advances to the next slot.
func (l *Loop) Present() error {
	if l.state != StateSubmitted {
		return fmt.Errorf("%w: Present while %s", ErrBadState, l.state)
	}
	if err := l.swap.Present(l.queue, l.current); err != nil {
		return err
	}
	l.current = (l.current + 1) % len(l.encoders)
	l.frames++
	l.frame = nil
	l.state = StatePresented
	return nil
}

// Drain blocks until every slot's last submission has completed.
func (l *Loop) Drain(ctx context.Context) error {
	for i, f := range l.fences {
		if err := f.Wait(ctx, l.fenceValues[i]); err != nil {
			return fmt.Errorf("drain slot %d: %w", i, err)
		}
	}
	return nil
}

// Slot returns the current slot index.
func (l *Loop) Slot() int { return l.current }

// State returns the lifecycle state.
func (l *Loop) State() State { return l.state }

// Frames returns the number of presented frames.
func (l *Loop) Frames() uint64 { return l.frames }

// FenceValue returns the value signaled for slot's last submission.
func (l *Loop) FenceValue(slot int) uint64 { return l.fenceValues[slot] }

// NextFenceValue returns the value the next submission will signal.
func (l *Loop) NextFenceValue() uint64 { return l.nextValue }

// SlotReady reports whether slot's last submission has completed.
func (l *Loop) SlotReady(slot int) bool {
	return l.fences[slot].Reached(l.fenceValues[slot])
}

// LastSlot returns the slot of the most recently submitted frame.
func (l *Loop) LastSlot() int {
	if l.state == StateSubmitted {
		return l.current
	}
	return (l.current + len(l.encoders) - 1) % len(l.encoders)
}

// Close drains outstanding work and destroys the encoders.
func (l *Loop) Close() {
	if l.state == StateRecording && l.frame != nil {
		_ = l.Abort(l.frame)
	}
	if err := l.Drain(context.Background()); err != nil {
		l.logger.Warn("frame: drain on close failed", "err", err)
	}
	for i, cmd := range l.cmdBufs {
		if cmd != nil {
			l.encoders[i].ResetAll([]hal.CommandBuffer{cmd})
			l.cmdBufs[i] = nil
		}
	}
	l.destroyEncoders()
	l.state = StateIdle
}

func (l *Loop) destroyEncoders() {
	for i := len(l.encoders) - 1; i >= 0; i-- {
		if l.encoders[i] != nil {
			l.encoders[i].Destroy()
			l.encoders[i] = nil
		}
	}
}
