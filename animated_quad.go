package hellogpu

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/hellogpu/internal/swapchain"
	"github.com/gogpu/hellogpu/internal/upload"
)

const (
	// rotationStep is the rotation added every frame, in radians.
	rotationStep = 0.01

	// animatedScale shrinks the quad so its corners stay on screen while
	// it turns.
	animatedScale = 0.5
)

// animatedTransform returns the transform for frame n. The quad is scaled,
// rotated, then squeezed horizontally by the aspect ratio so it stays
// square on a non-square target.
func animatedTransform(n uint64, aspect float32) Matrix {
	angle := float32(n) * rotationStep
	return Scale(1/aspect, 1).
		Multiply(Rotate(angle)).
		Multiply(Scale(animatedScale, animatedScale))
}

// animatedQuad keeps one transform buffer per slot. A slot's buffer is only
// rewritten in update, after the loop has observed the slot's fence.
type animatedQuad struct {
	geometry

	queue    hal.Queue
	aspect   float32
	uniforms [swapchain.SlotCount]hal.Buffer
	groups   [swapchain.SlotCount]hal.BindGroup
	writes   uint64
}

func (q *animatedQuad) init(s *setup) error {
	q.queue = s.queue
	q.aspect = s.aspect()

	initial := animatedTransform(0, q.aspect).Bytes()
	blobs := make([]upload.Blob, 0, swapchain.SlotCount)
	for i := range swapchain.SlotCount {
		blobs = append(blobs, upload.Blob{
			Label: fmt.Sprintf("transform_%d", i),
			Kind:  upload.KindUniform,
			Data:  initial,
		})
	}
	targets, err := q.record(s, blobs...)
	if err != nil {
		return err
	}

	layout := s.pipeline.GroupLayout[0]
	for i := range swapchain.SlotCount {
		q.uniforms[i] = targets[i].Buffer
		group, err := createUniformGroup(s.device, layout, fmt.Sprintf("transform_group_%d", i), q.uniforms[i])
		if err != nil {
			return fmt.Errorf("create transform bind group %d: %w", i, err)
		}
		q.groups[i] = group
	}
	return nil
}

func (q *animatedQuad) update(slot int, frame uint64) error {
	data := animatedTransform(frame, q.aspect).Bytes()
	if err := q.queue.WriteBuffer(q.uniforms[slot], 0, data); err != nil {
		return fmt.Errorf("write transform %d: %w", slot, err)
	}
	q.writes++
	return nil
}

func (q *animatedQuad) draw(pass hal.RenderPassEncoder, slot int) {
	pass.SetPipeline(q.pipeline.Pipeline)
	pass.SetBindGroup(0, q.groups[slot], nil)
	q.geometry.draw(pass)
}

func (q *animatedQuad) release(device hal.Device) {
	for i := len(q.groups) - 1; i >= 0; i-- {
		if q.groups[i] != nil {
			device.DestroyBindGroup(q.groups[i])
			q.groups[i] = nil
		}
	}
	q.uniforms = [swapchain.SlotCount]hal.Buffer{}
	q.geometry.release(device)
}
