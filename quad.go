package hellogpu

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/hellogpu/internal/pipeline"
	"github.com/gogpu/hellogpu/internal/upload"
)

// quadVertex matches pipeline.VertexLayout: position then uv.
type quadVertex struct {
	Position [3]float32
	UV       [2]float32
}

// quadVertices cover the viewport, uv origin at the top left.
var quadVertices = [4]quadVertex{
	{Position: [3]float32{-1, 1, 0}, UV: [2]float32{0, 0}},
	{Position: [3]float32{1, 1, 0}, UV: [2]float32{1, 0}},
	{Position: [3]float32{1, -1, 0}, UV: [2]float32{1, 1}},
	{Position: [3]float32{-1, -1, 0}, UV: [2]float32{0, 1}},
}

var quadIndices = [6]uint32{0, 1, 2, 2, 3, 0}

func vertexBytes() []byte {
	buf := make([]byte, 0, len(quadVertices)*pipeline.VertexStride)
	for _, v := range quadVertices {
		for _, f := range v.Position {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
		for _, f := range v.UV {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	}
	return buf
}

func indexBytes() []byte {
	buf := make([]byte, 0, len(quadIndices)*4)
	for _, i := range quadIndices {
		buf = binary.LittleEndian.AppendUint32(buf, i)
	}
	return buf
}

// geometry owns the quad's vertex and index buffers. Every variant draws
// through it.
type geometry struct {
	pipeline *pipeline.Pipeline
	targets  []upload.Target
	vertices hal.Buffer
	indices  hal.Buffer
}

func (g *geometry) blobs() []upload.Blob {
	return []upload.Blob{
		{Label: "quad_vertices", Kind: upload.KindVertex, Data: vertexBytes()},
		{Label: "quad_indices", Kind: upload.KindIndex, Data: indexBytes()},
	}
}

// record uploads the geometry followed by extra, and returns the targets
// created for extra.
func (g *geometry) record(s *setup, extra ...upload.Blob) ([]upload.Target, error) {
	g.pipeline = s.pipeline
	targets, err := s.uploader.Record(append(g.blobs(), extra...))
	if err != nil {
		return nil, err
	}
	g.targets = targets
	g.vertices = targets[0].Buffer
	g.indices = targets[1].Buffer
	return targets[2:], nil
}

// draw binds the buffers and issues the indexed draw. The pipeline and
// bind groups must already be set.
func (g *geometry) draw(pass hal.RenderPassEncoder) {
	pass.SetVertexBuffer(0, g.vertices, 0)
	pass.SetIndexBuffer(g.indices, gputypes.IndexFormatUint32, 0)
	pass.DrawIndexed(uint32(len(quadIndices)), 1, 0, 0, 0)
}

func (g *geometry) release(device hal.Device) {
	upload.DestroyTargets(device, g.targets)
	g.targets = nil
	g.vertices = nil
	g.indices = nil
}

// quad draws the static quad. It binds nothing.
type quad struct {
	geometry
}

func (q *quad) init(s *setup) error {
	_, err := q.record(s)
	return err
}

func (q *quad) update(int, uint64) error { return nil }

func (q *quad) draw(pass hal.RenderPassEncoder, _ int) {
	pass.SetPipeline(q.pipeline.Pipeline)
	q.geometry.draw(pass)
}

func (q *quad) release(device hal.Device) {
	q.geometry.release(device)
}

// createUniformGroup binds buf as the transform at group 0.
func createUniformGroup(device hal.Device, layout hal.BindGroupLayout, label string, buf hal.Buffer) (hal.BindGroup, error) {
	return device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  label,
		Layout: layout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(), Offset: 0, Size: Mat4Size,
			}},
		},
	})
}
