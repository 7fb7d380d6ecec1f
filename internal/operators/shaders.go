package operators

import (
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// matmulTemplate is the WGSL MatMul kernel. Dimensions are baked in as
// constants, so every compiled kernel is specialized to one shape.
//
// A is [BATCH, M, K] (or [M, K]), B is [K, N] shared by every batch entry,
// C is [BATCH, M, N] (or [M, N]). Every element of C is written.
var matmulTemplate = template.Must(template.New("matmul").Parse(`
const M: u32 = {{.M}}u;
const K: u32 = {{.K}}u;
const N: u32 = {{.N}}u;
{{- if .Stack}}
const BATCH: u32 = {{.Batch}}u;
{{- end}}

@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

@compute @workgroup_size({{.Tile}}, {{.Tile}}, 1)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.y;
    let col = global_id.x;
{{- if .Stack}}
    let batch_idx = global_id.z;

    if (batch_idx >= BATCH || row >= M || col >= N) {
        return;
    }

    let a_offset = batch_idx * M * K;
    let c_offset = batch_idx * M * N;
{{- else}}

    if (row >= M || col >= N) {
        return;
    }

    let a_offset = 0u;
    let c_offset = 0u;
{{- end}}

    var sum: f32 = 0.0;
    for (var i: u32 = 0u; i < K; i = i + 1u) {
        sum = sum + a[a_offset + row * K + i] * b[i * N + col];
    }

    result[c_offset + row * N + col] = sum;
}
`))

type matmulShaderParams struct {
	Batch, M, K, N int
	Tile           int
	Stack          bool
}

func matmulShader(d matmulDims, dispatch Dispatch) (string, error) {
	var sb strings.Builder
	err := matmulTemplate.Execute(&sb, matmulShaderParams{
		Batch: d.batch,
		M:     d.m,
		K:     d.k,
		N:     d.n,
		Tile:  dispatch.Tile,
		Stack: d.stack,
	})
	if err != nil {
		return "", errors.Wrap(err, "render MatMul shader")
	}
	return sb.String(), nil
}
