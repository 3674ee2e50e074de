// Package packer maps named, shaped parameter blocks onto one flat float64
// arena, the layout consumed by gradient-based optimizers.
//
// Blocks are laid out back to back in construction order. Each block is
// stored row-major, the native layout of gonum's mat.Dense: element (i, j)
// of a block lives at Offset()+i*Cols()+j. Vectors are n×1 blocks.
package packer

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShape is raised when a value or a flat buffer does not match a
	// block's declared shape.
	ErrShape = errors.New("packer: shape mismatch")

	// ErrName is returned for an empty or unknown block name.
	ErrName = errors.New("packer: invalid block name")

	// ErrDuplicate is returned when two entries share a name.
	ErrDuplicate = errors.New("packer: duplicate block name")

	// ErrValue is returned by PackScalarOrShaped for unsupported raw values.
	ErrValue = errors.New("packer: unsupported value")
)

// Entry declares one block by name and shape.
type Entry struct {
	name   string
	rows   int
	cols   int
	vector bool
}

// Matrix declares a block shaped like m.
func Matrix(name string, m mat.Matrix) Entry {
	r, c := 0, 0
	if m != nil {
		r, c = m.Dims()
	}
	return Entry{name: name, rows: r, cols: c}
}

// Vector declares a vector block of v's length.
func Vector(name string, v mat.Vector) Entry {
	n := 0
	if v != nil {
		n = v.Len()
	}
	return Entry{name: name, rows: n, cols: 1, vector: true}
}

// Sized declares a rows×cols block without a reference value.
func Sized(name string, rows, cols int) Entry {
	return Entry{name: name, rows: rows, cols: cols}
}

// Block is the immutable (offset, shape) descriptor of a packed block.
type Block struct {
	name   string
	offset int
	rows   int
	cols   int
	vector bool
}

// Name returns the name the block was registered under.
func (b Block) Name() string { return b.name }

// Offset returns the index of the block's first element in the flat vector.
func (b Block) Offset() int { return b.offset }

// Rows returns the block's row count.
func (b Block) Rows() int { return b.rows }

// Cols returns the block's column count; vectors report 1.
func (b Block) Cols() int { return b.cols }

// Len returns the number of flat elements the block occupies.
func (b Block) Len() int { return b.rows * b.cols }

// IsVector reports whether the block was registered as a vector.
func (b Block) IsVector() bool { return b.vector }

func (b Block) String() string {
	return fmt.Sprintf("%s[%d:%d](%dx%d)", b.name, b.offset, b.offset+b.Len(), b.rows, b.cols)
}

// span returns the block's slice of flat. The capacity is clipped so views
// cannot grow into the next block.
func (b Block) span(flat []float64) []float64 {
	return flat[b.offset : b.offset+b.Len() : b.offset+b.Len()]
}

// Packer is the block table. It is computed once and never mutated, so a
// single Packer may be shared by concurrent runs that own their own arenas.
type Packer struct {
	blocks []Block
	index  map[string]int
	size   int
}

// New assigns offsets to entries in order.
func New(entries ...Entry) (*Packer, error) {
	p := &Packer{
		blocks: make([]Block, 0, len(entries)),
		index:  make(map[string]int, len(entries)),
	}
	offset := 0
	for _, e := range entries {
		if e.name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrName)
		}
		if _, ok := p.index[e.name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, e.name)
		}
		if e.rows < 0 || e.cols < 0 {
			return nil, fmt.Errorf("%w: %q has negative dimensions %dx%d", ErrShape, e.name, e.rows, e.cols)
		}
		p.index[e.name] = len(p.blocks)
		p.blocks = append(p.blocks, Block{
			name:   e.name,
			offset: offset,
			rows:   e.rows,
			cols:   e.cols,
			vector: e.vector,
		})
		offset += e.rows * e.cols
	}
	p.size = offset
	return p, nil
}

// Size is the total number of packed elements.
func (p *Packer) Size() int { return p.size }

// Blocks returns a copy of the block table in packing order.
func (p *Packer) Blocks() []Block {
	out := make([]Block, len(p.blocks))
	copy(out, p.blocks)
	return out
}

// Block looks a block up by name.
func (p *Packer) Block(name string) (Block, bool) {
	i, ok := p.index[name]
	if !ok {
		return Block{}, false
	}
	return p.blocks[i], true
}

// MustBlock is Block for names fixed at compile time.
func (p *Packer) MustBlock(name string) Block {
	b, ok := p.Block(name)
	if !ok {
		panic(fmt.Errorf("%w: %q", ErrName, name))
	}
	return b
}

// NewArena allocates a zeroed flat vector of Size elements.
func (p *Packer) NewArena() []float64 {
	return make([]float64, p.size)
}

func (p *Packer) checkFlat(flat []float64) {
	if len(flat) != p.size {
		panic(fmt.Errorf("%w: flat vector has %d elements, packer holds %d", ErrShape, len(flat), p.size))
	}
}

// Pack copies value into the block's span of flat. A value whose shape
// differs from the block's is a programming error and panics.
func (p *Packer) Pack(b Block, flat []float64, value mat.Matrix) {
	p.checkFlat(flat)
	r, c := 0, 0
	if value != nil {
		r, c = value.Dims()
	}
	if r != b.rows || c != b.cols {
		panic(fmt.Errorf("%w: %s got %dx%d", ErrShape, b, r, c))
	}
	dst := b.span(flat)
	if rm, ok := value.(mat.RawMatrixer); ok {
		raw := rm.RawMatrix()
		for i := 0; i < r; i++ {
			copy(dst[i*c:(i+1)*c], raw.Data[i*raw.Stride:i*raw.Stride+c])
		}
		return
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst[i*c+j] = value.At(i, j)
		}
	}
}

// PackVec copies v into a vector block.
func (p *Packer) PackVec(b Block, flat []float64, v mat.Vector) {
	p.checkFlat(flat)
	if v.Len() != b.Len() || b.cols != 1 {
		panic(fmt.Errorf("%w: %s got vector of %d", ErrShape, b, v.Len()))
	}
	dst := b.span(flat)
	for i := range dst {
		dst[i] = v.AtVec(i)
	}
}

// Fill broadcasts a scalar over the block.
func (p *Packer) Fill(b Block, flat []float64, v float64) {
	p.checkFlat(flat)
	dst := b.span(flat)
	for i := range dst {
		dst[i] = v
	}
}

// Unpack returns a freshly allocated copy of the block. Zero-element blocks
// unpack to an empty matrix.
func (p *Packer) Unpack(b Block, flat []float64) *mat.Dense {
	p.checkFlat(flat)
	if b.Len() == 0 {
		return &mat.Dense{}
	}
	data := make([]float64, b.Len())
	copy(data, b.span(flat))
	return mat.NewDense(b.rows, b.cols, data)
}

// UnpackVec returns a copy of a vector block.
func (p *Packer) UnpackVec(b Block, flat []float64) *mat.VecDense {
	p.checkFlat(flat)
	if b.Len() == 0 {
		return &mat.VecDense{}
	}
	data := make([]float64, b.Len())
	copy(data, b.span(flat))
	return mat.NewVecDense(len(data), data)
}

// View points dst at the block's span of flat without copying; writes
// through dst land in flat. Reusing dst across calls does not allocate.
func (p *Packer) View(b Block, flat []float64, dst *mat.Dense) {
	p.checkFlat(flat)
	if b.Len() == 0 {
		dst.Reset()
		return
	}
	dst.SetRawMatrix(blas64.General{
		Rows:   b.rows,
		Cols:   b.cols,
		Stride: b.cols,
		Data:   b.span(flat),
	})
}

// Slice exposes the block's raw span of flat.
func (p *Packer) Slice(b Block, flat []float64) []float64 {
	p.checkFlat(flat)
	return b.span(flat)
}

// PackScalarOrShaped writes raw into the block, broadcasting scalars.
// Accepted raw values are float64, int, int64, []float64 (row-major, full
// length), [][]float64 or []any (as decoded from YAML, TOML or JSON;
// flat or nested by rows), and mat.Matrix. It is meant for configuration
// input, so unlike Pack it returns errors instead of panicking.
func (p *Packer) PackScalarOrShaped(b Block, flat []float64, raw any) error {
	if len(flat) != p.size {
		return fmt.Errorf("%w: flat vector has %d elements, packer holds %d", ErrShape, len(flat), p.size)
	}
	switch v := raw.(type) {
	case float64:
		p.Fill(b, flat, v)
		return nil
	case int:
		p.Fill(b, flat, float64(v))
		return nil
	case int64:
		p.Fill(b, flat, float64(v))
		return nil
	case []float64:
		if len(v) != b.Len() {
			return fmt.Errorf("%w: %s got %d values", ErrShape, b, len(v))
		}
		copy(b.span(flat), v)
		return nil
	case [][]float64:
		if len(v) != b.rows {
			return fmt.Errorf("%w: %s got %d rows", ErrShape, b, len(v))
		}
		dst := b.span(flat)
		for i, row := range v {
			if len(row) != b.cols {
				return fmt.Errorf("%w: %s row %d has %d values", ErrShape, b, i, len(row))
			}
			copy(dst[i*b.cols:], row)
		}
		return nil
	case []any:
		values, err := flattenAny(v, b)
		if err != nil {
			return err
		}
		copy(b.span(flat), values)
		return nil
	case mat.Matrix:
		r, c := v.Dims()
		if r != b.rows || c != b.cols {
			return fmt.Errorf("%w: %s got %dx%d", ErrShape, b, r, c)
		}
		p.Pack(b, flat, v)
		return nil
	default:
		return fmt.Errorf("%w: %s cannot take %T", ErrValue, b, raw)
	}
}

// flattenAny accepts either a flat list of b.Len() numbers or b.Rows()
// lists of b.Cols() numbers.
func flattenAny(v []any, b Block) ([]float64, error) {
	out := make([]float64, 0, b.Len())
	nested := len(v) > 0
	for _, e := range v {
		if _, ok := e.([]any); !ok {
			nested = false
			break
		}
	}
	if !nested {
		if len(v) != b.Len() {
			return nil, fmt.Errorf("%w: %s got %d values", ErrShape, b, len(v))
		}
		for _, e := range v {
			f, err := toFloat(e, b)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	}
	if len(v) != b.rows {
		return nil, fmt.Errorf("%w: %s got %d rows", ErrShape, b, len(v))
	}
	for i, e := range v {
		row := e.([]any)
		if len(row) != b.cols {
			return nil, fmt.Errorf("%w: %s row %d has %d values", ErrShape, b, i, len(row))
		}
		for _, x := range row {
			f, err := toFloat(x, b)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func toFloat(v any, b Block) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("%w: %s element of type %T", ErrValue, b, v)
	}
}
