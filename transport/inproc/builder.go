package inproc

import (
	"fmt"

	"github.com/sarchlab/gompi/comm"
)

// Builder can build fabrics.
type Builder struct {
	size int
}

// MakeBuilder creates a builder of a single-rank fabric.
func MakeBuilder() Builder {
	return Builder{size: 1}
}

// WithSize sets the number of ranks connected by the fabric.
func (b Builder) WithSize(size int) Builder {
	b.size = size
	return b
}

// Build creates a new fabric.
func (b Builder) Build(name string) *Fabric {
	if b.size < 1 {
		panic(fmt.Sprintf("fabric size must be positive, got %d", b.size))
	}

	return &Fabric{
		name: name,
		ends: make([]comm.Deliverer, b.size),
	}
}
