package bayesian

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// MatrixPool provides a pool of reusable matrices to reduce allocations
// while refitting the surrogate. Matrices handed out are zeroed and have
// the requested shape.
type MatrixPool struct {
	mu         sync.Mutex
	symPools   []*mat.SymDense
	densePools []*mat.Dense
}

// NewMatrixPool creates a new MatrixPool
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{
		symPools:   make([]*mat.SymDense, 0, 4),
		densePools: make([]*mat.Dense, 0, 4),
	}
}

// GetSymDense returns an n×n symmetric matrix from the pool or creates a new one
func (p *MatrixPool) GetSymDense(n int) *mat.SymDense {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k := len(p.symPools); k > 0 {
		m := p.symPools[k-1]
		p.symPools = p.symPools[:k-1]
		m.Reset()
		m.ReuseAsSym(n)
		return m
	}
	return mat.NewSymDense(n, nil)
}

// PutSymDense returns a symmetric matrix to the pool
func (p *MatrixPool) PutSymDense(m *mat.SymDense) {
	if m == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.symPools = append(p.symPools, m)
}

// GetDense returns an r×c dense matrix from the pool or creates a new one
func (p *MatrixPool) GetDense(r, c int) *mat.Dense {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k := len(p.densePools); k > 0 {
		m := p.densePools[k-1]
		p.densePools = p.densePools[:k-1]
		m.Reset()
		m.ReuseAs(r, c)
		return m
	}
	return mat.NewDense(r, c, nil)
}

// PutDense returns a dense matrix to the pool
func (p *MatrixPool) PutDense(m *mat.Dense) {
	if m == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.densePools = append(p.densePools, m)
}
