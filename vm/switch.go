package vm

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/chazu/xvm/module"
)

// ---------------------------------------------------------------------------
// JumpVal / JumpValN: multi-way branches over constant case rows
// ---------------------------------------------------------------------------

func init() {
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &JumpVal{A: r.ReadInt(), Cases: r.ReadInts(), Offsets: r.ReadInts(), Default: r.ReadInt()}
	}, OpJumpVal)
	registerDecoder(func(_ Opcode, r *module.PackedReader) Op {
		return &JumpValN{Args: r.ReadInts(), Cases: r.ReadInts(), Offsets: r.ReadInts(), Default: r.ReadInt()}
	}, OpJumpValN)
}

// Algorithm is the matching strategy a switch column needs. Values are
// ordered by cost; a table records the worst of its columns.
type Algorithm uint8

const (
	NativeSimple Algorithm = iota
	NativeInterval
	NaturalSimple
	NaturalInterval
)

func (a Algorithm) String() string {
	switch a {
	case NativeSimple:
		return "NativeSimple"
	case NativeInterval:
		return "NativeInterval"
	case NaturalSimple:
		return "NaturalSimple"
	}
	return "NaturalInterval"
}

// JumpVal branches on a single value. Each case constant is a value, an
// interval or the wildcard.
type JumpVal struct {
	A       int
	Cases   []int
	Offsets []int
	Default int

	table atomic.Pointer[MatchTable]
}

func (*JumpVal) Opcode() Opcode { return OpJumpVal }

func (op *JumpVal) Encode(w *module.PackedWriter) {
	w.WriteInt(op.A)
	w.WriteInts(op.Cases)
	w.WriteInts(op.Offsets)
	w.WriteInt(op.Default)
}

func (op *JumpVal) String() string {
	return fmt.Sprintf("JumpVal %s, %s, %s, %+d", OperandString(op.A), operandList(op.Cases), offsetList(op.Offsets), op.Default)
}

func (op *JumpVal) Process(f *Frame, ip int) int {
	return processSwitch(f, ip, &op.table, []int{op.A}, op.Cases, op.Offsets, op.Default)
}

// Table returns the match table once built, for inspection.
func (op *JumpVal) Table() *MatchTable { return op.table.Load() }

// JumpValN branches on several values at once. Each case constant is a
// tuple with one element per scrutinee.
type JumpValN struct {
	Args    []int
	Cases   []int
	Offsets []int
	Default int

	table atomic.Pointer[MatchTable]
}

func (*JumpValN) Opcode() Opcode { return OpJumpValN }

func (op *JumpValN) Encode(w *module.PackedWriter) {
	w.WriteInts(op.Args)
	w.WriteInts(op.Cases)
	w.WriteInts(op.Offsets)
	w.WriteInt(op.Default)
}

func (op *JumpValN) String() string {
	return fmt.Sprintf("JumpValN %s, %s, %s, %+d", operandList(op.Args), operandList(op.Cases), offsetList(op.Offsets), op.Default)
}

func (op *JumpValN) Process(f *Frame, ip int) int {
	return processSwitch(f, ip, &op.table, op.Args, op.Cases, op.Offsets, op.Default)
}

// Table returns the match table once built, for inspection.
func (op *JumpValN) Table() *MatchTable { return op.table.Load() }

// processSwitch builds the table before reading any scrutinee so that a
// repeat caused by a pending case constant has no side effects.
func processSwitch(f *Frame, ip int, cache *atomic.Pointer[MatchTable], args, cases, offsets []int, def int) int {
	if len(cases) != len(offsets) {
		internalf("switch with %d cases and %d offsets", len(cases), len(offsets))
	}
	t := cache.Load()
	if t == nil {
		var r int
		if t, r = buildSwitch(f, cases, len(args)); t == nil {
			return r
		}
		cache.Store(t)
	}
	values, ex := f.Args(args)
	if ex != nil {
		return f.Raise(ex)
	}
	return ResolveArgs(f, values, func(f *Frame, values []Handle) int {
		return t.match(f, values, func(f *Frame, row int) int {
			if row < 0 {
				return ip + def
			}
			return ip + offsets[row]
		})
	})
}

// ---------------------------------------------------------------------------
// Row sets
// ---------------------------------------------------------------------------

// rowSet is a bitset of case rows; tables with more than 64 rows chain
// additional words.
type rowSet []uint64

func newRowSet(n int) rowSet { return make(rowSet, (n+63)/64) }

func fullRowSet(n int) rowSet {
	s := newRowSet(n)
	for i := range s {
		s[i] = ^uint64(0)
	}
	if r := n % 64; r != 0 {
		s[len(s)-1] = (uint64(1) << r) - 1
	}
	return s
}

func (s rowSet) set(i int)      { s[i/64] |= 1 << (i % 64) }
func (s rowSet) has(i int) bool { return s[i/64]&(1<<(i%64)) != 0 }

func (s rowSet) or(o rowSet) {
	for i := range s {
		s[i] |= o[i]
	}
}

func (s rowSet) and(o rowSet) {
	for i := range s {
		s[i] &= o[i]
	}
}

func (s rowSet) empty() bool {
	for _, w := range s {
		if w != 0 {
			return false
		}
	}
	return true
}

// next returns the lowest set row >= from, or -1.
func (s rowSet) next(from int) int {
	for i := from / 64; i < len(s); i++ {
		w := s[i]
		if i == from/64 {
			w &= ^uint64(0) << (from % 64)
		}
		if w != 0 {
			return i*64 + bits.TrailingZeros64(w)
		}
	}
	return -1
}

func (s rowSet) clone() rowSet { return append(rowSet(nil), s...) }

// ---------------------------------------------------------------------------
// Match table
// ---------------------------------------------------------------------------

type switchInterval struct {
	iv      *Interval
	rows    rowSet
	natural bool
}

type switchColumn struct {
	alg       Algorithm
	exact     map[any]rowSet
	wildcard  rowSet
	natural   rowSet // rows whose cell needs natural equality
	intervals []switchInterval
}

// MatchTable is the realized form of a switch's case rows.
type MatchTable struct {
	rows  int
	cols  []*switchColumn
	cells [][]Handle // [row][column]
	worst Algorithm
}

// Algorithm returns the most expensive column strategy.
func (t *MatchTable) Algorithm() Algorithm { return t.worst }

// Rows returns the number of case rows.
func (t *MatchTable) Rows() int { return t.rows }

// buildSwitch realizes every case constant. When a constant is still
// pending it starts producing it and returns a nil table; the op repeats
// once the value is cached in the pool.
func buildSwitch(f *Frame, cases []int, ncols int) (*MatchTable, int) {
	rows := make([][]Handle, len(cases))
	for i, c := range cases {
		v := f.Pool.Get(ConstIndex(c))
		if d, ok := v.(Deferred); ok {
			return nil, d.Proceed(f, func(*Frame, Handle) int { return RRepeat })
		}
		if ncols == 1 {
			rows[i] = []Handle{v}
			continue
		}
		tup, ok := v.(*TupleHandle)
		if !ok || tup.Len() != ncols {
			internalf("case %d of a %d-column switch is %s", i, ncols, v)
		}
		rows[i] = tup.values
	}
	return newSwitchTable(rows, ncols), RNext
}

func newSwitchTable(cells [][]Handle, ncols int) *MatchTable {
	n := len(cells)
	t := &MatchTable{rows: n, cells: cells, cols: make([]*switchColumn, ncols)}
	for c := range t.cols {
		col := &switchColumn{exact: make(map[any]rowSet), wildcard: newRowSet(n), natural: newRowSet(n)}
		for r, row := range cells {
			switch v := row[c].(type) {
			case wildcardHandle:
				col.wildcard.set(r)
			case *Interval:
				if v.IsMutable() {
					internalf("switch interval %s has a mutable bound", v)
				}
				rs := newRowSet(n)
				rs.set(r)
				_, lowNative := v.Low.(NativeValue)
				_, highNative := v.High.(NativeValue)
				natural := !lowNative || !highNative
				col.intervals = append(col.intervals, switchInterval{iv: v, rows: rs, natural: natural})
				if natural {
					col.alg = maxAlg(col.alg, NaturalInterval)
				} else {
					col.alg = maxAlg(col.alg, NativeInterval)
				}
			case NativeValue:
				key := v.Key()
				rs, ok := col.exact[key]
				if !ok {
					rs = newRowSet(n)
					col.exact[key] = rs
				}
				rs.set(r)
			default:
				if v.IsMutable() {
					internalf("switch case %s is mutable", v)
				}
				col.natural.set(r)
				col.alg = maxAlg(col.alg, NaturalSimple)
			}
		}
		t.cols[c] = col
		t.worst = maxAlg(t.worst, col.alg)
	}
	return t
}

func maxAlg(a, b Algorithm) Algorithm {
	if a > b {
		return a
	}
	return b
}

// match finds the first row matching values and passes it to cont, or -1.
func (t *MatchTable) match(f *Frame, values []Handle, cont func(f *Frame, row int) int) int {
	cand := fullRowSet(t.rows)
	for c, col := range t.cols {
		hits := col.wildcard.clone()
		if nv, ok := values[c].(NativeValue); ok {
			if rs, ok := col.exact[nv.Key()]; ok {
				hits.or(rs)
			}
			for _, iv := range col.intervals {
				if !iv.natural && inInterval(nv, iv.iv) {
					hits.or(iv.rows)
				}
			}
		}
		// Natural cells stay candidates until verified below.
		hits.or(col.natural)
		for _, iv := range col.intervals {
			if iv.natural {
				hits.or(iv.rows)
			}
		}
		cand.and(hits)
		if cand.empty() {
			return cont(f, -1)
		}
	}
	if t.worst <= NativeInterval {
		return cont(f, cand.next(0))
	}
	return t.verify(f, values, cand, cand.next(0), cont)
}

// verify checks natural cells of candidate rows in row order.
func (t *MatchTable) verify(f *Frame, values []Handle, cand rowSet, row int, cont func(f *Frame, row int) int) int {
	if row < 0 {
		return cont(f, -1)
	}
	return t.verifyRow(f, values, row, 0, func(f *Frame, ok bool) int {
		if ok {
			return cont(f, row)
		}
		return t.verify(f, values, cand, cand.next(row+1), cont)
	})
}

func (t *MatchTable) verifyRow(f *Frame, values []Handle, row, col int, done func(f *Frame, ok bool) int) int {
	for ; col < len(t.cols); col++ {
		v := values[col]
		switch cell := t.cells[row][col].(type) {
		case *Interval:
			if _, native := cell.Low.(NativeValue); native {
				if _, native := cell.High.(NativeValue); native {
					continue
				}
			}
			next := col + 1
			return Compare(f, v, cell.Low, func(f *Frame, c int, ok bool) int {
				if !ok || c < 0 {
					return done(f, false)
				}
				return Compare(f, v, cell.High, func(f *Frame, c int, ok bool) int {
					if !ok || c > 0 {
						return done(f, false)
					}
					return t.verifyRow(f, values, row, next, done)
				})
			})
		default:
			if !t.cols[col].natural.has(row) {
				continue
			}
			next := col + 1
			return Equals(f, v, cell, func(f *Frame, eq bool) int {
				if !eq {
					return done(f, false)
				}
				return t.verifyRow(f, values, row, next, done)
			})
		}
	}
	return done(f, true)
}
