package vm

import (
	"testing"

	"github.com/chazu/xvm/module"
)

func tupleConst(elems ...int) module.Constant {
	return module.Constant{Kind: module.ConstTuple, Elems: elems}
}

func TestJumpValNFirstMatchingRow(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := poolMethod(rt, 2,
		intConst(1),                                 // #0
		intConst(2),                                 // #1
		module.Constant{Kind: module.ConstWildcard}, // #2
		intConst(5),                                 // #3
		tupleConst(0, 1),                            // #4 (1, 2)
		tupleConst(2, 3),                            // #5 (_, 5)
	)
	op := &JumpValN{Args: []int{0, 1}, Cases: []int{k(4), k(5)}, Offsets: []int{10, 20}, Default: 30}

	tests := []struct {
		a, b Handle
		want int
	}{
		{Int(1), Int(5), 20},
		{Int(1), Int(2), 10},
		{Int(9), Int(5), 20},
		{Int(7), Int(7), 30},
	}
	for _, tc := range tests {
		f := testFrame(rt, m)
		f.Registers[0], f.Registers[1] = tc.a, tc.b
		if got := op.Process(f, 100); got != 100+tc.want {
			t.Errorf("(%v, %v) jumped to %d, want %d", tc.a, tc.b, got, 100+tc.want)
		}
	}
	if alg := op.Table().Algorithm(); alg != NativeSimple {
		t.Errorf("algorithm = %s, want NativeSimple", alg)
	}
}

func TestJumpValIntervals(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := poolMethod(rt, 1,
		intConst(0),                                               // #0
		intConst(9),                                               // #1
		intConst(10),                                              // #2
		intConst(99),                                              // #3
		module.Constant{Kind: module.ConstRange, Low: 0, High: 1}, // #4 0..9
		module.Constant{Kind: module.ConstRange, Low: 2, High: 3}, // #5 10..99
		intConst(42),                                              // #6
	)
	op := &JumpVal{A: 0, Cases: []int{k(6), k(4), k(5)}, Offsets: []int{1, 2, 3}, Default: 4}
	tests := map[Int]int{42: 1, 0: 2, 9: 2, 10: 3, 55: 3, 100: 4, -1: 4}
	for v, want := range tests {
		f := testFrame(rt, m)
		f.Registers[0] = v
		if got := op.Process(f, 0); got != want {
			t.Errorf("%d jumped to %d, want %d", v, got, want)
		}
	}
	if alg := op.Table().Algorithm(); alg != NativeInterval {
		t.Errorf("algorithm = %s, want NativeInterval", alg)
	}
}

func TestJumpValNaturalEquality(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m := poolMethod(rt, 1,
		intConst(1),      // #0
		intConst(2),      // #1
		tupleConst(0, 1), // #2 (1, 2)
		tupleConst(1, 0), // #3 (2, 1)
	)
	op := &JumpVal{A: 0, Cases: []int{k(3), k(2)}, Offsets: []int{5, 6}, Default: 7}
	f := testFrame(rt, m)
	f.Registers[0] = NewTuple(Int(1), Int(2))
	if got := op.Process(f, 0); got != 6 {
		t.Errorf("jumped to %d, want 6", got)
	}
	f = testFrame(rt, m)
	f.Registers[0] = NewTuple(Int(3))
	if got := op.Process(f, 0); got != 7 {
		t.Errorf("jumped to %d, want default 7", got)
	}
	if alg := op.Table().Algorithm(); alg != NaturalSimple {
		t.Errorf("algorithm = %s, want NaturalSimple", alg)
	}
}

func TestJumpValManyRows(t *testing.T) {
	rt, _ := newTestRuntime(t)
	var consts []module.Constant
	var cases, offsets []int
	for i := 0; i < 150; i++ {
		consts = append(consts, intConst(int64(i)))
		cases = append(cases, k(i))
		offsets = append(offsets, i+1)
	}
	// A duplicate of row 77 later in the table never wins.
	cases = append(cases, k(77))
	offsets = append(offsets, 999)

	op := &JumpVal{A: 0, Cases: cases, Offsets: offsets, Default: -1}
	m := poolMethod(rt, 1, consts...)
	for _, v := range []int{0, 63, 64, 77, 128, 149} {
		f := testFrame(rt, m)
		f.Registers[0] = Int(v)
		if got := op.Process(f, 1000); got != 1000+v+1 {
			t.Errorf("%d jumped to %d, want %d", v, got, 1000+v+1)
		}
	}
	if op.Table().Rows() != 151 {
		t.Errorf("rows = %d", op.Table().Rows())
	}
}

func TestSwitchRejectsMutableCases(t *testing.T) {
	wantInternal(t, func() {
		newSwitchTable([][]Handle{{&Interval{Low: Int(0), High: ArrayOf()}}}, 1)
	})
	wantInternal(t, func() {
		newSwitchTable([][]Handle{{ArrayOf(Int(1))}}, 1)
	})
}

func TestRowSet(t *testing.T) {
	s := newRowSet(130)
	s.set(3)
	s.set(64)
	s.set(129)
	if s.next(0) != 3 || s.next(4) != 64 || s.next(65) != 129 || s.next(130) != -1 {
		t.Error("next should walk set rows across words")
	}
	full := fullRowSet(130)
	full.and(s)
	if !full.has(64) || full.has(65) {
		t.Error("and should keep only common rows")
	}
	if !newRowSet(10).empty() {
		t.Error("new sets are empty")
	}
}
