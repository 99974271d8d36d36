package vm

import (
	"errors"
	"reflect"
	"testing"
)

func TestOperands(t *testing.T) {
	if !IsConstant(k(0)) || ConstIndex(k(0)) != 0 || ConstIndex(k(41)) != 41 {
		t.Error("constant operands should round-trip")
	}
	for _, arg := range []int{0, 5, AStack, AIgnore, AThis, ASuper, ADefault} {
		if IsConstant(arg) {
			t.Errorf("%s should not be a constant", OperandString(arg))
		}
	}
	if OperandString(k(3)) != "#3" || OperandString(2) != "r2" || OperandString(AThis) != "@this" {
		t.Error("unexpected operand rendering")
	}
}

func TestPackedOpsRoundTrip(t *testing.T) {
	ops := []Op{
		&Nop{},
		&Move{From: k(0), To: 1},
		&Var{Reg: 2, Value: ADefault},
		&VarAtomic{Reg: 3, Value: k(1)},
		&VarFuture{Reg: 4},
		&VarProp{Reg: 5, Target: AThis, Prop: k(2)},
		&BinOp{Code: OpAdd, A: 0, B: k(1), Ret: AStack},
		&BinOp{Code: OpIsGe, A: AStack, B: 1, Ret: 2},
		&Neg{A: 1, Ret: 1},
		&IsType{A: 0, Type: k(3), Ret: 1},
		&Jump{Off: -3},
		&JumpCond{Code: OpJumpFalse, A: 1, Off: 7},
		&JumpVal{A: 0, Cases: []int{k(4), k(5)}, Offsets: []int{2, 4}, Default: 6},
		&JumpValN{Args: []int{0, 1}, Cases: []int{k(6)}, Offsets: []int{3}, Default: -2},
		&Call{Code: OpCallN, Fn: k(7), Args: []int{0, 1}, Rets: []int{2, 3}},
		&Call{Code: OpCall, Fn: ASuper, Args: nil, Rets: nil},
		&Invoke{Code: OpInvokeT, Target: AThis, Sig: k(8), Args: []int{1}, Rets: []int{4}},
		&New{Type: k(3), TypeArgs: []int{k(9)}, Args: []int{0}, Ret: 1},
		&PGet{Target: 0, Prop: k(2), Ret: 1},
		&PSet{Target: AThis, Prop: k(2), Value: k(1)},
		&GuardStart{End: 4, Types: []int{k(10), ADefault}, Regs: []int{5, 6}, Handlers: []int{5, 7}},
		&GuardEnd{Off: 3},
		&Throw{A: 5},
		&Assert{A: 1, Msg: k(11)},
		&Freeze{A: 1},
		&FBind{Fn: 0, Positions: []int{1}, Args: []int{k(1)}, Ret: 2},
		&MakeTuple{Args: []int{0, 1}, Ret: 3},
		&Return{Code: OpReturn0},
		&Return{Code: OpReturnN, Args: []int{0, k(1)}},
	}
	got, err := DecodeOps(EncodeOps(ops))
	if err != nil {
		t.Fatalf("DecodeOps: %v", err)
	}
	if len(got) != len(ops) {
		t.Fatalf("decoded %d ops, want %d", len(got), len(ops))
	}
	for i := range ops {
		if got[i].String() != ops[i].String() {
			t.Errorf("op %d: got %s, want %s", i, got[i], ops[i])
		}
		if reflect.TypeOf(got[i]) != reflect.TypeOf(ops[i]) || got[i].Opcode() != ops[i].Opcode() {
			t.Errorf("op %d decoded as %T/%s", i, got[i], got[i].Opcode())
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := DecodeOps([]byte{0xEE}); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("unknown opcode: err = %v", err)
	}
	code := EncodeOps([]Op{&Move{From: 1000, To: 2}})
	if _, err := DecodeOps(code[:len(code)-2]); err == nil {
		t.Error("truncated stream should fail to decode")
	}
	ops, err := DecodeOps(nil)
	if err != nil || len(ops) != 0 {
		t.Errorf("empty code = %v, %v", ops, err)
	}
}

func TestOpcodeNames(t *testing.T) {
	for code, name := range opcodeNames {
		if code == opAwait {
			continue
		}
		got, ok := OpcodeByName(name)
		if !ok || got != code {
			t.Errorf("OpcodeByName(%q) = %s, %t", name, got, ok)
		}
		if _, ok := decoders[code]; !ok {
			t.Errorf("no decoder for %s", name)
		}
	}
	if _, ok := OpcodeByName("Await"); ok {
		t.Error("Await must not be addressable by name")
	}
}
