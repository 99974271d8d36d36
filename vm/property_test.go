package vm

import (
	"testing"

	"github.com/chazu/xvm/module"
)

// boxClass declares a class whose "doubled" property runs a getter.
func boxClass(name string, kind module.ClassKind) module.Class {
	return module.Class{
		Name:       name,
		Kind:       kind,
		Fields:     []string{"v"},
		Properties: []module.Property{{Name: "doubled", Getter: "doubled"}},
		Methods: []module.Method{
			method("construct", 1, 0, 1,
				&PSet{Target: AThis, Prop: k(3), Value: 0},
				&Return{Code: OpReturn0},
			),
			method("doubled", 0, 1, 1,
				&PGet{Target: AThis, Prop: k(3), Ret: 0},
				&BinOp{Code: OpAdd, A: 0, B: 0, Ret: 0},
				&Return{Code: OpReturn1, Args: []int{0}},
			),
		},
	}
}

func TestDeferredPropertyLocalAndRemote(t *testing.T) {
	rt, _ := newTestRuntime(t)
	consts := []module.Constant{
		classConst("Box"),        // #0
		classConst("BoxService"), // #1
		propConst("doubled"),     // #2
		propConst("v"),           // #3
		intConst(21),             // #4
	}
	m := mainModule(consts, static("main", 0, 3, 5,
		&New{Type: k(0), Args: []int{k(4)}, Ret: 0},
		&New{Type: k(1), Args: []int{k(4)}, Ret: 1},
		&PGet{Target: 0, Prop: k(2), Ret: 2},
		&PGet{Target: 1, Prop: k(2), Ret: 3},
		&BinOp{Code: OpIsEq, A: 2, B: 3, Ret: 4},
		&Return{Code: OpReturnN, Args: []int{2, 3, 4}},
	))
	m.Classes = append(m.Classes, boxClass("Box", module.KindObject), boxClass("BoxService", module.KindService))
	wantValues(t, runEntry(t, rt, m, "Main.main"), Int(42), Int(42), Bool(true))
}

func TestDeferredPropertyAsArgument(t *testing.T) {
	rt, _ := newTestRuntime(t)
	consts := []module.Constant{
		classConst("Box"),        // #0
		classConst("BoxService"), // #1
		propConst("doubled"),     // #2
		propConst("v"),           // #3
		intConst(21),             // #4
	}
	// The property reference in r1 resolves while the Add reads its operands.
	m := mainModule(consts, static("main", 0, 2, 4,
		&New{Type: k(0), Args: []int{k(4)}, Ret: 0},
		&VarProp{Reg: 1, Target: 0, Prop: k(2)},
		&New{Type: k(1), Args: []int{k(4)}, Ret: 2},
		&VarProp{Reg: 3, Target: 2, Prop: k(2)},
		&BinOp{Code: OpAdd, A: 1, B: k(4), Ret: 0},
		&BinOp{Code: OpAdd, A: 3, B: k(4), Ret: 2},
		&Return{Code: OpReturnN, Args: []int{0, 2}},
	))
	m.Classes = append(m.Classes, boxClass("Box", module.KindObject), boxClass("BoxService", module.KindService))
	wantValues(t, runEntry(t, rt, m, "Main.main"), Int(63), Int(63))
}

func TestUnassignedProperty(t *testing.T) {
	rt, _ := newTestRuntime(t)
	consts := []module.Constant{
		classConst("Holder"), // #0
		propConst("value"),   // #1
	}
	m := mainModule(consts, static("main", 0, 1, 2,
		&New{Type: k(0), Ret: 0},
		&PGet{Target: 0, Prop: k(1), Ret: 1},
		&Return{Code: OpReturn1, Args: []int{1}},
	))
	m.Classes = append(m.Classes, module.Class{Name: "Holder", Kind: module.KindObject, Fields: []string{"value"}})
	ex := wantException(t, runEntry(t, rt, m, "Main.main"), ExUnassignedReference)
	if ex.Message != "Unassigned property value" {
		t.Errorf("message = %q", ex.Message)
	}
}
