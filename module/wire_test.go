package module

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func sampleModule() *Module {
	var code PackedWriter
	code.WriteByte(1)
	code.WriteInt(-17)
	return &Module{
		Name: "demo",
		Constants: []Constant{
			{Kind: ConstInt, Int: 42},
			{Kind: ConstString, Str: "hello"},
			{Kind: ConstTuple, Elems: []int{0, 1}},
			{Kind: ConstRange, Low: 0, High: 0},
			{Kind: ConstLongLong, Str: "123456789012345678901234567890"},
		},
		Classes: []Class{{
			Name:       "Point",
			Kind:       KindConst,
			Fields:     []string{"x", "y"},
			Properties: []Property{{Name: "x"}, {Name: "len", Getter: "getLen"}},
			Methods: []Method{
				{Name: "run", Static: true, Returns: 1, MaxVars: 2, Code: code.Bytes()},
				{Name: "hash", Native: true, Returns: 1},
			},
		}},
	}
}

func TestModule_CBORRoundTrip(t *testing.T) {
	m := sampleModule()
	data, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Name != "demo" {
		t.Errorf("Name = %q", got.Name)
	}
	if len(got.Constants) != 5 || got.Constants[4].Str != m.Constants[4].Str {
		t.Errorf("Constants = %+v", got.Constants)
	}
	if got.Constants[2].Elems[1] != 1 {
		t.Error("tuple elements mismatch")
	}
	cls := got.Class("Point")
	if cls == nil {
		t.Fatal("Point missing")
	}
	if cls.Kind != KindConst || len(cls.Fields) != 2 {
		t.Errorf("class = %+v", cls)
	}
	if !bytes.Equal(cls.Methods[0].Code, m.Classes[0].Methods[0].Code) {
		t.Error("code mismatch")
	}
	if !cls.Methods[1].Native {
		t.Error("native flag lost")
	}
	if cls.Properties[1].Getter != "getLen" {
		t.Error("property getter lost")
	}
}

func TestModule_CanonicalEncoding(t *testing.T) {
	a, err := Marshal(sampleModule())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(sampleModule())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding should be deterministic")
	}
}

func TestModule_VersionMismatch(t *testing.T) {
	data, err := cborEncMode.Marshal(&envelope{Magic: magic, Version: FormatVersion + 1, Module: sampleModule()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, ErrVersion) {
		t.Errorf("err = %v, want ErrVersion", err)
	}
}

func TestModule_BadMagic(t *testing.T) {
	data, _ := cbor.Marshal(map[string]any{"magic": "nope", "version": 1})
	if _, err := Unmarshal(data); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestModule_FileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.xvmod")
	if err := WriteFile(path, sampleModule()); err != nil {
		t.Fatal(err)
	}
	m, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Class("Point") == nil {
		t.Error("class lost in file round trip")
	}
}

func TestModule_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Module)
	}{
		{"missing name", func(m *Module) { m.Name = "" }},
		{"duplicate class", func(m *Module) { m.Classes = append(m.Classes, m.Classes[0]) }},
		{"bad kind", func(m *Module) { m.Classes[0].Kind = "widget" }},
		{"duplicate method", func(m *Module) {
			m.Classes[0].Methods = append(m.Classes[0].Methods, m.Classes[0].Methods[0])
		}},
		{"native with code", func(m *Module) { m.Classes[0].Methods[1].Code = []byte{1} }},
		{"too few vars", func(m *Module) { m.Classes[0].Methods[0].Params = 3 }},
		{"dangling element", func(m *Module) { m.Constants[2].Elems = []int{9} }},
		{"dangling range", func(m *Module) { m.Constants[3].High = 99 }},
	}
	if err := sampleModule().Validate(); err != nil {
		t.Fatalf("sample should validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sampleModule()
			tt.mutate(m)
			if err := m.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
