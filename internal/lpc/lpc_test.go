package lpc

import (
	"reflect"
	"testing"
)

func TestEncodeScalars(t *testing.T) {
	cases := []struct {
		in   Value
		want string
	}{
		{nil, "0"},
		{false, "0"},
		{true, "1"},
		{int64(42), "42"},
		{int64(-7), "-7"},
		{"hi", `"hi"`},
		{`say "hi"`, `"say \"hi\""`},
		{`back\slash`, `"back\\slash"`},
	}
	for _, c := range cases {
		got, err := Encode(c.in)
		if err != nil {
			t.Fatalf("Encode(%v) error: %v", c.in, err)
		}
		if string(got) != c.want {
			t.Errorf("Encode(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEncodeArray(t *testing.T) {
	v := []Value{"tell", int64(5), "MudA", "u1", "MudB", "u2", "u1", "Hi!"}
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	want := `({"tell",5,"MudA","u1","MudB","u2","u1","Hi!",})`
	if string(got) != want {
		t.Errorf("Encode array = %q, want %q", got, want)
	}
}

func TestEncodeMapping(t *testing.T) {
	m := NewMap()
	m.Set("tell", int64(1))
	m.Set("channels", int64(2))
	got, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	want := `(["tell":1,"channels":2,])`
	if string(got) != want {
		t.Errorf("Encode mapping = %q, want %q", got, want)
	}
}

func TestDecodeArrayRoundTrip(t *testing.T) {
	v := []Value{"tell", int64(5), "MudA", "u1", "MudB", "u2", "u1", "Hi!"}
	encoded, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := decoded.([]Value)
	if !ok {
		t.Fatalf("decoded value is %T, want []Value", decoded)
	}
	if len(arr) != len(v) {
		t.Fatalf("decoded length %d, want %d", len(arr), len(v))
	}
	for i := range v {
		if !reflect.DeepEqual(arr[i], v[i]) {
			t.Errorf("element %d = %v (%T), want %v (%T)", i, arr[i], arr[i], v[i], v[i])
		}
	}
}

func TestDecodeMapping(t *testing.T) {
	decoded, err := Decode([]byte(`(["name":"MudA","port":4000,])`))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := decoded.(*Map)
	if !ok {
		t.Fatalf("decoded value is %T, want *Map", decoded)
	}
	name, _ := m.GetString("name")
	if name != "MudA" {
		t.Errorf("name = %q, want MudA", name)
	}
	port, ok := m.Get("port")
	if !ok || port.(int64) != 4000 {
		t.Errorf("port = %v, want 4000", port)
	}
}

func TestDecodeStringEscapes(t *testing.T) {
	decoded, err := Decode([]byte(`"line1\nline2\ttab\\slash\"quote"`))
	if err != nil {
		t.Fatal(err)
	}
	want := "line1\nline2\ttab\\slash\"quote"
	if decoded.(string) != want {
		t.Errorf("decoded = %q, want %q", decoded, want)
	}
}

func TestDecodeStripsTrailingNUL(t *testing.T) {
	decoded, err := Decode([]byte("\"hi\"\x00"))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.(string) != "hi" {
		t.Errorf("decoded = %q, want hi", decoded)
	}
}

func TestDecodeToleratesTrailingData(t *testing.T) {
	decoded, err := Decode([]byte(`"hi"garbage`))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.(string) != "hi" {
		t.Errorf("decoded = %q, want hi", decoded)
	}
}

func TestDecodeFloat(t *testing.T) {
	decoded, err := Decode([]byte("1.5"))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.(float64) != 1.5 {
		t.Errorf("decoded = %v, want 1.5", decoded)
	}
}

func TestDecodeErrorReportsPosition(t *testing.T) {
	_, err := Decode([]byte(`({"a", $bad,})`))
	if err == nil {
		t.Fatal("expected error")
	}
	lpcErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error is %T, want *Error", err)
	}
	if lpcErr.Pos < 0 {
		t.Errorf("expected a reported position, got %d", lpcErr.Pos)
	}
}

func TestDecodeNestedArrayOfMappings(t *testing.T) {
	src := `({(["a":1,]),(["b":2,]),})`
	decoded, err := Decode([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	arr := decoded.([]Value)
	if len(arr) != 2 {
		t.Fatalf("len = %d, want 2", len(arr))
	}
	m0 := arr[0].(*Map)
	v, _ := m0.Get("a")
	if v.(int64) != 1 {
		t.Errorf("arr[0][a] = %v, want 1", v)
	}
}
