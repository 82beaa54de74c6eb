package value

import (
	"bytes"
	"encoding/gob"
)

// wireValue mirrors Value with exported fields so gob (which cannot see
// unexported struct fields) can encode it, used for WAL payloads and
// checkpoint snapshots.
type wireValue struct {
	Kind  Kind
	B     bool
	I     int64
	F     float64
	S     string
	Bytes []byte
	Arr   []wireValue
	Obj   map[string]wireValue
}

func (v Value) toWire() wireValue {
	w := wireValue{Kind: v.kind, B: v.b, I: v.i, F: v.f, S: v.s, Bytes: v.bytes}
	if v.arr != nil {
		w.Arr = make([]wireValue, len(v.arr))
		for i, item := range v.arr {
			w.Arr[i] = item.toWire()
		}
	}
	if v.obj != nil {
		w.Obj = make(map[string]wireValue, len(v.obj))
		for k, fv := range v.obj {
			w.Obj[k] = fv.toWire()
		}
	}
	return w
}

func fromWire(w wireValue) Value {
	v := Value{kind: w.Kind, b: w.B, i: w.I, f: w.F, s: w.S, bytes: w.Bytes}
	if w.Arr != nil {
		v.arr = make([]Value, len(w.Arr))
		for i, item := range w.Arr {
			v.arr[i] = fromWire(item)
		}
	}
	if w.Obj != nil {
		v.obj = make(map[string]Value, len(w.Obj))
		for k, fv := range w.Obj {
			v.obj[k] = fromWire(fv)
		}
	}
	return v
}

// GobEncode implements gob.GobEncoder so Value round-trips through the WAL
// and checkpoint encoders despite carrying only unexported fields.
func (v Value) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v.toWire()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (v *Value) GobDecode(data []byte) error {
	var w wireValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	*v = fromWire(w)
	return nil
}
