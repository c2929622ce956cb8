package command

import (
	"errors"
	"testing"
)

func TestEncodeRead(t *testing.T) {
	params := map[string]any{"host": "10.0.0.20", "port": 5000}

	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{
			name: "opcode only",
			spec: Spec{Name: "power", Opcode: "PWR", Read: true},
			want: "PWR",
		},
		{
			name: "read template with opcode substitution",
			spec: Spec{Name: "power", Opcode: "PWR", Read: true, ReadCmd: "$C?"},
			want: "PWR?",
		},
		{
			name: "parameter substitution",
			spec: Spec{Name: "status", Opcode: "http://$P:host::$P:port:/status", Read: true, ReadCmd: "$C"},
			want: "http://10.0.0.20:5000/status",
		},
		{
			name: "missing parameter becomes empty",
			spec: Spec{Name: "status", Opcode: "GET $P:path:", Read: true},
			want: "GET ",
		},
		{
			name: "value placeholder removed on read",
			spec: Spec{Name: "power", Opcode: "PWR", Read: true, ReadCmd: "$C $V"},
			want: "PWR ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeRead(tt.spec, params)
			if err != nil {
				t.Fatalf("EncodeRead() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeRead() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeWrite(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		value   any
		want    string
		wantErr error
	}{
		{
			name:  "bool true",
			spec:  Spec{Name: "power", Opcode: "PWR", Write: true, WriteCmd: "$C=$V", Type: ValueBool},
			value: true,
			want:  "PWR=1",
		},
		{
			name:  "bool from string",
			spec:  Spec{Name: "power", Opcode: "PWR", Write: true, WriteCmd: "$C=$V", Type: ValueBool},
			value: "off",
			want:  "PWR=0",
		},
		{
			name:  "int with inverse scale",
			spec:  Spec{Name: "level", Opcode: "LVL", Write: true, WriteCmd: "$C $V", Type: ValueInt, Mult: 1, Div: 10},
			value: 5,
			want:  "LVL 50",
		},
		{
			name:  "float",
			spec:  Spec{Name: "setpoint", Opcode: "SP", Write: true, WriteCmd: "$C=$V", Type: ValueFloat},
			value: 21.5,
			want:  "SP=21.5",
		},
		{
			name:  "string default type",
			spec:  Spec{Name: "msg", Opcode: "MSG", Write: true, WriteCmd: "$C:$V"},
			value: "hello",
			want:  "MSG:hello",
		},
		{
			name:  "json value",
			spec:  Spec{Name: "cfg", Opcode: "CFG", Write: true, WriteCmd: "$V", Type: ValueJSON},
			value: map[string]any{"on": true},
			want:  `{"on":true}`,
		},
		{
			name:    "non-numeric value for int command",
			spec:    Spec{Name: "level", Opcode: "LVL", Write: true, Type: ValueInt},
			value:   "not a number",
			wantErr: ErrEncoding,
		},
		{
			name:    "non-bool value for bool command",
			spec:    Spec{Name: "power", Opcode: "PWR", Write: true, Type: ValueBool},
			value:   "maybe",
			wantErr: ErrEncoding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeWrite(tt.spec, nil, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("EncodeWrite() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("EncodeWrite() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeWrite() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		data    string
		want    any
		wantErr error
	}{
		{
			name: "bool on",
			spec: Spec{Name: "power", Opcode: "PWR", Read: true, Type: ValueBool},
			data: "on",
			want: true,
		},
		{
			name: "bool zero with whitespace",
			spec: Spec{Name: "power", Opcode: "PWR", Read: true, Type: ValueBool},
			data: " 0\n",
			want: false,
		},
		{
			name: "int plain",
			spec: Spec{Name: "level", Opcode: "LVL", Read: true, Type: ValueInt},
			data: "42",
			want: int64(42),
		},
		{
			name: "int with scale",
			spec: Spec{Name: "level", Opcode: "LVL", Read: true, Type: ValueInt, Mult: 1, Div: 10},
			data: "50",
			want: int64(5),
		},
		{
			name: "float with scale",
			spec: Spec{Name: "temp", Opcode: "TMP", Read: true, Type: ValueFloat, Mult: 1, Div: 10},
			data: "215",
			want: 21.5,
		},
		{
			name: "string passthrough",
			spec: Spec{Name: "version", Opcode: "VER", Read: true},
			data: "v1.2.3",
			want: "v1.2.3",
		},
		{
			name: "json path extraction",
			spec: Spec{Name: "light", Opcode: "L", Read: true, Type: ValueJSON, ItemPath: []string{"state", "value"}},
			data: `{"state": {"value": true}}`,
			want: true,
		},
		{
			name:    "bool garbage",
			spec:    Spec{Name: "power", Opcode: "PWR", Read: true, Type: ValueBool},
			data:    "whatever",
			wantErr: ErrDecoding,
		},
		{
			name:    "int garbage",
			spec:    Spec{Name: "level", Opcode: "LVL", Read: true, Type: ValueInt},
			data:    "4x2",
			wantErr: ErrDecoding,
		},
		{
			name:    "json path missing",
			spec:    Spec{Name: "light", Opcode: "L", Read: true, Type: ValueJSON, ItemPath: []string{"missing"}},
			data:    `{"state": true}`,
			wantErr: ErrDecoding,
		},
		{
			name:    "json path through non-object",
			spec:    Spec{Name: "light", Opcode: "L", Read: true, Type: ValueJSON, ItemPath: []string{"state", "value"}},
			data:    `{"state": 5}`,
			wantErr: ErrDecoding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.spec, []byte(tt.data))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestEncodeDecodeScaleRoundTrip(t *testing.T) {
	spec := Spec{Name: "temp", Opcode: "TMP", Read: true, Write: true,
		WriteCmd: "$V", Type: ValueFloat, Mult: 1, Div: 10}

	// Item value 21.5 encodes as device value 215.
	encoded, err := EncodeWrite(spec, nil, 21.5)
	if err != nil {
		t.Fatalf("EncodeWrite() error: %v", err)
	}
	if string(encoded) != "215" {
		t.Fatalf("EncodeWrite() = %q, want %q", encoded, "215")
	}

	decoded, err := Decode(spec, encoded)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded != 21.5 {
		t.Errorf("round trip = %v, want 21.5", decoded)
	}
}
