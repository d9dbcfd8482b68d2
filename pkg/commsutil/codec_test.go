package commsutil

import (
	"testing"
)

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		want    string
		wantErr bool
	}{
		{
			name:  "simple map",
			input: map[string]string{"key": "value"},
			want:  `{"key":"value"}`,
		},
		{
			name:  "struct",
			input: struct{ Name string }{Name: "test"},
			want:  `{"Name":"test"}`,
		},
		{
			name:  "int",
			input: 42,
			want:  "42",
		},
		{
			name:  "string",
			input: "hello",
			want:  `"hello"`,
		},
		{
			name:  "nil",
			input: nil,
			want:  "null",
		},
		{
			name:  "nested struct",
			input: map[string]interface{}{"outer": map[string]int{"inner": 1}},
			want:  `{"outer":{"inner":1}}`,
		},
		{
			name:  "slice",
			input: []int{1, 2, 3},
			want:  "[1,2,3]",
		},
		{
			name:    "channel is not serializable",
			input:   make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodePayload(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatal("commsutil:codec_test - expected error but got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
			}

			got := string(data)
			if got != tt.want {
				t.Errorf("commsutil:codec_test - EncodePayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		target  interface{}
		check   func(t *testing.T, target interface{})
		wantErr bool
	}{
		{
			name:   "decode map",
			data:   `{"key":"value"}`,
			target: &map[string]string{},
			check: func(t *testing.T, target interface{}) {
				m := target.(*map[string]string)
				if (*m)["key"] != "value" {
					t.Errorf("commsutil:codec_test - expected key=value, got %s", (*m)["key"])
				}
			},
		},
		{
			name: "decode struct",
			data: `{"Name":"test","Age":30}`,
			target: &struct {
				Name string
				Age  int
			}{},
			check: func(t *testing.T, target interface{}) {
				s := target.(*struct {
					Name string
					Age  int
				})
				if s.Name != "test" {
					t.Errorf("commsutil:codec_test - expected Name=test, got %s", s.Name)
				}
				if s.Age != 30 {
					t.Errorf("commsutil:codec_test - expected Age=30, got %d", s.Age)
				}
			},
		},
		{
			name:    "invalid json",
			data:    `{invalid}`,
			target:  &map[string]string{},
			wantErr: true,
		},
		{
			name:    "empty data",
			data:    "",
			target:  &map[string]string{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DecodePayload([]byte(tt.data), tt.target)

			if tt.wantErr {
				if err == nil {
					t.Fatal("commsutil:codec_test - expected error but got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
			}

			if tt.check != nil {
				tt.check(t, tt.target)
			}
		})
	}
}

func TestDecodeStrict(t *testing.T) {
	type queryParams struct {
		Address string `json:"address"`
	}

	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{"known fields", `{"address":"agent1q"}`, "agent1q", false},
		{"unknown field", `{"address":"agent1q","extra":1}`, "", true},
		{"trailing value", `{"address":"agent1q"} {"address":"x"}`, "", true},
		{"empty", ``, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p queryParams
			err := DecodeStrict([]byte(tt.data), &p)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("commsutil:codec_test - expected error for %q", tt.data)
				}
				return
			}
			if err != nil {
				t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
			}
			if p.Address != tt.want {
				t.Errorf("commsutil:codec_test - Address = %q, want %q", p.Address, tt.want)
			}
		})
	}
}
