package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlexString_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    FlexString
		wantErr bool
	}{
		{"string", `"14528827334033117random"`, "14528827334033117random", false},
		{"integer", `14528827334033117`, "14528827334033117", false},
		{"large integer keeps digits", `9007199254740993`, "9007199254740993", false},
		{"null", `null`, "", false},
		{"empty string", `""`, "", false},
		{"object rejected", `{"a":1}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexString
			err := json.Unmarshal([]byte(tt.input), &f)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && f != tt.want {
				t.Errorf("got %q, want %q", f, tt.want)
			}
		})
	}
}

func TestVideoRecord_Unmarshal(t *testing.T) {
	raw := `{
		"id": 1234567890,
		"createtime": 1700000000,
		"object_desc": {
			"description": "a clip",
			"media": [{"url": "https://cdn.example/v", "url_token": "?t=1", "decode_key": 987654}]
		}
	}`
	var rec VideoRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if rec.ID != "1234567890" {
		t.Errorf("ID = %q, want 1234567890", rec.ID)
	}
	if rec.ObjectDesc.Media[0].DecodeKey != "987654" {
		t.Errorf("DecodeKey = %q, want 987654", rec.ObjectDesc.Media[0].DecodeKey)
	}
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	if !rec.CreatedAt().Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt(), want)
	}
}

func TestVideoRecord_CreatedAtZero(t *testing.T) {
	var rec VideoRecord
	if !rec.CreatedAt().IsZero() {
		t.Errorf("CreatedAt for missing timestamp = %v, want zero", rec.CreatedAt())
	}
}
