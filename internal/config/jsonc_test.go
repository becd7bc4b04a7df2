package config

import (
	"encoding/json"
	"testing"
)

func TestStripJSONComments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"line comment", "{\"a\": 1 // one\n}", "{\"a\": 1 \n}"},
		{"block comment", `{"a": /* one */ 1}`, `{"a":  1}`},
		{"multiline block keeps lines", "{/* a\nb */\"a\": 1}", "{\n\"a\": 1}"},
		{"slashes in string", `{"url": "http://plotter.local"}`, `{"url": "http://plotter.local"}`},
		{"comment markers in string", `{"s": "/* not */"}`, `{"s": "/* not */"}`},
		{"escaped quote", `{"s": "say \"hi\" // x"}`, `{"s": "say \"hi\" // x"}`},
		{"escaped backslash before quote", `{"dir": "C:\\", "b": 2} // c`, `{"dir": "C:\\", "b": 2} `},
		{"trailing comma in object", "{\"a\": 1,\n}", "{\"a\": 1\n}"},
		{"trailing comma in array", `[1, 2, ]`, `[1, 2 ]`},
		{"trailing comma before comment", "{\"a\": 1, // last\n}", "{\"a\": 1 \n}"},
		{"comma in string kept", `{"s": ",}"}`, `{"s": ",}"}`},
		{"unterminated block", `{"a": 1} /* open`, `{"a": 1} `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(StripJSONComments([]byte(tt.in))); got != tt.want {
				t.Errorf("StripJSONComments(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripJSONComments_DefaultFileIsJSON(t *testing.T) {
	var v map[string]any
	if err := json.Unmarshal(StripJSONComments([]byte(defaultFile)), &v); err != nil {
		t.Fatalf("default plotd.jsonc does not parse: %v", err)
	}
	if _, ok := v["machine"]; !ok {
		t.Error("default file has no machine section")
	}
}
