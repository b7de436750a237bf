package model

import (
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestEnvValueUnmarshalJSON(t *testing.T) {
	cases := []struct {
		in   string
		want EnvValue
	}{
		{`"plain"`, EnvValue{Value: "plain"}},
		{`{"value":"x","description":"why"}`, EnvValue{Value: "x", Description: "why"}},
		{`{"value":"x"}`, EnvValue{Value: "x"}},
	}
	for _, c := range cases {
		var got EnvValue
		if err := json.Unmarshal([]byte(c.in), &got); err != nil {
			t.Errorf("Unmarshal(%s): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Unmarshal(%s) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestEnvValueMarshalJSON_AlwaysStructured(t *testing.T) {
	data, err := json.Marshal(EnvValue{Value: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"value"`) {
		t.Errorf("MarshalJSON = %s, want the structured shape", data)
	}
}

func TestEnvValueYAML(t *testing.T) {
	doc := "A: scalar\nB:\n  value: structured\n  description: with meta\n"
	var got map[string]EnvValue
	if err := yaml.Unmarshal([]byte(doc), &got); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if got["A"].Value != "scalar" || got["A"].Description != "" {
		t.Errorf("scalar shape = %+v", got["A"])
	}
	if got["B"].Value != "structured" || got["B"].Description != "with meta" {
		t.Errorf("structured shape = %+v", got["B"])
	}
}

func TestEnvValueMarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(map[string]EnvValue{
		"PLAIN": {Value: "v"},
		"META":  {Value: "v", Description: "d"},
	})
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if !strings.Contains(s, "PLAIN: v") {
		t.Errorf("description-less entry should render as a bare scalar:\n%s", s)
	}
	if !strings.Contains(s, "description: d") {
		t.Errorf("described entry should render structured:\n%s", s)
	}
}

func TestEnvValueJSONRoundTrip(t *testing.T) {
	in := map[string]EnvValue{"K": {Value: "v", Description: "d"}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]EnvValue
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["K"] != in["K"] {
		t.Errorf("round trip = %+v, want %+v", out["K"], in["K"])
	}
}
