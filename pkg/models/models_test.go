package models_test

import (
	"testing"

	"github.com/conductor-ai/conductor/pkg/models"
)

func TestSnapshotValidate(t *testing.T) {
	cases := []struct {
		name    string
		caps    []models.Capability
		wantErr bool
	}{
		{"empty", nil, false},
		{"valid", []models.Capability{
			{Name: "a", Endpoint: "http://caps/a"},
			{Name: "b", Endpoint: "http://caps/b"},
		}, false},
		{"duplicate name", []models.Capability{
			{Name: "a", Endpoint: "http://caps/a"},
			{Name: "a", Endpoint: "http://caps/other"},
		}, true},
		{"missing name", []models.Capability{{Endpoint: "http://caps/x"}}, true},
		{"missing endpoint", []models.Capability{{Name: "a"}}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := models.Snapshot{Capabilities: c.caps}.Validate()
			if (err != nil) != c.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestStepKey(t *testing.T) {
	if got := models.StepKey(3); got != "step_3" {
		t.Errorf("StepKey(3) = %q, want step_3", got)
	}
}

func TestExecutionContextClone(t *testing.T) {
	orig := models.ExecutionContext{"step_1": "one"}
	clone := orig.Clone()

	clone["step_2"] = "two"
	if _, leaked := orig["step_2"]; leaked {
		t.Error("mutating the clone leaked into the original context")
	}
	if clone["step_1"] != "one" {
		t.Errorf("clone lost existing entry: %v", clone)
	}
}
