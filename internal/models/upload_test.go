package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNextPartNumber(t *testing.T) {
	cases := []struct {
		name  string
		parts []UploadPart
		want  int
	}{
		{"no parts", nil, 1},
		{"sequential", []UploadPart{{PartNumber: 1}, {PartNumber: 2}}, 3},
		{"gap after failed attempt", []UploadPart{{PartNumber: 1}, {PartNumber: 3}}, 4},
		{"unordered", []UploadPart{{PartNumber: 5}, {PartNumber: 2}}, 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := UploadSession{Parts: tc.parts}
			if got := s.NextPartNumber(); got != tc.want {
				t.Errorf("NextPartNumber() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRemoteUploadIDNeverSerialized(t *testing.T) {
	s := UploadSession{
		ID:             "abc",
		OwnerID:        "u1",
		RemoteUploadID: "secret-remote-id",
		Status:         StatusInProgress,
	}
	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if strings.Contains(string(out), "secret-remote-id") {
		t.Errorf("remote upload id present in JSON: %s", out)
	}
}

func TestValidStatuses(t *testing.T) {
	for _, status := range []string{StatusInProgress, StatusCompleted, StatusAborted} {
		if !ValidStatuses[status] {
			t.Errorf("ValidStatuses[%q] = false, want true", status)
		}
	}
	if ValidStatuses["paused"] {
		t.Error(`ValidStatuses["paused"] = true, want false`)
	}
}
