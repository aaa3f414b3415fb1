package alerts

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEndpointTimeoutIsSeconds(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{`{"id": "ep-1", "timeout": 30}`, 30 * time.Second},
		{`{"id": "ep-1", "timeout": 0}`, 0},
		{`{"id": "ep-1"}`, 0},
		{`{"id": "ep-1", "timeout": -5}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var ep Endpoint
			if err := json.Unmarshal([]byte(tt.raw), &ep); err != nil {
				t.Fatal(err)
			}
			if got := ep.Timeout(); got != tt.want {
				t.Fatalf("Timeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEndpointSubscribes(t *testing.T) {
	ep := Endpoint{CategoryIDs: []string{"c-1", "c-2"}}
	if !ep.Subscribes([]string{"c-9", "c-2"}) {
		t.Fatal("expected subscription to c-2")
	}
	if ep.Subscribes([]string{"c-9"}) || ep.Subscribes(nil) {
		t.Fatal("unexpected subscription")
	}
}
