package rediscache

import "testing"

func TestEndpointsKeyIsOrderInsensitive(t *testing.T) {
	a := EndpointsKey("org-1", []string{"c2", "c1", "c2"})
	b := EndpointsKey("org-1", []string{"c1", "c2"})
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if want := "dispatch:endpoints:org-1:c1,c2"; a != want {
		t.Fatalf("key = %q, want %q", a, want)
	}
}

func TestKeysAreTenantScoped(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"endpoints", EndpointsKey("org-1", []string{"c"}), EndpointsKey("org-2", []string{"c"})},
		{"target", TargetKey("org-1", "t"), TargetKey("org-2", "t")},
		{"category", CategoryKey("org-1", "c"), CategoryKey("org-2", "c")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.a == tt.b {
				t.Fatalf("keys for different organizations collide: %q", tt.a)
			}
		})
	}
}
