package gateway

import "testing"

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"m.example.net", "m.example.net", false},
		{"https://m.example.net/api/", "m.example.net", false},
		{"  M.Example.NET. ", "m.example.net", false},
		{"http://a?x=1", "a", false},
		{"", "", true},
		{"m.example.net:8090", "", true},
		{"-bad.example.net", "", true},
		{"under_score.net", "", true},
		{"https://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeHost(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeHost(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeHost(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidHostname(t *testing.T) {
	if !ValidHostname("f") {
		t.Error("single label should be valid")
	}
	if ValidHostname("http://f") {
		t.Error("scheme must be rejected")
	}
	if ValidHostname("f/path") {
		t.Error("path must be rejected")
	}
}
