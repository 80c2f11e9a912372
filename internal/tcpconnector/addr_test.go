package tcpconnector

import "testing"

func TestParseIPPort(t *testing.T) {
	cases := []struct {
		in       string
		def      []int
		wantHost string
		wantPort int
	}{
		{"example.org", nil, "example.org", 0},
		{"example.org:80", nil, "example.org", 80},
		{"192.168.100.99", nil, "192.168.100.99", 0},
		{"192.168.100.99:8888", nil, "192.168.100.99", 8888},
		{"[fe80::d4a8:6435:f54c:1f4e]", nil, "fe80::d4a8:6435:f54c:1f4e", 0},
		{"[fe80::d4a8:6435:f54c:1f4e]:995", nil, "fe80::d4a8:6435:f54c:1f4e", 995},
		{"[::1]", nil, "::1", 0},
		{"[::1]:22", nil, "::1", 22},
		{"example.org", []int{443}, "example.org", 443},
		{"[::1]", []int{443}, "::1", 443},
		{"[::1]:8443", []int{443}, "::1", 8443},
	}
	for _, tc := range cases {
		host, port, err := ParseIPPort(tc.in, tc.def...)
		if err != nil {
			t.Fatalf("ParseIPPort(%q, %v) returned error: %v", tc.in, tc.def, err)
		}
		if host != tc.wantHost || port != tc.wantPort {
			t.Errorf("ParseIPPort(%q, %v) = (%q, %d), want (%q, %d)",
				tc.in, tc.def, host, port, tc.wantHost, tc.wantPort)
		}
	}
}

func TestFormatIPPort(t *testing.T) {
	cases := []struct {
		host string
		port int
		want string
	}{
		{"example.org", 80, "example.org:80"},
		{"10.80.80.205", 1234, "10.80.80.205:1234"},
		{"fe80::d4a8:6435:f54c:1f4e", 22, "[fe80::d4a8:6435:f54c:1f4e]:22"},
	}
	for _, tc := range cases {
		if got := FormatIPPort(tc.host, tc.port); got != tc.want {
			t.Errorf("FormatIPPort(%q, %d) = %q, want %q", tc.host, tc.port, got, tc.want)
		}
	}
}
