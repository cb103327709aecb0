package topic

import "testing"

func TestBuilder(t *testing.T) {
	b := NewBuilder("updrift/v1")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"command", b.Command("dev-01"), "updrift/v1/update/cmd/dev-01"},
		{"ack", b.CommandAck("dev-01"), "updrift/v1/update/ack/dev-01"},
		{"progress", b.Progress("dev-01"), "updrift/v1/update/progress/dev-01"},
		{"register", b.Register("dev-01"), "updrift/v1/register/dev-01"},
		{"online", b.Online("dev-01"), "updrift/v1/online/dev-01"},
		{"wildcard ack", b.CommandAck(Wildcard), "updrift/v1/update/ack/+"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
