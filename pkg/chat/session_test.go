package chat

import (
	"reflect"
	"testing"
)

func TestSessionJoinPart(t *testing.T) {
	s := NewSession("mynet", "#dev", "ops")

	if s.Network() != "mynet" {
		t.Fatalf("expected network mynet, got %q", s.Network())
	}
	if !s.Joined("#DEV") {
		t.Fatalf("expected case-insensitive match for #DEV")
	}
	if !s.Joined("ops") || !s.Joined("#ops") {
		t.Fatalf("expected ops to be joined with or without prefix")
	}

	s.Part("#dev")
	if s.Joined("#dev") {
		t.Fatalf("expected #dev to be parted")
	}

	s.Join("&local")
	got := s.Channels()
	want := []string{"#ops", "&local"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected channels %v, got %v", want, got)
	}
}

func TestNormalizeChannel(t *testing.T) {
	cases := map[string]string{
		"dev":    "#dev",
		" #dev ": "#dev",
		"&local": "&local",
		"#":      "",
		"":       "",
	}
	for in, want := range cases {
		if got := NormalizeChannel(in); got != want {
			t.Fatalf("NormalizeChannel(%q) = %q, want %q", in, got, want)
		}
	}
}
