package mountsvc

import (
	"context"
	"testing"
)

func TestNewStartsUnmounted(t *testing.T) {
	m := New(Config{MountPoint: "/nonexistent"})
	if got := m.State(); got != StateUnmounted {
		t.Fatalf("got %s, want unmounted", got)
	}
}

func TestUnmountFromUnmountedFails(t *testing.T) {
	m := New(Config{MountPoint: "/nonexistent"})
	if err := m.Unmount(context.Background()); err == nil {
		t.Fatal("expected error unmounting a mount that was never mounted")
	}
	if got := m.State(); got != StateUnmounted {
		t.Fatalf("state should be unchanged by the rejected Unmount, got %s", got)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateUnmounted:  "unmounted",
		StateMounting:   "mounting",
		StateMounted:    "mounted",
		StateUnmounting: "unmounting",
		State(99):       "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestMountPointReflectsConfig(t *testing.T) {
	m := New(Config{MountPoint: "/mnt/example"})
	if got := m.MountPoint(); got != "/mnt/example" {
		t.Fatalf("got %q, want /mnt/example", got)
	}
}
