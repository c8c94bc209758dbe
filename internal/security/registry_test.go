package security

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryScopesFlowsToSession(t *testing.T) {
	r := NewRegistry(0)
	setup := NewSetupFlow(&fakeAPI{}, Options{})
	id := r.OpenSetup("sess-a", setup)

	got, err := r.Setup("sess-a", id)
	if err != nil || got != setup {
		t.Fatalf("expected own flow, got %v %v", got, err)
	}
	if _, err := r.Setup("sess-b", id); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("foreign session must not see the flow, got %v", err)
	}
	if _, err := r.Verify("sess-a", id); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("kind mismatch must not resolve, got %v", err)
	}
	if r.Close("sess-b", id) {
		t.Fatalf("foreign session closed the flow")
	}
	if !r.Close("sess-a", id) {
		t.Fatalf("owner could not close the flow")
	}
	if err := setup.Start(FactorPIN); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed flow still usable: %v", err)
	}
}

func TestRegistryReplacesPreviousFlow(t *testing.T) {
	r := NewRegistry(0)
	first := NewVerifyFlow(&fakeAPI{}, "", nil, Options{})
	firstID := r.OpenVerify("sess", first)
	second := NewVerifyFlow(&fakeAPI{}, "", nil, Options{})
	secondID := r.OpenVerify("sess", second)

	if firstID == secondID {
		t.Fatalf("flow ids must be unique")
	}
	if _, err := r.Verify("sess", firstID); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("replaced flow still reachable: %v", err)
	}
	if err := first.Choose(FactorPIN); !errors.Is(err, ErrClosed) {
		t.Fatalf("replaced flow not closed: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one open flow, got %d", r.Len())
	}

	r.OpenSetup("sess", NewSetupFlow(&fakeAPI{}, Options{}))
	if r.Len() != 2 {
		t.Fatalf("setup and verify flows coexist, got %d", r.Len())
	}
	r.CloseSession("sess")
	if r.Len() != 0 {
		t.Fatalf("expected no flows after session close, got %d", r.Len())
	}
}

func TestRegistrySweepsIdleFlows(t *testing.T) {
	r := NewRegistry(time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	idle := NewSetupFlow(&fakeAPI{}, Options{})
	idleID := r.OpenSetup("sess-a", idle)
	now = now.Add(45 * time.Second)
	r.OpenSetup("sess-b", NewSetupFlow(&fakeAPI{}, Options{}))

	now = now.Add(30 * time.Second)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, err := r.Setup("sess-a", idleID); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("idle flow should be gone: %v", err)
	}
	if err := idle.Start(FactorPIN); !errors.Is(err, ErrClosed) {
		t.Fatalf("evicted flow not closed: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("active flow evicted, len=%d", r.Len())
	}
}
