package jobs

import "testing"

type fakeHandler struct {
	jobType string
}

func (f *fakeHandler) Type() string          { return f.jobType }
func (f *fakeHandler) Run(jc *Context) error { return nil }

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeHandler{jobType: "sweep"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(&fakeHandler{jobType: "sweep"}); err == nil {
		t.Fatal("duplicate type should be rejected")
	}
}

func TestRegistryRejectsBadHandlers(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Fatal("nil handler should be rejected")
	}
	if err := r.Register(&fakeHandler{}); err == nil {
		t.Fatal("empty type should be rejected")
	}
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandler{jobType: "sweep"}
	if err := r.Register(h); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok := r.Get("sweep")
	if !ok || got != Handler(h) {
		t.Fatalf("lookup failed: %v %v", got, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unknown type should miss")
	}
}
