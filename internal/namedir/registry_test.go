package namedir

import (
	"testing"

	"github.com/ringmr/ringmr/internal/logger"
	"github.com/ringmr/ringmr/internal/rpcfacade"
)

func TestRegistryLookupRegisterRemove(t *testing.T) {
	r := NewRegistry(logger.Nop{})
	addr := rpcfacade.Address{Object: "master", Host: "10.0.0.1", Port: 9000}

	if _, ok := r.Lookup("master"); ok {
		t.Fatalf("expected empty registry to miss")
	}

	r.Register("master", addr, false)
	got, ok := r.Lookup("master")
	if !ok || !got.Equal(addr) {
		t.Fatalf("expected to find %v, got %v ok=%v", addr, got, ok)
	}

	r.Remove("master")
	if _, ok := r.Lookup("master"); ok {
		t.Fatalf("expected removed entry to be gone")
	}
}

func TestRegistrySafeRegisterDoesNotOverwrite(t *testing.T) {
	r := NewRegistry(logger.Nop{})
	first := rpcfacade.Address{Object: "master", Host: "10.0.0.1", Port: 1}
	second := rpcfacade.Address{Object: "master", Host: "10.0.0.2", Port: 2}

	r.Register("master", first, false)
	r.Register("master", second, true)

	got, _ := r.Lookup("master")
	if !got.Equal(first) {
		t.Fatalf("expected safe register to preserve %v, got %v", first, got)
	}
}

func TestRegistryListReturnsCopy(t *testing.T) {
	r := NewRegistry(logger.Nop{})
	r.Register("a", rpcfacade.Address{Object: "a", Host: "h", Port: 1}, false)

	snapshot := r.List()
	snapshot["b"] = rpcfacade.Address{Object: "b", Host: "h", Port: 2}

	if _, ok := r.Lookup("b"); ok {
		t.Fatalf("mutating the returned snapshot must not affect the registry")
	}
}

func TestRegistryLoadAllPreservesExisting(t *testing.T) {
	r := NewRegistry(logger.Nop{})
	existing := rpcfacade.Address{Object: "master", Host: "10.0.0.1", Port: 1}
	r.Register("master", existing, false)

	backup := map[string]rpcfacade.Address{
		"master": {Object: "master", Host: "10.0.0.9", Port: 9},
		"worker": {Object: "worker", Host: "10.0.0.9", Port: 10},
	}
	r.LoadAll(backup)

	if got, _ := r.Lookup("master"); !got.Equal(existing) {
		t.Fatalf("loadAll must not overwrite existing bindings, got %v", got)
	}
	if got, ok := r.Lookup("worker"); !ok || !got.Equal(backup["worker"]) {
		t.Fatalf("loadAll must populate missing bindings, got %v ok=%v", got, ok)
	}
}
