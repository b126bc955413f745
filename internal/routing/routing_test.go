package routing

import (
	"testing"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/ids"
)

func TestCompileAndMatchSimpleEquality(t *testing.T) {
	f, err := Compile(`kind = "filesystem"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	e := bus.New(bus.KindFilesystem, bus.Source{ID: "p1"}, bus.PriorityNormal, nil)
	if !f.Matches(e) {
		t.Fatal("expected match on kind equality")
	}
	e2 := bus.New(bus.KindDatabase, bus.Source{ID: "p1"}, bus.PriorityNormal, nil)
	if f.Matches(e2) {
		t.Fatal("expected no match for different kind")
	}
}

func TestCompileAndOrNot(t *testing.T) {
	f, err := Compile(`kind = "filesystem" AND NOT source.id = "excluded"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ok := bus.New(bus.KindFilesystem, bus.Source{ID: "ok"}, bus.PriorityNormal, nil)
	if !f.Matches(ok) {
		t.Fatal("expected match")
	}
	excluded := bus.New(bus.KindFilesystem, bus.Source{ID: "excluded"}, bus.PriorityNormal, nil)
	if f.Matches(excluded) {
		t.Fatal("expected NOT clause to exclude source")
	}
}

func TestCompileMetadataAndWildcard(t *testing.T) {
	f, err := Compile(`kind = * AND metadata["env"] = "prod"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	e := bus.New(bus.KindMcp, bus.Source{}, bus.PriorityNormal, nil)
	e.Metadata["env"] = "prod"
	if !f.Matches(e) {
		t.Fatal("expected wildcard kind + metadata match")
	}
	e.Metadata["env"] = "dev"
	if f.Matches(e) {
		t.Fatal("expected metadata mismatch to fail")
	}
}

func TestCompileInvalidExpression(t *testing.T) {
	if _, err := Compile(`kind =`); err == nil {
		t.Fatal("expected error for incomplete expression")
	}
	if _, err := Compile(`bogus.field = "x"`); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestCompileCachedReusesCompilation(t *testing.T) {
	f1, err := CompileCached(`kind = "system"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	f2, err := CompileCached(`kind = "system"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if f1 != f2 {
		t.Fatal("expected identical filter source to return the cached compiled filter")
	}
}

func TestNilFilterMatchesEverything(t *testing.T) {
	var f *CompiledFilter
	if !f.Matches(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil)) {
		t.Fatal("nil filter should match everything")
	}
}

func TestRegistryMatchingForFiltersByKindAndFilter(t *testing.T) {
	r := NewRegistry()
	f, _ := Compile(`kind = "filesystem"`)
	sub := &Subscription{
		ID:       ids.NewSubscriptionId(),
		PluginID: "pluginA",
		Kind:     KindRealtime,
		Filter:   f,
	}
	r.Register(sub, []bus.Kind{bus.KindFilesystem})

	match := bus.New(bus.KindFilesystem, bus.Source{ID: "other"}, bus.PriorityNormal, nil)
	got := r.MatchingFor(match)
	if len(got) != 1 || got[0].ID != sub.ID {
		t.Fatalf("expected subscription to match, got %v", got)
	}

	noMatch := bus.New(bus.KindDatabase, bus.Source{ID: "other"}, bus.PriorityNormal, nil)
	if got := r.MatchingFor(noMatch); len(got) != 0 {
		t.Fatalf("expected no match for unrelated kind, got %v", got)
	}
}

func TestRegistrySelfLoopExcludedByDefault(t *testing.T) {
	r := NewRegistry()
	sub := &Subscription{
		ID:       ids.NewSubscriptionId(),
		PluginID: "loopback",
		Kind:     KindRealtime,
	}
	r.Register(sub, nil)

	selfEvent := bus.New(bus.KindCustom, bus.Source{ID: "loopback"}, bus.PriorityNormal, nil)
	if got := r.MatchingFor(selfEvent); len(got) != 0 {
		t.Fatalf("expected self-produced event to be excluded by default, got %v", got)
	}

	sub.Delivery.SelfLoopsAllowed = true
	if got := r.MatchingFor(selfEvent); len(got) != 1 {
		t.Fatalf("expected self-loop event to match once SelfLoopsAllowed is set, got %v", got)
	}
}

func TestRegistryAuthContextDeniesOverPriority(t *testing.T) {
	r := NewRegistry()
	sub := &Subscription{
		ID:       ids.NewSubscriptionId(),
		PluginID: "limited",
		Kind:     KindRealtime,
		Auth: AuthContext{
			Permission: EventPermission{MaxPriority: bus.PriorityNormal, HasMaxPriority: true},
		},
	}
	r.Register(sub, nil)

	low := bus.New(bus.KindSystem, bus.Source{ID: "x"}, bus.PriorityNormal, nil)
	if got := r.MatchingFor(low); len(got) != 1 {
		t.Fatalf("expected normal-priority event within grant to match, got %v", got)
	}

	high := bus.New(bus.KindSystem, bus.Source{ID: "x"}, bus.PriorityCritical, nil)
	if got := r.MatchingFor(high); len(got) != 0 {
		t.Fatalf("expected over-priority event to be denied, got %v", got)
	}
}

func TestRegistryUnregisterRemovesFromAllIndices(t *testing.T) {
	r := NewRegistry()
	sub := &Subscription{ID: ids.NewSubscriptionId(), PluginID: "p", Kind: KindRealtime}
	r.Register(sub, []bus.Kind{bus.KindSystem})
	r.Unregister(sub.ID)

	if r.Count() != 0 {
		t.Fatalf("expected registry to be empty after unregister, got %d", r.Count())
	}
	if got := r.MatchingFor(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil)); len(got) != 0 {
		t.Fatalf("expected no matches after unregister, got %v", got)
	}
}
