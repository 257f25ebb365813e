package telemetry

import (
	"testing"

	"github.com/objectfs/msc/pkg/config"
)

func TestEnvironmentAttributesProvider(t *testing.T) {
	t.Setenv("MSC_JOB_ID", "job-123")
	p := EnvironmentAttributesProvider{Mapping: map[string]string{"job.id": "MSC_JOB_ID", "missing": "MSC_DOES_NOT_EXIST"}}
	attrs := p.Attributes()
	if attrs["job.id"] != "job-123" {
		t.Fatalf("attrs = %+v", attrs)
	}
	if _, ok := attrs["missing"]; ok {
		t.Fatalf("unset env var should be omitted, got %+v", attrs)
	}
}

func TestRuntimeAttributesProvider(t *testing.T) {
	p := RuntimeAttributesProvider{Runtime: config.Runtime{JobName: "nightly-sync", NodeID: "node-1"}}
	attrs := p.Attributes()
	if attrs["job.name"] != "nightly-sync" || attrs["node.id"] != "node-1" {
		t.Fatalf("attrs = %+v", attrs)
	}
	if _, ok := attrs["job.id"]; ok {
		t.Fatalf("empty job id should be omitted, got %+v", attrs)
	}
}

func TestStaticAttributesProviderIsolatesCaller(t *testing.T) {
	values := map[string]string{"a": "1"}
	p := StaticAttributesProvider{Values: values}
	attrs := p.Attributes()
	attrs["a"] = "mutated"
	if values["a"] != "1" {
		t.Fatal("Attributes() must return a copy, not the backing map")
	}
}

func TestMergeLaterProviderWins(t *testing.T) {
	a := StaticAttributesProvider{Values: map[string]string{"k": "a"}}
	b := StaticAttributesProvider{Values: map[string]string{"k": "b"}}
	merged := Merge(a, b)
	if merged["k"] != "b" {
		t.Fatalf("merged = %+v, want k=b", merged)
	}
}

func TestHostAttributesProviderIncludesHostname(t *testing.T) {
	attrs := HostAttributesProvider{}.Attributes()
	if attrs["host.name"] == "" {
		t.Fatal("expected a non-empty host.name")
	}
}
