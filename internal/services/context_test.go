package services

import (
	"context"
	"testing"
)

func TestContextAnnotations(t *testing.T) {
	ctx := context.Background()

	if _, ok := RunIDFromContext(ctx); ok {
		t.Fatal("empty context should carry no run id")
	}

	ctx = WithRunID(ctx, "run-1")
	ctx = WithComponent(ctx, "registry")
	ctx = WithResource(ctx, "http://example.org/StructureDefinition/a")

	if id, ok := RunIDFromContext(ctx); !ok || id != "run-1" {
		t.Fatalf("run id = %q, ok=%v", id, ok)
	}
	if c, ok := ComponentFromContext(ctx); !ok || c != "registry" {
		t.Fatalf("component = %q, ok=%v", c, ok)
	}
	if u, ok := ResourceFromContext(ctx); !ok || u != "http://example.org/StructureDefinition/a" {
		t.Fatalf("resource = %q, ok=%v", u, ok)
	}
}

func TestEmptyValuesIgnored(t *testing.T) {
	ctx := WithRunID(context.Background(), "")
	if _, ok := RunIDFromContext(ctx); ok {
		t.Fatal("empty run id should not be stored")
	}
}
