package locator

import "testing"

const sampleRust = `
struct Config {
    enabled: bool,
}

impl Config {
    fn new() -> Self {
        Config { enabled: true }
    }

    fn is_enabled(&self) -> bool {
        self.enabled
    }
}

enum Mode {
    Fast,
    Slow,
}

const MAX_RETRIES: u32 = 3;
const MAX_BUFFER_SIZE: u32 = 4096;
static GLOBAL_FLAG: bool = false;

use std::collections::HashMap;
use crate::telemetry::Reporter;

impl std::fmt::Display for Config {
    fn fmt(&self, f: &mut std::fmt::Formatter) -> std::fmt::Result {
        write!(f, "Config")
    }
}

fn top_level(x: i32) -> i32 {
    x + 1
}
`

func TestFindUniqueFunction(t *testing.T) {
	m, err := FindUnique([]byte(sampleRust), StructuralTarget{Kind: TargetFunction, Name: "top_level"})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}
	if m.Span.Start <= 0 {
		t.Fatalf("unexpected span: %v", m.Span)
	}
}

func TestFindUniqueStruct(t *testing.T) {
	_, err := FindUnique([]byte(sampleRust), StructuralTarget{Kind: TargetStruct, Name: "Config"})
	if err != nil {
		t.Fatalf("FindUnique struct: %v", err)
	}
}

func TestFindUniqueMethod(t *testing.T) {
	m, err := FindUnique([]byte(sampleRust), StructuralTarget{Kind: TargetMethod, Name: "Config", MethodName: "is_enabled"})
	if err != nil {
		t.Fatalf("FindUnique method: %v", err)
	}
	got := sampleRust[m.Span.Start:m.Span.End]
	if want := "fn is_enabled(&self) -> bool {\n        self.enabled\n    }"; got != want {
		t.Fatalf("span should cover only the method, not the enclosing impl header; got %q", got)
	}
}

func TestFindUniqueEnum(t *testing.T) {
	_, err := FindUnique([]byte(sampleRust), StructuralTarget{Kind: TargetEnum, Name: "Mode"})
	if err != nil {
		t.Fatalf("FindUnique enum: %v", err)
	}
}

func TestFindUniqueConst(t *testing.T) {
	_, err := FindUnique([]byte(sampleRust), StructuralTarget{Kind: TargetConst, Name: "MAX_RETRIES"})
	if err != nil {
		t.Fatalf("FindUnique const: %v", err)
	}
}

func TestFindAllConstMatching(t *testing.T) {
	matches, err := FindAll([]byte(sampleRust), StructuralTarget{Kind: TargetConstMatching, Pattern: "^MAX_"})
	if err != nil {
		t.Fatalf("FindAll const-matching: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
}

func TestFindUniqueStatic(t *testing.T) {
	_, err := FindUnique([]byte(sampleRust), StructuralTarget{Kind: TargetStatic, Name: "GLOBAL_FLAG"})
	if err != nil {
		t.Fatalf("FindUnique static: %v", err)
	}
}

func TestFindUniqueImpl(t *testing.T) {
	_, err := FindUnique([]byte(sampleRust), StructuralTarget{Kind: TargetImpl, Name: "Config"})
	if err != nil {
		t.Fatalf("FindUnique impl: %v", err)
	}
}

func TestFindUniqueImplTrait(t *testing.T) {
	_, err := FindUnique([]byte(sampleRust), StructuralTarget{Kind: TargetImplTrait, TraitName: "Display", Name: "Config"})
	if err != nil {
		t.Fatalf("FindUnique impl-trait: %v", err)
	}
}

func TestFindAllUse(t *testing.T) {
	matches, err := FindAll([]byte(sampleRust), StructuralTarget{Kind: TargetUse, Pattern: "telemetry"})
	if err != nil {
		t.Fatalf("FindAll use: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
}

func TestFindUniqueNoMatch(t *testing.T) {
	_, err := FindUnique([]byte(sampleRust), StructuralTarget{Kind: TargetFunction, Name: "does_not_exist"})
	if err == nil {
		t.Fatal("expected ErrNoMatch")
	}
}

func TestRunRawQueryAllFunctions(t *testing.T) {
	matches, err := RunRawQuery([]byte(sampleRust), QueryAllFunctions)
	if err != nil {
		t.Fatalf("RunRawQuery: %v", err)
	}
	// new, is_enabled, fmt, top_level
	if len(matches) != 4 {
		t.Fatalf("got %d functions, want 4", len(matches))
	}
}
