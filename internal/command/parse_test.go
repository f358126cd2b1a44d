package command

import (
	"errors"
	"strings"
	"testing"

	"pkt.systems/sandview/schema"
)

func TestParseInstall(t *testing.T) {
	for _, input := range []string{"npm install", "npm i", "pnpm install", "yarn i", "bun install"} {
		parsed, err := Parse(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if parsed.Action != schema.ActionInstall {
			t.Fatalf("parse %q: expected install action, got %q", input, parsed.Action)
		}
	}
}

func TestParseRunScript(t *testing.T) {
	parsed, err := Parse("npm run dev")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Action != schema.ActionRun || parsed.Script != "dev" {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
	if parsed.Manager != schema.ManagerNpm {
		t.Fatalf("expected npm, got %q", parsed.Manager)
	}
}

func TestParseImplicitScript(t *testing.T) {
	parsed, err := Parse("pnpm build")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Action != schema.ActionRun || parsed.Script != "build" {
		t.Fatalf("expected implicit run of build, got %+v", parsed)
	}
}

func TestParseRejectsMetacharacters(t *testing.T) {
	for _, input := range []string{
		"npm run build && rm -rf /",
		"npm run dev; echo pwned",
		"npm run dev | cat",
		"npm run `whoami`",
		"npm run $HOME",
		"npm run dev > out",
		"npm run dev < in",
	} {
		_, err := Parse(input)
		if !errors.Is(err, schema.ErrUnsafeCommand) {
			t.Fatalf("parse %q: expected unsafe command error, got %v", input, err)
		}
	}
}

func TestParseRejectsEmptyAndOverlong(t *testing.T) {
	if _, err := Parse("   "); !errors.Is(err, schema.ErrEmptyCommand) {
		t.Fatalf("expected empty command error, got %v", err)
	}
	long := "npm run " + strings.Repeat("a", MaxLength)
	if _, err := Parse(long); !errors.Is(err, schema.ErrCommandTooLong) {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestParseRejectsUnknownManager(t *testing.T) {
	if _, err := Parse("make all"); !errors.Is(err, schema.ErrUnknownManager) {
		t.Fatalf("expected unknown manager error, got %v", err)
	}
}

func TestParseRunWithoutScript(t *testing.T) {
	if _, err := Parse("npm run"); !errors.Is(err, schema.ErrMissingScript) {
		t.Fatalf("expected missing script error, got %v", err)
	}
	if _, err := Parse("npm"); !errors.Is(err, schema.ErrMissingScript) {
		t.Fatalf("expected missing script error for bare manager, got %v", err)
	}
}
