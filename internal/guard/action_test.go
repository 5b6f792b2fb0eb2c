package guard

import "testing"

func TestParseAction(t *testing.T) {
	action, ok := ParseAction(" Ban_Member ")
	if !ok || action != ActionBanMember {
		t.Fatalf("expected ban_member, got %q ok=%v", action, ok)
	}
	if _, ok := ParseAction("nuke_everything"); ok {
		t.Fatalf("expected unknown action rejected")
	}
}

func TestParsePunishment(t *testing.T) {
	kind, ok := ParsePunishment("TIMEOUT")
	if !ok || kind != PunishTimeout {
		t.Fatalf("expected timeout, got %q ok=%v", kind, ok)
	}
	if _, ok := ParsePunishment("exile"); ok {
		t.Fatalf("expected unknown punishment rejected")
	}
}

func TestPermissionNames(t *testing.T) {
	names := PermissionNames(DangerousPermissions)
	if len(names) != 6 {
		t.Fatalf("expected 6 names, got %v", names)
	}
	if names := PermissionNames(0); len(names) != 0 {
		t.Fatalf("expected none, got %v", names)
	}
}
