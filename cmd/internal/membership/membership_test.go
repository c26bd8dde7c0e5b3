package membership

import (
	"context"
	"errors"
	"testing"
)

func TestValidWorkspaceID(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"01HZX3Q8B5N6W7Y8Z9A0B1C2D3":           true,
		"0b5e4f1c-8a2d-4c1e-9f3a-2b7d6c5e4a1f": true,
		"":                                     false,
		" 01HZX3Q8B5N6W7Y8Z9A0B1C2D3":          false,
		"01HZX3Q8B5N6W7Y8Z9A0B1C2D":            false,
		"{0b5e4f1c-8a2d-4c1e-9f3a-2b7d6c5e4a1f}": false,
		"workspace-1":                          false,
		"../etc/passwd":                        false,
	}
	for id, want := range cases {
		if got := ValidWorkspaceID(id); got != want {
			t.Fatalf("ValidWorkspaceID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestRoleOrdering(t *testing.T) {
	t.Parallel()

	if !RoleOwner.AtLeast(RoleAdmin) || !RoleAdmin.AtLeast(RoleAdmin) {
		t.Fatal("owner/admin ordering broken")
	}
	if RoleMember.AtLeast(RoleAdmin) || RoleViewer.AtLeast(RoleMember) {
		t.Fatal("lower roles must not satisfy higher ones")
	}
	if Role("root").AtLeast(RoleViewer) {
		t.Fatal("unknown role must not satisfy anything")
	}
	if _, err := ParseRole(" Admin "); err != nil {
		t.Fatalf("ParseRole: %v", err)
	}
	if _, err := ParseRole("root"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("ParseRole(root) err = %v", err)
	}
}

func TestMemoryDirectory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewMemoryDirectory()
	const ws = "01HZX3Q8B5N6W7Y8Z9A0B1C2D3"

	if _, err := d.Lookup(ctx, ws, "u1"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("Lookup before grant err = %v", err)
	}
	if err := d.Grant(ctx, Ref{WorkspaceID: ws, UserID: "u1", Role: RoleMember}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	ref, err := d.Lookup(ctx, ws, "u1")
	if err != nil || ref.Role != RoleMember {
		t.Fatalf("Lookup = %+v, %v", ref, err)
	}
	if err := d.Grant(ctx, Ref{WorkspaceID: ws, UserID: "u1", Role: "god"}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("Grant invalid role err = %v", err)
	}

	d.Revoke(ws, "u1")
	if _, err := d.Lookup(ctx, ws, "u1"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("Lookup after revoke err = %v", err)
	}
}

func TestParseSeedAndSeed(t *testing.T) {
	t.Parallel()

	refs, err := ParseSeed("01HZX3Q8B5N6W7Y8Z9A0B1C2D3:u1:owner, 0b5e4f1c-8a2d-4c1e-9f3a-2b7d6c5e4a1f:u2:viewer,")
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}
	if len(refs) != 2 || refs[1].Role != RoleViewer {
		t.Fatalf("refs = %+v", refs)
	}

	d := NewMemoryDirectory()
	if err := Seed(context.Background(), d, refs); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if ref, err := d.Lookup(context.Background(), refs[0].WorkspaceID, "u1"); err != nil || ref.Role != RoleOwner {
		t.Fatalf("seeded lookup = %+v, %v", ref, err)
	}

	for _, bad := range []string{"ws:u1", "not-an-id:u1:owner", "01HZX3Q8B5N6W7Y8Z9A0B1C2D3:u1:root"} {
		if _, err := ParseSeed(bad); err == nil {
			t.Fatalf("ParseSeed(%q) succeeded", bad)
		}
	}
}
