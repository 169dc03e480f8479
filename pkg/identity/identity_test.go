package identity_test

import (
	"strings"
	"testing"

	"github.com/loomctx/loomctx/pkg/identity"
)

func TestValidateIDRejectsEmpty(t *testing.T) {
	if err := identity.ValidateID(""); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestValidateIDRejectsTooLong(t *testing.T) {
	long := strings.Repeat("a", 257)
	if err := identity.ValidateID(long); err == nil {
		t.Fatal("expected error for id exceeding 256 runes")
	}
}

func TestValidateIDAcceptsMaxLength(t *testing.T) {
	exact := strings.Repeat("a", 256)
	if err := identity.ValidateID(exact); err != nil {
		t.Fatalf("expected 256-rune id to be valid, got %v", err)
	}
}

func TestValidateIDRejectsWhitespace(t *testing.T) {
	if err := identity.ValidateID("has space"); err == nil {
		t.Fatal("expected error for id containing a space")
	}
}

func TestValidateIDRejectsNonPrintable(t *testing.T) {
	if err := identity.ValidateID("tenant\x00id"); err == nil {
		t.Fatal("expected error for id containing a non-printable rune")
	}
}

func TestValidateIDRejectsInvalidUTF8(t *testing.T) {
	invalid := string([]byte{0xff, 0xfe, 0xfd})
	if err := identity.ValidateID(invalid); err == nil {
		t.Fatal("expected error for invalid UTF-8")
	}
}

func TestValidateIDAcceptsUnicodePrintable(t *testing.T) {
	if err := identity.ValidateID("tenant-日本語-42"); err != nil {
		t.Fatalf("expected printable unicode id to be valid, got %v", err)
	}
}

func TestTenantContextValidateRequiresTenantID(t *testing.T) {
	tc := identity.TenantContext{}
	if err := tc.Validate(); err == nil {
		t.Fatal("expected error for missing tenant id")
	}
}

func TestTenantContextValidateAllowsEmptyOptionalFields(t *testing.T) {
	tc := identity.TenantContext{TenantID: "tenant-a"}
	if err := tc.Validate(); err != nil {
		t.Fatalf("expected valid context with only tenant id set, got %v", err)
	}
}

func TestTenantContextValidateRejectsInvalidUserID(t *testing.T) {
	tc := identity.TenantContext{TenantID: "tenant-a", UserID: "has space"}
	if err := tc.Validate(); err == nil {
		t.Fatal("expected error for invalid user id")
	}
}
