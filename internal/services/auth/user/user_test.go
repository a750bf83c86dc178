package user

import (
	"errors"
	"testing"
)

func TestNormalizeEmail(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		want  string
		valid bool
	}{
		{"lowercases", "Student@X.COM", "student@x.com", true},
		{"trims", "  a@x.com  ", "a@x.com", true},
		{"empty", "   ", "", false},
		{"no at sign", "not-an-email", "", false},
		{"display name form", "Someone <a@x.com>", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeEmail(tc.in)
			if tc.valid && err != nil {
				t.Fatalf("normalize %q: %v", tc.in, err)
			}
			if !tc.valid {
				if !errors.Is(err, ErrInvalidEmail) {
					t.Fatalf("expected ErrInvalidEmail, got %v", err)
				}
				return
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	if role, err := ParseRole(" Teacher "); err != nil || role != RoleTeacher {
		t.Fatalf("expected teacher, got %q, %v", role, err)
	}
	if _, err := ParseRole("admin"); !errors.Is(err, ErrInvalidRole) {
		t.Fatal("admin must not be self-registerable")
	}
	if _, err := ParseRole(""); !errors.Is(err, ErrInvalidRole) {
		t.Fatal("empty role must be rejected")
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	u := User{PasswordHash: hash}
	if !u.CheckPassword("correct horse") {
		t.Fatal("expected matching password to verify")
	}
	if u.CheckPassword("wrong horse") {
		t.Fatal("expected mismatched password to fail")
	}
	if !u.HasPassword() {
		t.Fatal("expected HasPassword true")
	}
}

func TestHashPasswordMinLength(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestCheckPasswordWithoutHash(t *testing.T) {
	u := User{}
	if u.CheckPassword("anything") {
		t.Fatal("user without a hash must never verify")
	}
	if u.HasPassword() {
		t.Fatal("expected HasPassword false")
	}
}
