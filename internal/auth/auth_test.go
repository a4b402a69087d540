package auth

import (
	"context"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	t.Setenv("BIDHALL_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("alice", []string{"Admin", "admin", " bidder "}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "admin" || claims.Roles[1] != "bidder" {
		t.Fatalf("roles = %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatal("token id missing")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	t.Setenv("BIDHALL_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	if _, err := GenerateToken("", nil, time.Minute); err == nil {
		t.Fatal("expected error for empty party")
	}
	if _, err := GenerateToken("alice", nil, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv("BIDHALL_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ParseAndValidate(token); err == nil {
			t.Fatalf("expected rejection of %q", token)
		}
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	t.Setenv("BIDHALL_AUTH_SECRET", "secret-one")
	ResetSecretForTests()
	token, err := GenerateToken("alice", nil, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("BIDHALL_AUTH_SECRET", "secret-two")
	ResetSecretForTests()
	if _, err := ParseAndValidate(token); err == nil {
		t.Fatal("expected rejection with rotated secret")
	}
	ResetSecretForTests()
}

func TestPartyContextRoundTrip(t *testing.T) {
	ctx := ContextWithParty(context.Background(), " alice ", []string{"Admin"})
	party, ok := PartyFromContext(ctx)
	if !ok || party != "alice" {
		t.Fatalf("party = %q ok=%v", party, ok)
	}
	if !HasRole(ctx, "admin") {
		t.Fatal("expected admin role")
	}
	if HasRole(ctx, "bidder") {
		t.Fatal("unexpected bidder role")
	}

	if _, ok := PartyFromContext(context.Background()); ok {
		t.Fatal("empty context should have no party")
	}
}
