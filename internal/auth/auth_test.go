package auth

import "testing"

func TestHashAndVerifyPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "s3cret!"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch error for wrong password")
	}
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	a, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	b, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct salts to produce distinct hashes")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	if err := VerifyPassword("not-a-valid-hash", "anything"); err == nil {
		t.Fatalf("expected error for malformed hash")
	}
}

func TestTokenServiceIssueAndParse(t *testing.T) {
	svc := NewTokenService("test-signing-secret")
	token, err := svc.IssueToken("jane", true)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Username != "jane" || !claims.IsAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenServiceRejectsForeignSecret(t *testing.T) {
	issuer := NewTokenService("secret-a")
	token, err := issuer.IssueToken("jane", false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	verifier := NewTokenService("secret-b")
	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatalf("expected signature mismatch error")
	}
}
