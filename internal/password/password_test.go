package password

import "testing"

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash equals plaintext")
	}
	if err := Verify(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestEmptyInputs(t *testing.T) {
	if _, err := Hash(""); err == nil {
		t.Fatal("expected error for empty password")
	}
	if err := Verify("", "anything"); err == nil {
		t.Fatal("expected error for empty hash")
	}
}
