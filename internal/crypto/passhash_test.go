package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/and161185/emol/internal/errs"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}
}

func TestValidPIN(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"1234", "12345", "123456", "0000"} {
		if !ValidPIN(ok) {
			t.Fatalf("ValidPIN(%q)=false, want true", ok)
		}
	}
	for _, bad := range []string{"", "123", "1234567", "12ab", " 1234", "１２３４", "1234\n"} {
		if ValidPIN(bad) {
			t.Fatalf("ValidPIN(%q)=true, want false", bad)
		}
	}
}

func TestHashPIN_RejectsBadFormat(t *testing.T) {
	t.Parallel()

	if _, err := HashPIN("12ab"); !errors.Is(err, errs.ErrInvalidFormat) {
		t.Fatalf("want ErrInvalidFormat, got %v", err)
	}
}

func TestHashAndVerifyPIN(t *testing.T) {
	t.Parallel()

	h1, err := HashPIN("1234")
	if err != nil {
		t.Fatalf("HashPIN: %v", err)
	}
	h2, err := HashPIN("1234")
	if err != nil {
		t.Fatalf("HashPIN(2): %v", err)
	}
	if h1 == h2 {
		t.Fatalf("hashes must differ by salt")
	}

	ok, err := VerifyPIN("1234", h1)
	if err != nil || !ok {
		t.Fatalf("VerifyPIN correct: ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPIN("0000", h1)
	if err != nil || ok {
		t.Fatalf("VerifyPIN wrong: ok=%v err=%v", ok, err)
	}
}

func TestVerifyPIN_InvalidHash(t *testing.T) {
	t.Parallel()

	for _, enc := range []string{"", "plain", "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA", "$argon2id$v=18$m=1,t=1,p=1$c2FsdA$aGFzaA"} {
		if _, err := VerifyPIN("1234", enc); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("VerifyPIN(%q): want ErrInvalidHash, got %v", enc, err)
		}
	}
}
