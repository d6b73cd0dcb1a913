package crypto

import (
	"testing"
	"time"
)

func TestStickySignerRoundTrip(t *testing.T) {
	s := NewStickySigner(fixedKey32())
	cookie, err := s.Sign("alias-123", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	alias, ok := s.Verify(cookie)
	if !ok || alias != "alias-123" {
		t.Fatalf("verify got (%q, %v)", alias, ok)
	}
}

func TestStickySignerExpired(t *testing.T) {
	s := NewStickySigner(fixedKey32())
	cookie, err := s.Sign("alias-123", -time.Second)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, ok := s.Verify(cookie); ok {
		t.Fatal("expected expired binding to fail verification")
	}
}

func TestStickySignerTamperedRejected(t *testing.T) {
	s := NewStickySigner(fixedKey32())
	cookie, _ := s.Sign("alias-123", time.Hour)
	tampered := cookie + "x"
	if _, ok := s.Verify(tampered); ok {
		t.Fatal("expected tampered cookie to fail verification")
	}
}
