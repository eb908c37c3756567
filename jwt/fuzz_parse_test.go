package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"
)

func fuzzManager(f *testing.F) *Manager {
	f.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	mgr, err := NewManager(Config{
		TTL:           5 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "fuzz-realtime",
		Audience:      "realtime",
		RequireIAT:    true,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub},
	})
	if err != nil {
		f.Fatal(err)
	}
	return mgr
}

// FuzzParse feeds arbitrary strings to the verifier. Every rejection must
// classify as expired or invalid so the handshake can pick an error type.
func FuzzParse(f *testing.F) {
	mgr := fuzzManager(f)
	token, _, err := mgr.Mint("teacher-1")
	if err != nil {
		f.Fatal(err)
	}

	f.Add(token)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0.")
	f.Add(strings.Repeat("a.", 64))

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := mgr.Parse(input)
		if err != nil {
			if !errors.Is(err, ErrTokenInvalid) && !errors.Is(err, ErrTokenExpired) {
				t.Fatalf("unclassified parse error: %v", err)
			}
			return
		}
		if claims == nil || claims.Subject == "" || claims.Use != TokenUse {
			t.Fatalf("accepted token without realtime claims: %+v", claims)
		}
	})
}

// FuzzTamperedSignature flips one byte of a valid token; only the untouched
// token may verify.
func FuzzTamperedSignature(f *testing.F) {
	mgr := fuzzManager(f)
	token, _, err := mgr.Mint("admin-1")
	if err != nil {
		f.Fatal(err)
	}

	f.Add(uint16(0), byte(1))
	f.Add(uint16(len(token)-1), byte(0x20))

	f.Fuzz(func(t *testing.T, pos uint16, flip byte) {
		if flip == 0 {
			return
		}
		raw := []byte(token)
		i := int(pos) % len(raw)
		raw[i] ^= flip
		tampered := string(raw)
		if tampered == token {
			return
		}
		if claims, err := mgr.Parse(tampered); err == nil && claims.Subject != "admin-1" {
			t.Fatalf("tampered token verified for %q", claims.Subject)
		}
	})
}
