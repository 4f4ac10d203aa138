package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	id, err := Open{}.Verify(context.Background(), Credentials{CharacterID: "p1"})
	if err != nil || id != "p1" {
		t.Fatalf("got %q, %v", id, err)
	}
	if _, err := (Open{}).Verify(context.Background(), Credentials{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty id: got %v", err)
	}
}

func TestJWT(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	v := NewJWT("s3cret", "worldsync", clock)

	tok, err := v.Issue("p1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if id, err := v.Verify(ctx, Credentials{Token: tok}); err != nil || id != "p1" {
		t.Fatalf("valid token: %q, %v", id, err)
	}
	if id, err := v.Verify(ctx, Credentials{CharacterID: "p1", Token: tok}); err != nil || id != "p1" {
		t.Fatalf("matching character: %q, %v", id, err)
	}

	cases := map[string]Credentials{
		"no token":           {CharacterID: "p1"},
		"garbage":            {Token: "not.a.jwt"},
		"character mismatch": {CharacterID: "p2", Token: tok},
	}
	for name, c := range cases {
		if _, err := v.Verify(ctx, c); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: got %v, want ErrInvalidToken", name, err)
		}
	}

	other := NewJWT("other", "worldsync", clock)
	forged, _ := other.Issue("p1", time.Minute)
	if _, err := v.Verify(ctx, Credentials{Token: forged}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key: got %v", err)
	}

	wrongIss := NewJWT("s3cret", "elsewhere", clock)
	tok2, _ := wrongIss.Issue("p1", time.Minute)
	if _, err := v.Verify(ctx, Credentials{Token: tok2}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer: got %v", err)
	}

	later := NewJWT("s3cret", "worldsync", func() time.Time { return now.Add(2 * time.Minute) })
	if _, err := later.Verify(ctx, Credentials{Token: tok}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "p1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := v.Verify(ctx, Credentials{Token: unsigned}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg none: got %v", err)
	}
}

type hashStore map[string]string

func (s hashStore) TokenHash(_ context.Context, id string) (string, error) {
	h, ok := s[id]
	if !ok {
		return "", errors.New("not found")
	}
	return h, nil
}

func TestStoreVerifier(t *testing.T) {
	t.Parallel()

	hash, err := HashToken("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	v := NewStoreVerifier(hashStore{"p1": hash})
	ctx := context.Background()

	if id, err := v.Verify(ctx, Credentials{CharacterID: "p1", Token: "hunter2"}); err != nil || id != "p1" {
		t.Fatalf("valid: %q, %v", id, err)
	}
	for _, c := range []Credentials{
		{CharacterID: "p1", Token: "wrong"},
		{CharacterID: "p2", Token: "hunter2"},
		{CharacterID: "p1"},
	} {
		if _, err := v.Verify(ctx, c); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%+v: got %v", c, err)
		}
	}
}
