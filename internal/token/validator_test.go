package token

import (
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/relink/internal/shared"
	helpers "github.com/desertthunder/relink/internal/testing"
)

func TestValidate(t *testing.T) {
	now := time.Now()

	t.Run("Valid Token", func(t *testing.T) {
		tok := helpers.ForgeToken(now.Add(time.Hour))
		if err := Validate(tok, now); err != nil {
			t.Errorf("expected valid token, got %v", err)
		}
	})

	t.Run("Empty Token", func(t *testing.T) {
		if err := Validate("", now); !errors.Is(err, shared.ErrTokenMissing) {
			t.Errorf("expected ErrTokenMissing, got %v", err)
		}
	})

	t.Run("Wrong Segment Count", func(t *testing.T) {
		for _, tok := range []string{"abc", "a.b", "a.b.c.d"} {
			if err := Validate(tok, now); !errors.Is(err, shared.ErrTokenInvalid) {
				t.Errorf("expected ErrTokenInvalid for %q, got %v", tok, err)
			}
		}
	})

	t.Run("Empty Segment", func(t *testing.T) {
		if err := Validate("a..c", now); !errors.Is(err, shared.ErrTokenInvalid) {
			t.Errorf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("Undecodable Claims", func(t *testing.T) {
		if err := Validate("aGVhZGVy.!!!notbase64!!!.c2ln", now); !errors.Is(err, shared.ErrTokenInvalid) {
			t.Errorf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("Missing Exp", func(t *testing.T) {
		tok := helpers.ForgeTokenWithoutExp()
		if err := Validate(tok, now); !errors.Is(err, shared.ErrTokenInvalid) {
			t.Errorf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("Expired Five Seconds Ago", func(t *testing.T) {
		tok := helpers.ForgeToken(now.Add(-5 * time.Second))
		if err := Validate(tok, now); !errors.Is(err, shared.ErrTokenInvalid) {
			t.Errorf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("Exp Exactly Now", func(t *testing.T) {
		tok := helpers.ForgeToken(now.Truncate(time.Second))
		if err := Validate(tok, now.Truncate(time.Second)); !errors.Is(err, shared.ErrTokenInvalid) {
			t.Errorf("expected token expiring exactly now to be invalid, got %v", err)
		}
	})
}
