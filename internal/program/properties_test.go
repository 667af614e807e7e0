package program

import (
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"

	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
)

func TestSuccessfulPostBodyLengthProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		message := rapid.StringN(0, 700, -1).Draw(t, "message")
		err := ValidateMessage(message)
		n := len(message)
		if (err == nil) != (n >= 1 && n <= protocol.MaxMessageLength) {
			t.Fatalf("len %d: unexpected result %v", n, err)
		}
		if !utf8.ValidString(message) {
			t.Fatalf("generator produced invalid utf-8")
		}
	})
}

func TestWallOwnerImmutableProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var first, second protocol.Pubkey
		copy(first[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "first"))
		copy(second[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "second"))
		wallID := rapid.Uint64().Draw(t, "wall_id")

		inv := newMemInvocation(first, second)
		ix, err := protocol.NewInitializeWallInstruction(first, wallID)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if err := New().Process(inv, ix); err != nil {
			t.Fatalf("first init: %v", err)
		}
		address := ix.Accounts[0].Pubkey

		attempts := rapid.IntRange(1, 5).Draw(t, "attempts")
		for i := 0; i < attempts; i++ {
			retry := ix
			retry.Accounts = append([]protocol.AccountMeta(nil), ix.Accounts...)
			if rapid.Bool().Draw(t, "hijack") {
				retry.Accounts[1].Pubkey = second
			}
			_ = New().Process(inv, retry)
		}

		wall, err := Registry{}.LoadAt(inv, address)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if wall.Owner != first {
			t.Fatalf("owner changed from %s to %s", first, wall.Owner)
		}
	})
}
