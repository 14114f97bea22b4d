package integrity

import (
	"fmt"
	"math/rand"
	"testing"
)

type payloadEntity map[string]any

func (p payloadEntity) HashPayload() map[string]any { return p }

func TestSecureStringDeterministic(t *testing.T) {
	h, err := NewHasher("unit-secret")
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	first := h.SecureString("qwerty1234567890")
	second := h.SecureString("qwerty1234567890")
	if first != second {
		t.Fatalf("digest not deterministic: %s vs %s", first, second)
	}
	if len(first) != 16 {
		t.Fatalf("expected 16 hex chars, got %d (%s)", len(first), first)
	}
}

func TestSecureStringKeyedBySecret(t *testing.T) {
	a, _ := NewHasher("secret-a")
	b, _ := NewHasher("secret-b")
	if a.SecureString("payload") == b.SecureString("payload") {
		t.Fatalf("different secrets produced identical digests")
	}
}

func TestNewHasherRequiresSecret(t *testing.T) {
	if _, err := NewHasher(""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestSumSensitivity(t *testing.T) {
	h, _ := NewHasher("unit-secret")
	rnd := rand.New(rand.NewSource(42))

	fields := []string{"username", "groups", "password", "state", "creation_date"}
	for i := 0; i < 200; i++ {
		entity := payloadEntity{}
		for _, f := range fields {
			entity[f] = fmt.Sprintf("%s-%d", f, rnd.Intn(1_000_000))
		}
		base, err := h.Sum(entity)
		if err != nil {
			t.Fatalf("Sum: %v", err)
		}
		again, _ := h.Sum(entity)
		if base != again {
			t.Fatalf("digest not stable for identical payload")
		}

		mutated := payloadEntity{}
		for k, v := range entity {
			mutated[k] = v
		}
		field := fields[rnd.Intn(len(fields))]
		mutated[field] = mutated[field].(string) + "x"
		changed, err := h.Sum(mutated)
		if err != nil {
			t.Fatalf("Sum mutated: %v", err)
		}
		if changed == base {
			t.Fatalf("mutation of %q did not change digest", field)
		}
	}
}

func TestSumCanonicalOrdering(t *testing.T) {
	h, _ := NewHasher("unit-secret")
	// Nested maps must hash identically regardless of construction order.
	a := payloadEntity{"meta": map[string]any{"x": "1", "y": "2"}, "name": "u"}
	b := payloadEntity{"name": "u", "meta": map[string]any{"y": "2", "x": "1"}}
	sa, _ := h.Sum(a)
	sb, _ := h.Sum(b)
	if sa != sb {
		t.Fatalf("canonical ordering violated: %s vs %s", sa, sb)
	}
}

func TestVerify(t *testing.T) {
	h, _ := NewHasher("unit-secret")
	entity := payloadEntity{"name": "user"}
	sum, _ := h.Sum(entity)
	if !h.Verify(entity, sum) {
		t.Fatalf("expected verification to pass")
	}
	if h.Verify(entity, sum[:len(sum)-1]+"x") {
		t.Fatalf("expected verification to fail for altered digest")
	}
}
