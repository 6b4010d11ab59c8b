package canon_test

import (
	"testing"

	"github.com/trustvault/trustvault/internal/canon"
)

func TestCanonicalizeKeyOrderIndependence(t *testing.T) {
	a := canon.Map{"b": canon.Num(1), "a": canon.Num(2)}
	b := canon.Map{"a": canon.Num(2), "b": canon.Num(1)}
	if string(canon.Canonicalize(a)) != string(canon.Canonicalize(b)) {
		t.Fatalf("canonical forms differ for equal maps in different key order")
	}
}

func TestCanonicalizeFloatRounding(t *testing.T) {
	sum := canon.Num(0.1 + 0.2)
	got := string(canon.Canonicalize(sum))
	want := string(canon.Canonicalize(canon.Num(0.3)))
	if got != want {
		t.Fatalf("0.1+0.2 canonicalized to %s, want %s", got, want)
	}
}

func TestCanonicalizeTinyMagnitudeCollapsesToZero(t *testing.T) {
	got := string(canon.Canonicalize(canon.Num(4e-11)))
	want := string(canon.Canonicalize(canon.Num(0)))
	if got != want {
		t.Fatalf("tiny magnitude did not collapse to zero: got %s", got)
	}
}

func TestCanonicalizeSequenceOrderPreserved(t *testing.T) {
	s := canon.Seq{canon.Str("x"), canon.Str("y"), canon.Str("z")}
	got := string(canon.Canonicalize(s))
	want := `["x","y","z"]`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key := []byte("agent-key")
	msg := []byte(`{"a":1}`)
	tag := canon.Sign(key, msg)
	if !canon.Verify(key, msg, tag) {
		t.Fatal("verify failed for matching key")
	}
	if canon.Verify([]byte("other-key"), msg, tag) {
		t.Fatal("verify succeeded for mismatched key")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	key := []byte("agent-key")
	tag := canon.Sign(key, []byte(`{"a":1}`))
	if canon.Verify(key, []byte(`{"a":2}`), tag) {
		t.Fatal("verify accepted a tampered message")
	}
}

func TestEscapeOrderAndCoverage(t *testing.T) {
	in := "a\\b\"c\nd\re"
	got := canon.Escape(in)
	want := `a\\b\"c\nd\re`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
