package bencode

import (
	"bytes"
	"testing"
)

func TestEncodeInt(t *testing.T) {
	got, err := Marshal(int64(42))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "i42e" {
		t.Errorf("got %q, want %q", got, "i42e")
	}
}

func TestEncodeNegativeInt(t *testing.T) {
	got, err := Marshal(int64(-7))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "i-7e" {
		t.Errorf("got %q, want %q", got, "i-7e")
	}
}

func TestEncodeString(t *testing.T) {
	got, err := Marshal("spam")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "4:spam" {
		t.Errorf("got %q, want %q", got, "4:spam")
	}
}

func TestEncodeList(t *testing.T) {
	got, err := Marshal(List{"spam", int64(42)})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "l4:spami42ee" {
		t.Errorf("got %q, want %q", got, "l4:spami42ee")
	}
}

func TestEncodeDictSortsKeys(t *testing.T) {
	got, err := Marshal(Dict{"z": int64(1), "a": int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	want := "d1:ai2e1:zi1ee"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBooleansNotRepresentable(t *testing.T) {
	if _, err := Marshal(true); err == nil {
		t.Error("expected error encoding bool")
	}
}

func TestRoundTripBijection(t *testing.T) {
	// Property 5 (§8): bencode(parse(b)) == b for canonical input.
	original := Dict{
		"name":   []byte("mod.7z"),
		"length": int64(123456),
		"pieces": List{int64(1), int64(2), int64(3)},
		"nested": Dict{"b": int64(2), "a": int64(1)},
	}

	encoded, err := Marshal(original)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := Unmarshal(encoded)
	if err != nil {
		t.Fatal(err)
	}

	reencoded, err := Marshal(decoded)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(encoded, reencoded) {
		t.Errorf("round trip not stable:\n  first:  %x\n  second: %x", encoded, reencoded)
	}
}

func TestIsCanonicalRejectsOutOfOrderKeys(t *testing.T) {
	// d1:zi1e1:ai2ee -- "z" before "a", not canonical.
	data := []byte("d1:zi1e1:ai2ee")
	if IsCanonical(data) {
		t.Error("expected out-of-order dict to be non-canonical")
	}
}

func TestIsCanonicalAcceptsSortedKeys(t *testing.T) {
	data := []byte("d1:ai2e1:zi1ee")
	if !IsCanonical(data) {
		t.Error("expected sorted dict to be canonical")
	}
}

func TestDecodeRejectsDuplicateKeys(t *testing.T) {
	data := []byte("d1:ai1e1:ai2ee")
	if _, err := Unmarshal(data); err == nil {
		t.Error("expected error decoding dict with duplicate keys")
	}
}

func TestDecodeEmptyDictAndList(t *testing.T) {
	d, err := Unmarshal([]byte("de"))
	if err != nil {
		t.Fatal(err)
	}
	if dict, ok := d.(Dict); !ok || len(dict) != 0 {
		t.Errorf("expected empty Dict, got %#v", d)
	}

	l, err := Unmarshal([]byte("le"))
	if err != nil {
		t.Fatal(err)
	}
	if list, ok := l.(List); !ok || len(list) != 0 {
		t.Errorf("expected empty List, got %#v", l)
	}
}

func TestDecodeTruncatedInputErrors(t *testing.T) {
	cases := []string{"i42", "4:spa", "l4:spam", "d1:a"}
	for _, c := range cases {
		if _, err := Unmarshal([]byte(c)); err == nil {
			t.Errorf("expected error decoding truncated input %q", c)
		}
	}
}
