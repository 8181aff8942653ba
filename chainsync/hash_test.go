package chainsync

import "testing"

func TestContentHash_KeyOrderIndependent(t *testing.T) {
	a := []byte(`{"amount":500000,"buyer":"buyer-1","nested":{"z":1,"a":2}}`)
	b := []byte(`{
		"nested": {"a": 2, "z": 1},
		"buyer": "buyer-1",
		"amount": 500000
	}`)

	hashA, err := ContentHash(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hashB, err := ContentHash(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("hashes differ: %s vs %s", hashA, hashB)
	}
}

func TestContentHash_DetectsChange(t *testing.T) {
	base, err := ContentHash([]byte(`{"amount":500000}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	changed, err := ContentHash([]byte(`{"amount":500001}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if base == changed {
		t.Fatal("different payloads hashed identically")
	}
}

func TestContentHash_RejectsInvalidJSON(t *testing.T) {
	if _, err := ContentHash([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestContentHash_ArraysAndNull(t *testing.T) {
	a, err := ContentHash([]byte(`{"tags":["x","y"],"ref":null,"ok":true}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := ContentHash([]byte(`{"ok":true,"ref":null,"tags":["x","y"]}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a != b {
		t.Fatal("equivalent payloads hashed differently")
	}

	reordered, err := ContentHash([]byte(`{"ok":true,"ref":null,"tags":["y","x"]}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a == reordered {
		t.Fatal("array order must be significant")
	}
}
