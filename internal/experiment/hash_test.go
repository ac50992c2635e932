package experiment

import "testing"

// Frozen test vectors: these values must never change, or every
// existing user's bucket reshuffles.
func TestIdentityHash_Vectors(t *testing.T) {
	tests := []struct {
		id   string
		want int32
	}{
		{"", 0},
		{"U1", 2684},
		{"abc", 96354},
		{"hello", 99162322},
		{"Hello World", -862545276},
		{"user-0001", 291268803},
		{"お焚き上げ", -593252219},
		{"リセット", 385430838},
		{"Uaaaabbbbccccddddeeee", -1133541483},
	}

	for _, tt := range tests {
		if got := identityHash(tt.id); got != tt.want {
			t.Errorf("identityHash(%q) = %d, want %d", tt.id, got, tt.want)
		}
	}
}

func TestBucketFor(t *testing.T) {
	tests := []struct {
		id    string
		split int
		want  Bucket
	}{
		{"hello", 50, BucketA},       // slot 22
		{"U1", 50, BucketB},          // slot 84
		{"Hello World", 50, BucketB}, // negative hash, slot 76
		{"Hello World", 80, BucketA},
		{"", 50, BucketA}, // slot 0
		{"alice", 50, BucketA},
		{"dave", 50, BucketB},
	}

	for _, tt := range tests {
		if got := BucketFor(tt.id, tt.split); got != tt.want {
			t.Errorf("BucketFor(%q, %d) = %v, want %v", tt.id, tt.split, got, tt.want)
		}
	}
}

func TestBucketFor_Deterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		if got := BucketFor("Uaaaabbbbccccddddeeee", 50); got != BucketB {
			t.Fatalf("call %d: bucket = %v, want B", i, got)
		}
	}
}

func TestBucketFor_SplitBoundaries(t *testing.T) {
	// slot("frank") == 50: strictly-less comparison puts it in B at
	// split 50 and in A at split 51.
	if got := BucketFor("frank", 50); got != BucketB {
		t.Errorf("split 50: bucket = %v, want B", got)
	}
	if got := BucketFor("frank", 51); got != BucketA {
		t.Errorf("split 51: bucket = %v, want A", got)
	}
}
