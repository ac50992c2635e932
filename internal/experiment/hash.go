package experiment

import "unicode/utf16"

// BucketHashVersion identifies the bucketing hash algorithm. Any
// change to identityHash silently reshuffles every existing user's
// bucket, so the algorithm is frozen and versioned; a replacement must
// bump this and migrate stored assignments.
const BucketHashVersion = 1

// identityHash computes the 32-bit string hash used for bucket
// assignment: h = h*31 + codeUnit over the UTF-16 code units of the
// identity, with signed 32-bit wraparound. This matches the hash the
// service has used since the experiment launched; the exact overflow
// behavior is part of the contract.
func identityHash(id string) int32 {
	var h int32
	for _, cu := range utf16.Encode([]rune(id)) {
		h = h*31 + int32(cu)
	}
	return h
}

// bucketSlot maps an identity to a slot in [0,100). Computed in int64
// so the minimum int32 hash does not overflow on negation.
func bucketSlot(id string) int {
	h := int64(identityHash(id))
	if h < 0 {
		h = -h
	}
	return int(h % 100)
}

// BucketFor deterministically assigns an identity to a bucket given
// the percentage of users routed to bucket A.
func BucketFor(id string, splitRatio int) Bucket {
	if bucketSlot(id) < splitRatio {
		return BucketA
	}
	return BucketB
}
