package wscore

import "testing"

func TestPermessageDeflateRoundTrip(t *testing.T) {
	var pd permessageDeflate
	original := []byte("the quick brown fox jumps over the lazy dog, repeated: " +
		"the quick brown fox jumps over the lazy dog")

	compressed, err := pd.CompressPayload(original)
	if err != nil {
		t.Fatalf("CompressPayload: %v", err)
	}
	if len(compressed) >= len(original) {
		t.Fatalf("compressed (%d bytes) should be smaller than original (%d bytes) for repetitive input", len(compressed), len(original))
	}

	decompressed, err := pd.DecompressPayload(compressed)
	if err != nil {
		t.Fatalf("DecompressPayload: %v", err)
	}
	if string(decompressed) != string(original) {
		t.Fatalf("round trip mismatch: got %q", decompressed)
	}
}

func TestPermessageDeflateEmptyPayload(t *testing.T) {
	var pd permessageDeflate
	compressed, err := pd.CompressPayload(nil)
	if err != nil {
		t.Fatalf("CompressPayload(nil): %v", err)
	}
	decompressed, err := pd.DecompressPayload(compressed)
	if err != nil {
		t.Fatalf("DecompressPayload: %v", err)
	}
	if len(decompressed) != 0 {
		t.Fatalf("expected empty round trip, got %q", decompressed)
	}
}
