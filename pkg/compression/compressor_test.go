package compression

import (
	"bytes"
	"testing"
)

func TestCompressorRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"root_method":"PooledBuffer.allocate","path":"A.alloc -> B.use"}`+"\n"), 200)

	for _, alg := range []string{"none", "gzip", "snappy", "lz4", "zstd"} {
		c, err := New(alg)
		if err != nil {
			t.Fatalf("%s: New failed: %v", alg, err)
		}

		compressed, err := c.Compress(payload)
		if err != nil {
			t.Fatalf("%s: Compress failed: %v", alg, err)
		}
		if alg != "none" && len(compressed) >= len(payload) {
			t.Errorf("%s: repetitive payload did not shrink (%d -> %d)", alg, len(payload), len(compressed))
		}

		restored, err := c.Decompress(compressed)
		if err != nil {
			t.Fatalf("%s: Decompress failed: %v", alg, err)
		}
		if !bytes.Equal(restored, payload) {
			t.Errorf("%s: round trip diverged", alg)
		}
	}
}

func TestCompressorRejectsUnknownAlgorithm(t *testing.T) {
	if _, err := New("brotli"); err == nil {
		t.Error("Expected an error for an unsupported algorithm")
	}
}

func TestCompressorExtensions(t *testing.T) {
	cases := map[string]string{
		"none": "", "gzip": ".gz", "snappy": ".sz", "lz4": ".lz4", "zstd": ".zst",
	}
	for alg, ext := range cases {
		c, err := New(alg)
		if err != nil {
			t.Fatalf("%s: New failed: %v", alg, err)
		}
		if c.Ext() != ext {
			t.Errorf("%s: expected extension %q, got %q", alg, ext, c.Ext())
		}
	}
}
