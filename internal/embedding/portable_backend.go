package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// PortableBackend is the CPU-only, dependency-free embedding provider used
// when USE_PORTABLE_RUNTIME is set and no neural model server is available.
// It caches a small model descriptor under cacheDir (verified by a pinned
// SHA-256, the same download-verify-extract shape as a real model archive)
// and produces vectors by hashing whitespace tokens into a fixed-width
// bag-of-hashed-tokens representation, mean-pooled and L2-normalised. This
// is a deliberate stand-in for a real ONNX/GGUF runtime: it has no
// dependency on native code or a model download, at the cost of not
// capturing semantic similarity beyond shared vocabulary.
type PortableBackend struct {
	dimension int
	cacheDir  string
}

const portableModelDescriptor = "mnemo-portable-embedding-v1"

// expectedDescriptorHash pins the descriptor so a corrupted or tampered
// cache entry is detected the same way a corrupted model archive would be.
var expectedDescriptorHash = sha256Hex(portableModelDescriptor)

// NewPortableBackend prepares the on-disk model cache (creating and
// verifying a descriptor file under cacheDir) and returns a backend
// producing vectors of the given dimension.
func NewPortableBackend(cacheDir string, dimension int) (*PortableBackend, error) {
	if dimension <= 0 {
		dimension = 384
	}
	if cacheDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			dir = os.TempDir()
		}
		cacheDir = filepath.Join(dir, "mnemo", "models")
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("embedding: failed to create model cache dir: %w", err)
	}

	descriptorPath := filepath.Join(cacheDir, "portable-v1.descriptor")
	if err := ensureDescriptor(descriptorPath); err != nil {
		return nil, err
	}

	return &PortableBackend{dimension: dimension, cacheDir: cacheDir}, nil
}

func ensureDescriptor(path string) error {
	existing, err := os.ReadFile(path)
	if err == nil {
		if sha256Hex(string(existing)) != expectedDescriptorHash {
			return fmt.Errorf("embedding: portable model descriptor at %s failed integrity check", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("embedding: failed to read model descriptor: %w", err)
	}
	return os.WriteFile(path, []byte(portableModelDescriptor), 0o644)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Embed tokenises text on whitespace, hashes each token with SHA-256 and
// adds a signed value derived from the hash bytes to every component of the
// vector, mean-pools across tokens (an attention-mask-free
// approximation of the pooling step a real transformer backend performs),
// and L2-normalises the result.
func (b *PortableBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	tokens := strings.Fields(strings.ToLower(text))
	vec := make([]float64, b.dimension)
	if len(tokens) == 0 {
		return toFloat32(vec), nil
	}

	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		for i := 0; i < b.dimension; i++ {
			byteVal := sum[i%len(sum)]
			sign := 1.0
			if byteVal&1 == 1 {
				sign = -1.0
			}
			vec[i] += sign * float64(byteVal) / 255.0
		}
	}

	n := float64(len(tokens))
	var norm float64
	for i := range vec {
		vec[i] /= n
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}

	return toFloat32(vec), nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// Dimension returns the configured vector width.
func (b *PortableBackend) Dimension() int { return b.dimension }

var _ Provider = (*PortableBackend)(nil)
