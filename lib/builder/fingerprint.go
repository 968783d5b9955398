package builder

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/kilnhq/kiln/lib/recipe"
)

// Fingerprints chain a parent digest with a canonical encoding of the
// instruction. Copy instructions additionally fold in the digest of every
// referenced input file, so edited inputs invalidate the step and
// everything after it while earlier steps stay cached.

const fieldSep = "\x00"

// baseFingerprint identifies a materialized external base.
func baseFingerprint(ref string) digest.Digest {
	return digest.FromString("base" + fieldSep + ref)
}

// instructionFingerprint computes the cache key for applying ins on top of
// the parent snapshot. contextDir roots copy sources.
func instructionFingerprint(parent digest.Digest, ins recipe.Instruction, contextDir string) (digest.Digest, error) {
	var b strings.Builder
	b.WriteString(parent.String())
	b.WriteString(fieldSep)
	b.WriteString(string(ins.Kind()))
	b.WriteString(fieldSep)

	switch ins.Kind() {
	case recipe.KindEnv:
		b.WriteString(ins.Env.Key)
		b.WriteString(fieldSep)
		b.WriteString(ins.Env.Value)

	case recipe.KindRun:
		b.WriteString(ins.Run)

	case recipe.KindCopy:
		b.WriteString(ins.Copy.Src)
		b.WriteString(fieldSep)
		b.WriteString(ins.Copy.Dest)
		b.WriteString(fieldSep)
		inputs, err := digestInputs(contextDir, ins.Copy.Src)
		if err != nil {
			return "", err
		}
		b.WriteString(inputs)

	case recipe.KindExpose:
		b.WriteString(strconv.Itoa(ins.Expose))

	case recipe.KindHealthcheck:
		// Struct marshaling is deterministic; field order is fixed.
		enc, err := json.Marshal(ins.Healthcheck)
		if err != nil {
			return "", fmt.Errorf("encode healthcheck: %w", err)
		}
		b.Write(enc)

	case recipe.KindEntrypoint:
		b.WriteString(strings.Join(ins.Entrypoint, fieldSep))
	}

	return digest.FromString(b.String()), nil
}

// digestInputs returns a stable encoding of every file referenced by a
// copy source: the path relative to the source root plus a digest of the
// file contents. Directories are walked lexically so the encoding is
// deterministic.
func digestInputs(contextDir, src string) (string, error) {
	root, err := resolveContextPath(contextDir, src)
	if err != nil {
		return "", err
	}

	info, err := os.Lstat(root)
	if err != nil {
		return "", fmt.Errorf("stat copy source: %w", err)
	}

	var b strings.Builder
	if !info.IsDir() {
		d, err := digestFile(root)
		if err != nil {
			return "", err
		}
		b.WriteString(d.String())
		return b.String(), nil
	}

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		b.WriteString(rel)
		b.WriteString(fieldSep)
		if entry.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			b.WriteString(digest.FromString("link" + fieldSep + target).String())
		} else {
			d, err := digestFile(path)
			if err != nil {
				return err
			}
			b.WriteString(d.String())
		}
		b.WriteString(fieldSep)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash copy inputs: %w", err)
	}

	return b.String(), nil
}

func digestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	digester := digest.Canonical.Digester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return digester.Digest(), nil
}
