package artifacts

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	nodePtrJSON    = `{"contractName":"NodePtr","abi":[],"bytecode":"0x60806040","deployedBytecode":"0x6080"}`
	asn1DecodeJSON = `{"contractName":"Asn1Decode","abi":[],"bytecode":"0x6080__NodePtr_______________________________6000","deployedBytecode":"0x"}`
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDir(t *testing.T) {
	t.Run("truffle layout", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "NodePtr.json"), nodePtrJSON)
		writeFile(t, filepath.Join(dir, "Asn1Decode.json"), asn1DecodeJSON)
		writeFile(t, filepath.Join(dir, "IAbi.json"), `[{"type":"function","name":"f"}]`)
		writeFile(t, filepath.Join(dir, "build-info", "abc.json"), `{"abi":[],"bytecode":"0x00","contractName":"Ghost"}`)
		writeFile(t, filepath.Join(dir, "NodePtr.dbg.json"), `{"_format":"hh-sol-dbg-1"}`)
		writeFile(t, filepath.Join(dir, "README.md"), "not json")

		reg, err := LoadDir(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"Asn1Decode", "NodePtr"}, reg.Names())
		assert.Equal(t, dir, reg.Source())

		a, err := reg.Resolve("Asn1Decode")
		require.NoError(t, err)
		assert.Equal(t, []string{"NodePtr"}, a.UnresolvedLibraries())
	})

	t.Run("foundry layout", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "NodePtr.sol", "NodePtr.json"),
			`{"abi":[],"bytecode":{"object":"0x6080","linkReferences":{}}}`)

		reg, err := LoadDir(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"NodePtr"}, reg.Names())
	})

	t.Run("duplicate names", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a", "NodePtr.json"), nodePtrJSON)
		writeFile(t, filepath.Join(dir, "b", "NodePtr.json"), nodePtrJSON)

		_, err := LoadDir(dir)
		assert.ErrorContains(t, err, "duplicate artifact")
	})

	t.Run("missing dir", func(t *testing.T) {
		_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})
}

func TestRegistry_Resolve(t *testing.T) {
	a, _, err := ParseArtifact([]byte(asn1DecodeJSON), "")
	require.NoError(t, err)
	reg, err := NewRegistry("memory", a)
	require.NoError(t, err)

	t.Run("unknown name", func(t *testing.T) {
		_, err := reg.Resolve("Missing")
		assert.ErrorIs(t, err, ErrArtifactNotFound)
	})

	t.Run("each resolve is a fresh copy", func(t *testing.T) {
		first, err := reg.Resolve("Asn1Decode")
		require.NoError(t, err)
		require.NoError(t, first.Link("NodePtr", libAddr))
		assert.True(t, first.IsLinked())

		second, err := reg.Resolve("Asn1Decode")
		require.NoError(t, err)
		assert.False(t, second.IsLinked())
	})
}

func TestNewRegistry_Duplicates(t *testing.T) {
	a := &Artifact{ContractName: "NodePtr"}
	_, err := NewRegistry("memory", a, a.Clone())
	assert.Error(t, err)

	_, err = NewRegistry("memory", &Artifact{})
	assert.Error(t, err)
}

// buildBundle returns a zstd-compressed tar holding files.
func buildBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var out bytes.Buffer
	zw, err := zstd.NewWriter(&out)
	require.NoError(t, err)
	_, err = zw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return out.Bytes()
}

func TestLoadBundle(t *testing.T) {
	data := buildBundle(t, map[string]string{
		"build/contracts/NodePtr.json":    nodePtrJSON,
		"build/contracts/Asn1Decode.json": asn1DecodeJSON,
		"build/build-info/x.json":         `{"abi":[],"bytecode":"0x","contractName":"Ghost"}`,
	})
	path := filepath.Join(t.TempDir(), "artifacts.tzst")
	require.NoError(t, os.WriteFile(path, data, 0644))
	sum := fmt.Sprintf("%x", sha256.Sum256(data))

	t.Run("without checksum", func(t *testing.T) {
		reg, err := LoadBundle(path, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"Asn1Decode", "NodePtr"}, reg.Names())
	})

	t.Run("with matching checksum", func(t *testing.T) {
		reg, err := LoadBundle(path, "sha256:"+sum)
		require.NoError(t, err)
		assert.Len(t, reg.Names(), 2)
	})

	t.Run("with mismatching checksum", func(t *testing.T) {
		_, err := LoadBundle(path, "sha256:"+strings.Repeat("0", 64))
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("not a bundle", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.tzst")
		require.NoError(t, os.WriteFile(bad, []byte("plain text"), 0644))
		_, err := LoadBundle(bad, "")
		assert.Error(t, err)
	})
}

func TestFetchBundle(t *testing.T) {
	data := buildBundle(t, map[string]string{
		"NodePtr.json": nodePtrJSON,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/artifacts.tzst" {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	t.Run("downloads into cache dir", func(t *testing.T) {
		cache := t.TempDir()
		reg, err := FetchBundle(context.Background(), srv.URL+"/artifacts.tzst", cache, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"NodePtr"}, reg.Names())

		entries, err := os.ReadDir(cache)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, strings.HasSuffix(entries[0].Name(), ".tzst"))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := FetchBundle(context.Background(), srv.URL+"/missing.tzst", t.TempDir(), "")
		assert.ErrorContains(t, err, "status 404")
	})
}
