// Package archive reads and writes the on-disk container format: a
// gzip-compressed tar stream holding the manifest, its detached
// signature, and one blob per manifest entry, named by the entry's
// declared name. Writers commit atomically (write to a temp file,
// fsync, rename) so a crash mid-write never leaves a partially-written
// archive where its final name is expected, per spec.md §4.5's
// failure-abort guarantee.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sort"

	"github.com/forestrie/go-verifiable-artifact/apperr"
)

// ManifestBlobName and SignatureBlobName are the two tar entry names
// every archive carries regardless of artifact_name.
const (
	ManifestBlobName  = "manifest"
	SignatureBlobName = "manifest.sig"
)

// Blob is one named byte payload read from, or destined for, an archive.
type Blob struct {
	Name string
	Data []byte
}

// Bundle is the in-memory staging area the save pipeline assembles
// before it is written with WriteTar or WriteFile, and the load
// pipeline's view after reading with ReadTar or ReadFile.
type Bundle struct {
	Manifest  []byte
	Signature []byte
	Entries   []Blob
}

// EntryData returns the payload of the named entry blob.
func (b *Bundle) EntryData(name string) ([]byte, bool) {
	for _, e := range b.Entries {
		if e.Name == name {
			return e.Data, true
		}
	}
	return nil, false
}

// WriteTar serializes bundle as a gzip-compressed tar stream to w.
// Entries are written in a stable, sorted order so two writes of the
// same logical bundle produce byte-identical tars (modulo gzip's own
// timestamp field, which we leave zeroed).
func WriteTar(w io.Writer, bundle *Bundle) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	if err := writeTarEntry(tw, ManifestBlobName, bundle.Manifest); err != nil {
		return err
	}
	if err := writeTarEntry(tw, SignatureBlobName, bundle.Signature); err != nil {
		return err
	}

	sorted := append([]Blob(nil), bundle.Entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, e := range sorted {
		if err := writeTarEntry(tw, e.Name, e.Data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("%w: closing archive tar writer: %v", apperr.IoError, err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("%w: closing archive gzip writer: %v", apperr.IoError, err)
	}
	return nil
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: writing archive header for %q: %v", apperr.IoError, name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("%w: writing archive entry %q: %v", apperr.IoError, name, err)
	}
	return nil
}

// ReadTar parses a gzip-compressed tar stream into a Bundle. It does not
// interpret or authenticate any entry; that is the load pipeline's job,
// performed strictly after the manifest signature check. A missing or
// truncated manifest.sig entry is deliberately not rejected here: it is
// left for the signature check to reject as apperr.SignatureError, so an
// archive tampered to drop its signature fails the same way one tampered
// to corrupt its signature does.
func ReadTar(r io.Reader) (*Bundle, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: opening archive gzip stream: %v", apperr.IoError, err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	bundle := &Bundle{}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading archive tar: %v", apperr.IoError, err)
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, fmt.Errorf("%w: reading archive entry %q: %v", apperr.IoError, hdr.Name, err)
		}

		switch hdr.Name {
		case ManifestBlobName:
			bundle.Manifest = buf.Bytes()
		case SignatureBlobName:
			bundle.Signature = buf.Bytes()
		default:
			bundle.Entries = append(bundle.Entries, Blob{Name: hdr.Name, Data: buf.Bytes()})
		}
	}

	if bundle.Manifest == nil {
		return nil, fmt.Errorf("%w: archive has no %q entry", apperr.IntegrityError, ManifestBlobName)
	}

	return bundle, nil
}
