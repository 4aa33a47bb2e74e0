// Package bundle moves archived licenses between archives as a single
// deterministic TAR file, e.g. to hand a batch to an offline site.
//
// Layout:
//
//	licenses/<license-id>   token bytes
//	index.json              optional, non-authoritative
//
// The index lists every license with its size and may map labels (usually
// machine ids) to license ids.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/license/archive"
	"xdao.co/license/cidutil"
)

// FormatVersion is the current index schema version.
const FormatVersion = 1

const (
	licensesDir = "licenses/"
	indexName   = "index.json"
)

var epoch = time.Unix(0, 0).UTC()

type ExportOptions struct {
	// Labels maps names (e.g. machine ids) to license ids in the index.
	Labels map[string]cid.Cid
	// IncludeIndex controls whether index.json is written.
	IncludeIndex bool
}

// Export writes the licenses for ids, read from st, to w.
//
// Entries are sorted by license id and TAR headers are normalized, so equal
// inputs give identical bytes. Every token is checked against its id.
func Export(ctx context.Context, w io.Writer, st archive.Store, ids []cid.Cid, opts ExportOptions) (err error) {
	if st == nil {
		return errors.New("bundle: nil archive")
	}

	uniq := make(map[string]cid.Cid, len(ids))
	for _, id := range ids {
		if !id.Defined() {
			return archive.ErrInvalidID
		}
		uniq[id.String()] = id
	}
	names := make([]string, 0, len(uniq))
	for s := range uniq {
		names = append(names, s)
	}
	sort.Strings(names)

	tw := tar.NewWriter(w)
	defer func() {
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
	}()

	idx := index{Version: FormatVersion, Codec: "raw", Multihash: "sha2-256"}
	for _, s := range names {
		id := uniq[s]
		b, err := st.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("bundle: get %s: %w", s, err)
		}
		if !cidutil.Matches(id, b) {
			return archive.ErrIDMismatch
		}
		if err := writeEntry(tw, licensesDir+s, b); err != nil {
			return err
		}
		idx.Licenses = append(idx.Licenses, indexLicense{ID: s, Size: len(b)})
	}

	if !opts.IncludeIndex {
		return nil
	}
	labels := make([]string, 0, len(opts.Labels))
	for k := range opts.Labels {
		if k == "" {
			return errors.New("bundle: empty label")
		}
		labels = append(labels, k)
	}
	sort.Strings(labels)
	for _, k := range labels {
		id := opts.Labels[k]
		if _, ok := uniq[id.String()]; !ok || !id.Defined() {
			return fmt.Errorf("bundle: label %q points outside the bundle", k)
		}
		idx.Labels = append(idx.Labels, indexLabel{Name: k, ID: id.String()})
	}
	b, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return writeEntry(tw, indexName, append(b, '\n'))
}

type ImportOptions struct {
	// IgnoreUnknown skips unknown entries instead of failing.
	IgnoreUnknown bool
}

// Import reads a bundle from r into st and returns the imported license ids
// in bundle order. Each token must match both its entry name and the id
// returned by st.
func Import(ctx context.Context, r io.Reader, st archive.Store, opts ImportOptions) ([]cid.Cid, error) {
	if st == nil {
		return nil, errors.New("bundle: nil archive")
	}

	var imported []cid.Cid
	seen := map[string]struct{}{}
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return imported, nil
		}
		if err != nil {
			return imported, err
		}
		name := cleanPath(h.Name)
		if name == "" {
			return imported, fmt.Errorf("bundle: invalid entry path %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return imported, fmt.Errorf("bundle: unexpected entry type %v (%s)", h.Typeflag, name)
		}
		if name == indexName {
			continue
		}
		s, ok := strings.CutPrefix(name, licensesDir)
		if !ok {
			if opts.IgnoreUnknown {
				continue
			}
			return imported, fmt.Errorf("bundle: unknown entry %s", name)
		}

		id, err := cidutil.ParseLicenseID(s)
		if err != nil {
			return imported, archive.ErrInvalidID
		}
		if _, dup := seen[id.String()]; dup {
			return imported, fmt.Errorf("bundle: duplicate entry %s", s)
		}
		seen[id.String()] = struct{}{}

		token, err := io.ReadAll(tr)
		if err != nil {
			return imported, err
		}
		if !cidutil.Matches(id, token) {
			return imported, archive.ErrIDMismatch
		}
		got, err := st.Put(ctx, token)
		if err != nil {
			return imported, err
		}
		if !got.Equals(id) {
			return imported, archive.ErrIDMismatch
		}
		imported = append(imported, id)
	}
}

// ReadIndex returns the labels recorded in a bundle's index, or nil if the
// bundle has none.
func ReadIndex(r io.Reader) (map[string]cid.Cid, error) {
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if cleanPath(h.Name) != indexName {
			continue
		}
		var idx index
		if err := json.NewDecoder(tr).Decode(&idx); err != nil {
			return nil, fmt.Errorf("bundle: index: %w", err)
		}
		if idx.Version != FormatVersion {
			return nil, fmt.Errorf("bundle: unsupported index version %d", idx.Version)
		}
		labels := make(map[string]cid.Cid, len(idx.Labels))
		for _, l := range idx.Labels {
			id, err := cidutil.ParseLicenseID(l.ID)
			if err != nil {
				return nil, fmt.Errorf("bundle: label %q: %w", l.Name, err)
			}
			labels[l.Name] = id
		}
		return labels, nil
	}
}

type index struct {
	Version   int            `json:"version"`
	Codec     string         `json:"codec"`
	Multihash string         `json:"multihash"`
	Licenses  []indexLicense `json:"licenses"`
	Labels    []indexLabel   `json:"labels,omitempty"`
}

type indexLicense struct {
	ID   string `json:"id"`
	Size int    `json:"size"`
}

type indexLabel struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

func writeEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

// cleanPath normalizes an entry name and rejects anything that could escape
// the bundle root.
func cleanPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
