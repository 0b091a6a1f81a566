// Package static implements the "static" mount kind: a file tree inside the
// sub-app directory served as-is.
package static

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pitext/router/internal/plugin"
)

// Kind is the manifest name of this mount kind.
const Kind = "static"

func init() {
	plugin.Register(Kind, plugin.KindInfo{
		Description: "File tree served from the sub-app directory",
		Selectable:  true,
	}, New)
}

// New serves export.Root (relative to the app directory). Directories are
// never listed: one without an index.html does not exist as far as clients
// can tell. When export.Index is set, paths that do not name an existing file
// are answered with that file so client-side routes resolve.
func New(ns *plugin.Namespace, export plugin.Export) (http.Handler, error) {
	root := export.Root
	if root == "" {
		root = "."
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(ns.Dir(), root)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("static: root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static: root %s is not a directory", root)
	}

	fsys := noListingFS{os.DirFS(root)}
	if export.Index != "" {
		if _, err := fs.Stat(fsys, export.Index); err != nil {
			return nil, fmt.Errorf("static: index %s: %w", export.Index, err)
		}
	}

	strip := strings.TrimRight(export.StripPrefix, "/")
	files := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if strip != "" {
			if !strings.HasPrefix(p, strip) {
				http.NotFound(w, r)
				return
			}
			p = strings.TrimPrefix(p, strip)
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}

		if export.Index != "" && !exists(fsys, p) {
			http.ServeFileFS(w, r, fsys, export.Index)
			return
		}

		r2 := r.Clone(r.Context())
		r2.URL.Path = p
		r2.URL.RawPath = ""
		files.ServeHTTP(w, r2)
	}), nil
}

func exists(fsys fs.FS, urlPath string) bool {
	name := strings.TrimPrefix(path.Clean(urlPath), "/")
	if name == "" {
		name = "."
	}
	_, err := fs.Stat(fsys, name)
	return err == nil
}

// noListingFS hides directories that have no index.html, so http.FileServer
// answers 404 for them instead of rendering a listing.
type noListingFS struct {
	fsys fs.FS
}

func (n noListingFS) Open(name string) (fs.File, error) {
	f, err := n.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.IsDir() {
		return f, nil
	}
	if _, err := fs.Stat(n.fsys, path.Join(name, "index.html")); err != nil {
		f.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return f, nil
}
