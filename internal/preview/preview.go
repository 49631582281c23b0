// Package preview serves the local report mirror over HTTP, rendering the
// markdown documents so a published day can be checked before or after the
// remote push.
package preview

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
)

var md = goldmark.New()

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.6; }
a { color: #0969da; text-decoration: none; }
blockquote { border-left: 3px solid #d0d7de; margin-left: 0; padding-left: 1rem; color: #57606a; }
code { background: #f6f8fa; padding: 0.1rem 0.3rem; border-radius: 4px; }
hr { border: none; border-top: 1px solid #d0d7de; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>`

// Server renders the report mirror directory.
type Server struct {
	dir  string
	mux  *http.ServeMux
	page *template.Template
}

// New creates a preview Server over the given mirror directory.
func New(dir string) (*Server, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("report directory not found: %s", dir)
	}

	page, err := template.New("page").Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing page template: %w", err)
	}

	s := &Server{dir: dir, mux: http.NewServeMux(), page: page}
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/view/", s.handleView)
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	var reports []string
	root := os.DirFS(s.dir)
	fs.WalkDir(root, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(p, ".md") {
			reports = append(reports, p)
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(reports)))

	var b strings.Builder
	b.WriteString("<h1>Reports</h1>\n<ul>\n")
	for _, p := range reports {
		escaped := template.HTMLEscapeString(p)
		fmt.Fprintf(&b, `<li><a href="/view/%s">%s</a></li>`+"\n", escaped, escaped)
	}
	b.WriteString("</ul>\n")

	s.render(w, "Reports", template.HTML(b.String()))
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/view/")
	rel = path.Clean(rel)
	if rel == "." || strings.HasPrefix(rel, "..") || !strings.HasSuffix(rel, ".md") {
		http.NotFound(w, r)
		return
	}

	raw, err := fs.ReadFile(os.DirFS(s.dir), rel)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	// Drop the front-matter block; it is publishing metadata, not content.
	content := stripFrontMatter(string(raw))

	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, rel, template.HTML(buf.String())) //nolint: gosec
}

func (s *Server) render(w http.ResponseWriter, title string, body template.HTML) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := s.page.Execute(w, map[string]any{"Title": title, "Body": body})
	if err != nil {
		slog.Error("rendering preview page", "error", err)
	}
}

func stripFrontMatter(text string) string {
	if !strings.HasPrefix(text, "---") {
		return text
	}
	rest := text[3:]
	if idx := strings.Index(rest, "\n---"); idx >= 0 {
		after := rest[idx+4:]
		return strings.TrimLeft(after, "\r\n")
	}
	return text
}

// Serve starts the preview server on the given port.
func Serve(dir string, port int) error {
	srv, err := New(dir)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	slog.Info("preview server listening", "addr", "http://"+addr)
	return http.ListenAndServe(addr, srv.Handler())
}
