package preview

import (
	"encoding/base64"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"

	"pkt.systems/sandview/schema"
)

var minifier = minify.New()

func init() {
	minifier.AddFunc("text/css", css.Minify)
	minifier.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
}

// GenerateStatic renders the tree's static entry into one self-contained
// HTML document. Same-origin relative stylesheet and script references that
// resolve inside the tree are inlined as minified data URLs; anything else
// is left untouched.
func GenerateStatic(tree schema.VirtualFileTree) ([]byte, error) {
	entry, ok := StaticEntry(tree)
	if !ok {
		return nil, schema.ErrUnsupportedProject
	}
	markup, _ := tree.FileContent(entry)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", entry, err)
	}
	baseDir := path.Dir(entry)

	doc.Find("link[rel='stylesheet'][href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		content, ok := resolveRef(tree, baseDir, href)
		if !ok {
			return
		}
		s.SetAttr("href", dataURL("text/css", content))
	})
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		content, ok := resolveRef(tree, baseDir, src)
		if !ok {
			return
		}
		s.SetAttr("src", dataURL("text/javascript", content))
	})

	html, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", entry, err)
	}
	return []byte(html), nil
}

// resolveRef maps a reference to tree content. External and unresolvable
// references return ok=false so the caller leaves them alone.
func resolveRef(tree schema.VirtualFileTree, baseDir, ref string) (string, bool) {
	if ref == "" || strings.Contains(ref, "://") || strings.HasPrefix(ref, "//") || strings.HasPrefix(ref, "data:") {
		return "", false
	}
	ref = strings.SplitN(ref, "?", 2)[0]
	ref = strings.SplitN(ref, "#", 2)[0]
	var rel string
	if strings.HasPrefix(ref, "/") {
		rel = strings.TrimPrefix(ref, "/")
	} else {
		rel = path.Join(baseDir, ref)
	}
	if strings.HasPrefix(rel, "..") {
		return "", false
	}
	return tree.FileContent(rel)
}

// dataURL base64-encodes content as a data URL, minified when the minifier
// knows the media type.
func dataURL(mediaType, content string) string {
	if out, err := minifier.String(mediaType, content); err == nil {
		content = out
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString([]byte(content))
}
