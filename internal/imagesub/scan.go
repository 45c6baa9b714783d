package imagesub

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// occurrence is one <img src> value found in a document. start and end
// bound the attribute value (without quotes) in the original text.
type occurrence struct {
	raw   string // attribute value as written
	src   string // value with entities decoded
	start int
	end   int
}

// scanImages returns every img src in document order.
func scanImages(doc string) []occurrence {
	var out []occurrence
	z := html.NewTokenizer(strings.NewReader(doc))
	pos := 0
	for {
		tt := z.Next()
		raw := z.Raw()
		if tt == html.ErrorToken {
			return out
		}
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			if name, _ := z.TagName(); string(name) == "img" {
				if occ, ok := srcIn(raw, pos); ok {
					out = append(out, occ)
				}
			}
		}
		pos += len(raw)
	}
}

// srcIn walks the attributes of a raw start tag and returns the value span
// of the first one named src. Quoted values are skipped whole, so text that
// looks like an attribute inside another value never matches.
func srcIn(tag []byte, offset int) (occurrence, bool) {
	i := 1
	for i < len(tag) && !isTagSpace(tag[i]) && tag[i] != '/' && tag[i] != '>' {
		i++
	}
	for i < len(tag) {
		for i < len(tag) && (isTagSpace(tag[i]) || tag[i] == '/') {
			i++
		}
		if i >= len(tag) || tag[i] == '>' {
			break
		}

		nameStart := i
		i++
		for i < len(tag) && !isTagSpace(tag[i]) && tag[i] != '/' && tag[i] != '=' && tag[i] != '>' {
			i++
		}
		name := tag[nameStart:i]

		for i < len(tag) && isTagSpace(tag[i]) {
			i++
		}
		if i >= len(tag) || tag[i] != '=' {
			continue
		}
		i++
		for i < len(tag) && isTagSpace(tag[i]) {
			i++
		}

		var vs, ve int
		if i < len(tag) && (tag[i] == '"' || tag[i] == '\'') {
			vs = i + 1
			j := bytes.IndexByte(tag[vs:], tag[i])
			if j < 0 {
				ve, i = len(tag), len(tag)
			} else {
				ve, i = vs+j, vs+j+1
			}
		} else {
			vs = i
			for i < len(tag) && !isTagSpace(tag[i]) && tag[i] != '>' {
				i++
			}
			ve = i
		}

		if !bytes.EqualFold(name, []byte("src")) {
			continue
		}
		raw := string(tag[vs:ve])
		if strings.TrimSpace(raw) == "" {
			return occurrence{}, false
		}
		return occurrence{
			raw:   raw,
			src:   html.UnescapeString(raw),
			start: offset + vs,
			end:   offset + ve,
		}, true
	}
	return occurrence{}, false
}

func isTagSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
