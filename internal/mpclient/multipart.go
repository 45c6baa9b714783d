package mpclient

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// multipartFile encodes data as the single file part of a form. The
// boundary is regenerated if it happens to occur inside data.
func multipartFile(field, filename, contentType string, data []byte) (*bytes.Buffer, string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if bytes.Contains(data, []byte(w.Boundary())) {
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("mpclient: create part: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", fmt.Errorf("mpclient: write part: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("mpclient: close multipart: %w", err)
		}
		return &buf, w.FormDataContentType(), nil
	}
	return nil, "", errors.New("mpclient: could not pick a multipart boundary")
}
