package api

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sort"
)

// ImagesField is the repeated multipart field carrying images.
const ImagesField = "images[]"

// Upload is a file picked in a form and not yet sent anywhere.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Payload is the multipart body of a create or update.
type Payload struct {
	Fields  map[string]string
	Images  []string // existing image paths to keep
	Uploads []Upload // new files
}

// NewPayload returns an empty payload.
func NewPayload() *Payload {
	return &Payload{Fields: make(map[string]string)}
}

// Set sets a plain form field (name, title, summary, content, child_nav_id, isFeatured).
func (p *Payload) Set(k, v string) *Payload {
	if p.Fields == nil {
		p.Fields = make(map[string]string)
	}
	p.Fields[k] = v
	return p
}

// Get returns a plain field.
func (p *Payload) Get(k string) string {
	return p.Fields[k]
}

// AddImage keeps an existing image path.
func (p *Payload) AddImage(path string) *Payload {
	p.Images = append(p.Images, path)
	return p
}

// AddUpload attaches a new file.
func (p *Payload) AddUpload(u Upload) *Payload {
	p.Uploads = append(p.Uploads, u)
	return p
}

// Encode writes the payload as multipart/form-data and returns the body and
// its content type.
func (p *Payload) Encode() (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, p.Fields[k]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	for _, img := range p.Images {
		if err := mw.WriteField(ImagesField, img); err != nil {
			return nil, "", fmt.Errorf("write image %s: %w", img, err)
		}
	}

	for _, u := range p.Uploads {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, ImagesField, u.Filename))
		ct := u.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", u.Filename, err)
		}
		if u.Body != nil {
			if _, err := io.Copy(w, u.Body); err != nil {
				return nil, "", fmt.Errorf("copy upload %s: %w", u.Filename, err)
			}
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
