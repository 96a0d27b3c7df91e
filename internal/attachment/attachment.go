// Package attachment classifies Slack file attachments and extracts text
// from PDF status reports.
package attachment

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Kind is the content class of an attachment.
type Kind int

const (
	KindOther Kind = iota
	KindAudio
	KindPDF
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindPDF:
		return "pdf"
	default:
		return "other"
	}
}

// File is the subset of a Slack file object the bot reads.
type File struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Mimetype           string `json:"mimetype"`
	Filetype           string `json:"filetype"`
	Subtype            string `json:"subtype"`
	URLPrivateDownload string `json:"url_private_download"`
}

var audioFiletypes = map[string]bool{
	"m4a": true, "mp3": true, "wav": true, "ogg": true,
	"webm": true, "aac": true, "flac": true,
}

// Classify returns the Kind of f.
func Classify(f File) Kind {
	mt := strings.ToLower(f.Mimetype)
	ft := strings.ToLower(f.Filetype)
	switch {
	case strings.HasPrefix(mt, "audio/"), f.Subtype == "slack_audio", audioFiletypes[ft]:
		return KindAudio
	case mt == "application/pdf", ft == "pdf":
		return KindPDF
	}
	return KindOther
}

// Extension returns the file extension to use for a local copy of f,
// including the leading dot.
func Extension(f File) string {
	if ext := filepath.Ext(f.Name); ext != "" {
		return strings.ToLower(ext)
	}
	if f.Filetype != "" {
		return "." + strings.ToLower(f.Filetype)
	}
	if Classify(f) == KindAudio {
		return ".m4a"
	}
	return ".bin"
}

// ExtractPDFText returns the plain text of every page of the PDF at path.
func ExtractPDFText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf %s: %v", filepath.Base(path), r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
