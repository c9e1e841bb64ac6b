package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"bireport/internal/core"
)

// TextParser handles plain text and markdown, including Google Docs exported
// as text/plain.
type TextParser struct{}

func (TextParser) Parse(ctx context.Context, raw core.RawDocument) (core.ParsedDocument, error) {
	if !utf8.Valid(raw.Bytes) {
		return core.ParsedDocument{}, fmt.Errorf("%w: %s is not valid UTF-8", core.ErrParse, raw.Name)
	}
	text := strings.TrimPrefix(string(raw.Bytes), "\ufeff")
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	return core.ParsedDocument{
		Title:     firstLineTitle(text),
		Text:      text,
		OriginURI: raw.URI,
	}, nil
}

// DOCXParser reads the paragraphs of word/document.xml.
type DOCXParser struct{}

const maxDocumentXML = 64 << 20

func (DOCXParser) Parse(ctx context.Context, raw core.RawDocument) (core.ParsedDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw.Bytes), int64(len(raw.Bytes)))
	if err != nil {
		return core.ParsedDocument{}, fmt.Errorf("%w: %s: %w", core.ErrParse, raw.Name, err)
	}

	var body io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body, err = f.Open()
			if err != nil {
				return core.ParsedDocument{}, fmt.Errorf("%w: %s: %w", core.ErrParse, raw.Name, err)
			}
			break
		}
	}
	if body == nil {
		return core.ParsedDocument{}, fmt.Errorf("%w: %s has no word/document.xml", core.ErrParse, raw.Name)
	}
	defer body.Close()

	text, err := docxText(io.LimitReader(body, maxDocumentXML))
	if err != nil {
		return core.ParsedDocument{}, fmt.Errorf("%w: %s: %w", core.ErrParse, raw.Name, err)
	}
	return core.ParsedDocument{
		Title:      firstLineTitle(text),
		Text:       text,
		SourceType: core.SourceTypeDoc,
		OriginURI:  raw.URI,
	}, nil
}

// docxText concatenates w:t runs, one line per w:p paragraph.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var out, para strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if line := strings.TrimSpace(para.String()); line != "" {
					out.WriteString(line)
					out.WriteByte('\n')
				}
				para.Reset()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}
