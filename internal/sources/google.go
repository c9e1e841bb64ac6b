package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"bireport/internal/core"
	"bireport/internal/logger"
	"bireport/internal/parser"

	"github.com/rs/zerolog"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Google MIME types handled by the Drive extractors.
const (
	MimeTypePDF       = "application/pdf"
	MimeTypeGoogleDoc = "application/vnd.google-apps.document"
	MimeTypeFolder    = "application/vnd.google-apps.folder"
	ExportMimeText    = "text/plain"
)

// MaxDownloadSize bounds a single Drive download.
const MaxDownloadSize = 50 << 20

// GoogleServices bundles the Drive and Docs clients.
type GoogleServices struct {
	Drive *drive.Service
	Docs  *docs.Service
}

// NewGoogleServices creates Drive and Docs clients. With a credentials file
// the service account in it is used; extra options (endpoint, HTTP client)
// are passed through.
func NewGoogleServices(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*GoogleServices, error) {
	if credentialsFile != "" {
		opts = append([]option.ClientOption{
			option.WithCredentialsFile(credentialsFile),
			option.WithScopes(drive.DriveScope, docs.DocumentsReadonlyScope),
		}, opts...)
	}

	driveSvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	docsSvc, err := docs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create docs service: %w", err)
	}
	return &GoogleServices{Drive: driveSvc, Docs: docsSvc}, nil
}

// classifyGoogleError maps googleapi errors onto the service error taxonomy.
func classifyGoogleError(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return core.NewServiceError(op, gerr.Code, fmt.Errorf("%w: %w", core.ErrSourceUnavailable, err))
	}
	return core.NewServiceError(op, 0, fmt.Errorf("%w: %w", core.ErrSourceUnavailable, err))
}

// DriveFolderExtractor downloads the PDFs (and Google Docs as text) in a
// Drive folder. The ref is the folder ID.
type DriveFolderExtractor struct {
	svc *drive.Service
	log zerolog.Logger
}

func NewDriveFolderExtractor(svc *drive.Service) *DriveFolderExtractor {
	return &DriveFolderExtractor{svc: svc, log: logger.Component("drive")}
}

func (e *DriveFolderExtractor) Name() string { return "drive" }

func (e *DriveFolderExtractor) ListDocuments(ctx context.Context, folderID string) ([]core.RawDocument, error) {
	if strings.TrimSpace(folderID) == "" {
		return nil, fmt.Errorf("%w: drive folder id is empty", core.ErrSourceUnavailable)
	}

	files, err := e.listFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("folder", folderID).Int("files", len(files)).Msg("listed drive folder")

	var out []core.RawDocument
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := e.download(ctx, f)
		if err != nil {
			if core.IsTransient(err) {
				return nil, err
			}
			e.log.Warn().Err(err).Str("file", f.Name).Msg("skipping drive file")
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (e *DriveFolderExtractor) listFolder(ctx context.Context, folderID string) ([]*drive.File, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false and (mimeType = '%s' or mimeType = '%s')",
		strings.ReplaceAll(folderID, "'", `\'`), MimeTypePDF, MimeTypeGoogleDoc)

	var files []*drive.File
	pageToken := ""
	for {
		call := e.svc.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, mimeType, webViewLink, modifiedTime, size)").
			OrderBy("name").
			PageSize(100).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, classifyGoogleError("drive_list", err)
		}
		files = append(files, list.Files...)
		if list.NextPageToken == "" {
			return files, nil
		}
		pageToken = list.NextPageToken
	}
}

func (e *DriveFolderExtractor) download(ctx context.Context, f *drive.File) (core.RawDocument, error) {
	doc := core.RawDocument{
		Name: f.Name,
		URI:  f.WebViewLink,
	}
	if doc.URI == "" {
		doc.URI = "gdrive://files/" + f.Id
	}

	var body io.ReadCloser
	switch f.MimeType {
	case MimeTypeGoogleDoc:
		resp, err := e.svc.Files.Export(f.Id, ExportMimeText).Context(ctx).Download()
		if err != nil {
			return core.RawDocument{}, classifyGoogleError("drive_export", err)
		}
		body = resp.Body
		doc.ContentType = ExportMimeText
		doc.SourceType = core.SourceTypeDoc
	case MimeTypePDF:
		if f.Size > MaxDownloadSize {
			return core.RawDocument{}, fmt.Errorf("%w: %s is %d bytes", core.ErrSourceUnavailable, f.Name, f.Size)
		}
		resp, err := e.svc.Files.Get(f.Id).SupportsAllDrives(true).Context(ctx).Download()
		if err != nil {
			return core.RawDocument{}, classifyGoogleError("drive_download", err)
		}
		body = resp.Body
		doc.ContentType = MimeTypePDF
		doc.SourceType = core.SourceTypePDF
	default:
		return core.RawDocument{}, fmt.Errorf("%w: %s (%s)", core.ErrUnsupportedFormat, f.Name, f.MimeType)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, MaxDownloadSize))
	if err != nil {
		return core.RawDocument{}, classifyGoogleError("drive_read", err)
	}
	doc.Bytes = data
	return doc, nil
}

// DocLinksExtractor reads a Google Doc that lists article links and fetches
// each one. Links to other Google Docs are exported through Drive instead of
// scraped. The ref is the document ID or its URL.
type DocLinksExtractor struct {
	docs    *docs.Service
	drive   *drive.Service
	fetcher *Fetcher
	log     zerolog.Logger
}

func NewDocLinksExtractor(services *GoogleServices, fetcher *Fetcher) *DocLinksExtractor {
	return &DocLinksExtractor{
		docs:    services.Docs,
		drive:   services.Drive,
		fetcher: fetcher,
		log:     logger.Component("gdoc_links"),
	}
}

func (e *DocLinksExtractor) Name() string { return "gdoc_links" }

func (e *DocLinksExtractor) ListDocuments(ctx context.Context, ref string) ([]core.RawDocument, error) {
	docID := strings.TrimSpace(ref)
	if id, ok := parser.GoogleDocID(docID); ok {
		docID = id
	}
	if docID == "" {
		return nil, fmt.Errorf("%w: link document id is empty", core.ErrSourceUnavailable)
	}

	links, err := e.Links(ctx, docID)
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("document", docID).Int("links", len(links)).Msg("read link document")
	if len(links) == 0 {
		return nil, nil
	}

	var webLinks []string
	var out []core.RawDocument
	for _, link := range links {
		id, ok := parser.GoogleDocID(link)
		if !ok {
			webLinks = append(webLinks, link)
			continue
		}
		doc, err := e.exportDoc(ctx, id, link)
		if err != nil {
			e.log.Warn().Err(err).Str("url", link).Msg("skipping linked google doc")
			continue
		}
		out = append(out, doc)
	}

	if len(webLinks) > 0 {
		fetched, err := e.fetcher.FetchAll(ctx, webLinks)
		if err != nil && len(out) == 0 {
			return nil, err
		}
		out = append(out, fetched...)
	}
	return out, nil
}

// Links returns the links in a Google Doc: hyperlinks first, then URLs that
// appear in the text, deduplicated.
func (e *DocLinksExtractor) Links(ctx context.Context, docID string) ([]string, error) {
	document, err := e.docs.Documents.Get(docID).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleError("docs_get", err)
	}

	var text strings.Builder
	var hyperlinks []string
	if document.Body != nil {
		for _, el := range document.Body.Content {
			if el.Paragraph == nil {
				continue
			}
			for _, pe := range el.Paragraph.Elements {
				if pe.TextRun == nil {
					continue
				}
				text.WriteString(pe.TextRun.Content)
				if ts := pe.TextRun.TextStyle; ts != nil && ts.Link != nil && ts.Link.Url != "" {
					hyperlinks = append(hyperlinks, ts.Link.Url)
				}
			}
		}
	}

	return parser.ExtractLinks(strings.Join(hyperlinks, "\n") + "\n" + text.String()), nil
}

func (e *DocLinksExtractor) exportDoc(ctx context.Context, id, link string) (core.RawDocument, error) {
	resp, err := e.drive.Files.Export(id, ExportMimeText).Context(ctx).Download()
	if err != nil {
		return core.RawDocument{}, classifyGoogleError("drive_export", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize))
	if err != nil {
		return core.RawDocument{}, classifyGoogleError("drive_read", err)
	}
	return core.RawDocument{
		Name:        "Google Doc " + id,
		URI:         link,
		ContentType: ExportMimeText,
		SourceType:  core.SourceTypeDoc,
		Bytes:       data,
	}, nil
}
