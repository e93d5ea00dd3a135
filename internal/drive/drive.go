// Package drive lists and downloads images from Google Drive on behalf of a
// user's access token.
package drive

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/kozaktomas/facescan/internal/constants"
	"github.com/kozaktomas/facescan/internal/scan"
)

const (
	imageQuery = "'%s' in parents and mimeType contains 'image/' and trashed = false"
	listFields = "nextPageToken, files(id, name)"
)

var (
	folderPathPattern  = regexp.MustCompile(`folders/([a-zA-Z0-9-_]+)`)
	folderQueryPattern = regexp.MustCompile(`id=([a-zA-Z0-9-_]+)`)
)

// ExtractFolderID pulls the folder ID out of a Drive link.
func ExtractFolderID(link string) (string, error) {
	if m := folderPathPattern.FindStringSubmatch(link); m != nil {
		return m[1], nil
	}
	if m := folderQueryPattern.FindStringSubmatch(link); m != nil {
		return m[1], nil
	}
	return "", scan.Invalid("Could not extract a valid Google Drive folder ID from the provided link: %q", link)
}

// Options configures the client.
type Options struct {
	// Endpoint overrides the Drive API base URL. Empty uses Google's.
	Endpoint        string
	ConnectTimeout  time.Duration
	DownloadTimeout time.Duration
	PageSize        int64
	// MaxDownloadBytes caps a single download. Zero means unlimited.
	MaxDownloadBytes int64
}

// Client talks to the Drive v3 API. It is safe for concurrent use; every
// call builds a service bound to the caller's token.
type Client struct {
	transport http.RoundTripper
	opts      Options
}

// New creates a client.
func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 120 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = constants.DrivePageSize
	}
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = opts.ConnectTimeout
	return &Client{transport: transport, opts: opts}
}

func (c *Client) service(ctx context.Context, token string) (*drive.Service, error) {
	hc := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.transport,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.opts.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.opts.Endpoint))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return svc, nil
}

// ListImages returns every non-trashed image directly inside the folder the
// link points to, following pagination.
func (c *Client) ListImages(ctx context.Context, folderRef, token string) ([]scan.File, error) {
	folderID, err := ExtractFolderID(folderRef)
	if err != nil {
		return nil, err
	}
	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	var files []scan.File
	call := svc.Files.List().
		Q(fmt.Sprintf(imageQuery, folderID)).
		PageSize(c.opts.PageSize).
		Fields(listFields).
		Context(ctx)
	err = call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			files = append(files, scan.File{ID: f.Id, Name: f.Name})
		}
		return nil
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	return files, nil
}

// Download reads a file's bytes within the download timeout.
func (c *Client) Download(ctx context.Context, fileID, token string) ([]byte, error) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.DownloadTimeout)
	defer cancel()

	body, _, err := c.Open(dctx, fileID, token)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer body.Close()

	var r io.Reader = body
	if c.opts.MaxDownloadBytes > 0 {
		r = io.LimitReader(body, c.opts.MaxDownloadBytes)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return data, nil
}

// Open streams a file. The caller closes the body.
func (c *Client) Open(ctx context.Context, fileID, token string) (io.ReadCloser, string, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, "", err
	}
	resp, err := svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, "", classify(ctx, err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = constants.DefaultImageContentType
	}
	return resp.Body, contentType, nil
}
