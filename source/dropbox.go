package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	dropboxAPIBase     = "https://api.dropboxapi.com"
	dropboxContentBase = "https://content.dropboxapi.com"
	dropboxAuthBase    = "https://api.dropbox.com"
)

type DropboxOptions struct {
	AppKey       string
	AppSecret    string
	RefreshToken string
	HTTPClient   *http.Client

	// overridable for tests
	APIBase     string
	ContentBase string
	AuthBase    string
}

// Dropbox lists the whole remote tree recursively each cycle; the provider
// has no usable delta feed for app folders. Folder entries do not carry a
// parent id, so the adapter resolves parents from path components, emitting
// synthesized folder entries for ancestors the feed never names explicitly.
type Dropbox struct {
	opts        DropboxOptions
	httpClient  *http.Client
	log         zerolog.Logger
	accessToken string
	pathIDs     map[string]string // path_lower -> external id
}

func NewDropbox(opts DropboxOptions, log zerolog.Logger) *Dropbox {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.APIBase == "" {
		opts.APIBase = dropboxAPIBase
	}
	if opts.ContentBase == "" {
		opts.ContentBase = dropboxContentBase
	}
	if opts.AuthBase == "" {
		opts.AuthBase = dropboxAuthBase
	}
	return &Dropbox{
		opts:       opts,
		httpClient: opts.HTTPClient,
		log:        log.With().Str("source", "dropbox").Logger(),
		pathIDs:    map[string]string{},
	}
}

func (d *Dropbox) Initialize(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {d.opts.RefreshToken},
		"client_id":     {d.opts.AppKey},
		"client_secret": {d.opts.AppSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.opts.AuthBase+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: refresh token: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: refresh token: status %d", ErrAuth, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	d.accessToken = body.AccessToken
	d.log.Info().Msg("access token refreshed")
	return nil
}

func (d *Dropbox) Incremental() bool { return false }

type dropboxEntry struct {
	Tag         string `json:".tag"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	PathLower   string `json:"path_lower"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
}

type dropboxListResponse struct {
	Entries []dropboxEntry `json:"entries"`
	Cursor  string         `json:"cursor"`
	HasMore bool           `json:"has_more"`
}

func (d *Dropbox) FetchChanges(ctx context.Context, fn func(ChangeEntry) error) error {
	d.pathIDs = map[string]string{}
	return withAuthRetry(ctx, d, func() error {
		cursor := ""
		for {
			var (
				endpoint string
				payload  any
			)
			if cursor == "" {
				endpoint = "/2/files/list_folder"
				payload = map[string]any{"path": "", "recursive": true, "include_deleted": false}
			} else {
				endpoint = "/2/files/list_folder/continue"
				payload = map[string]any{"cursor": cursor}
			}

			var page dropboxListResponse
			if err := d.postJSON(ctx, d.opts.APIBase+endpoint, payload, &page); err != nil {
				return err
			}
			d.log.Info().Int("entries", len(page.Entries)).Msg("fetched listing page")

			for _, entry := range page.Entries {
				if err := d.emit(entry, fn); err != nil {
					return err
				}
			}
			if !page.HasMore {
				return nil
			}
			cursor = page.Cursor
		}
	})
}

func (d *Dropbox) emit(entry dropboxEntry, fn func(ChangeEntry) error) error {
	kind := KindFile
	if entry.Tag == "folder" {
		kind = KindFolder
	}
	if skippable(entry.Name, entry.Size, kind) {
		return nil
	}

	parentID, err := d.ensureAncestors(path.Dir(entry.PathLower), fn)
	if err != nil {
		return err
	}

	if kind == KindFolder {
		// When a child preceded this entry in the feed the path already has a
		// synthesized id. Keep it, so this entry updates that folder instead
		// of creating a duplicate sibling.
		id := entry.ID
		if existing, ok := d.pathIDs[entry.PathLower]; ok {
			id = existing
		}
		d.pathIDs[entry.PathLower] = id
		return fn(ChangeEntry{
			Kind:             KindFolder,
			ExternalID:       id,
			ParentExternalID: parentID,
			Name:             entry.Name,
		})
	}
	return fn(ChangeEntry{
		Kind:             KindFile,
		ExternalID:       entry.ID,
		ParentExternalID: parentID,
		Name:             entry.Name,
		Checksum:         entry.ContentHash,
		Size:             entry.Size,
		MimeType:         mimeTypeByName(entry.Name),
	})
}

// ensureAncestors returns the external id of the folder at dirPath, emitting
// synthesized folder entries for any ancestor the feed has not listed yet.
func (d *Dropbox) ensureAncestors(dirPath string, fn func(ChangeEntry) error) (string, error) {
	if dirPath == "/" || dirPath == "." || dirPath == "" {
		return "", nil
	}
	if id, ok := d.pathIDs[dirPath]; ok {
		return id, nil
	}
	parentID, err := d.ensureAncestors(path.Dir(dirPath), fn)
	if err != nil {
		return "", err
	}
	id := "generated:" + dirPath
	d.pathIDs[dirPath] = id
	err = fn(ChangeEntry{
		Kind:             KindFolder,
		ExternalID:       id,
		ParentExternalID: parentID,
		Name:             path.Base(dirPath),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (d *Dropbox) FetchContent(ctx context.Context, externalID string) (string, error) {
	var contentPath string
	err := withAuthRetry(ctx, d, func() error {
		arg, err := json.Marshal(map[string]string{"path": externalID})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.opts.ContentBase+"/2/files/download", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+d.accessToken)
		req.Header.Set("Dropbox-API-Arg", string(arg))

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: download: %v", ErrFetch, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: download: status 401", ErrAuth)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: download: status %d", ErrFetch, resp.StatusCode)
		}

		tmp, err := tempFile("brandvault-dropbox-*")
		if err != nil {
			return err
		}
		if _, err := io.Copy(tmp, resp.Body); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("%w: download: %v", ErrFetch, err)
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		contentPath = tmp.Name()
		return nil
	})
	return contentPath, err
}

func (d *Dropbox) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+d.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: status 401", ErrAuth)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func mimeTypeByName(name string) string {
	if mt := mime.TypeByExtension(strings.ToLower(path.Ext(name))); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
