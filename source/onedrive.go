package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	graphBase     = "https://graph.microsoft.com/v1.0"
	graphAuthBase = "https://login.microsoftonline.com"
)

type OneDriveOptions struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	User         string
	Drive        string
	HTTPClient   *http.Client

	// overridable for tests
	APIBase  string
	AuthBase string
}

// OneDrive consumes the Graph delta feed. The first pass walks the full tree;
// once a delta link has been handed back, subsequent passes are incremental
// and the sync core must not treat untouched rows as removed.
type OneDrive struct {
	opts        OneDriveOptions
	httpClient  *http.Client
	log         zerolog.Logger
	accessToken string
	deltaLink   string
}

func NewOneDrive(opts OneDriveOptions, log zerolog.Logger) *OneDrive {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.APIBase == "" {
		opts.APIBase = graphBase
	}
	if opts.AuthBase == "" {
		opts.AuthBase = graphAuthBase
	}
	return &OneDrive{
		opts:       opts,
		httpClient: opts.HTTPClient,
		log:        log.With().Str("source", "onedrive").Logger(),
	}
}

func (o *OneDrive) Initialize(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {o.opts.ClientID},
		"client_secret": {o.opts.ClientSecret},
		"scope":         {"https://graph.microsoft.com/.default"},
	}
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", o.opts.AuthBase, o.opts.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: token: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: token: status %d", ErrAuth, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	o.accessToken = body.AccessToken
	return nil
}

func (o *OneDrive) Incremental() bool { return o.deltaLink != "" }

type driveItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Size            int64  `json:"size"`
	ETag            string `json:"eTag"`
	ParentReference struct {
		ID string `json:"id"`
	} `json:"parentReference"`
	Root   *struct{} `json:"root"`
	Folder *struct{} `json:"folder"`
	File   *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
}

type driveDeltaPage struct {
	Value     []driveItem `json:"value"`
	NextLink  string      `json:"@odata.nextLink"`
	DeltaLink string      `json:"@odata.deltaLink"`
}

func (o *OneDrive) FetchChanges(ctx context.Context, fn func(ChangeEntry) error) error {
	return withAuthRetry(ctx, o, func() error {
		next := o.deltaLink
		if next == "" {
			next = fmt.Sprintf("%s/users/%s/drives/%s/root/delta", o.opts.APIBase, o.opts.User, o.opts.Drive)
		}
		// remember the root item id; its children report it as parent but
		// the core treats them as roots
		rootID := ""
		for next != "" {
			var page driveDeltaPage
			if err := o.getJSON(ctx, next, &page); err != nil {
				return err
			}
			for _, item := range page.Value {
				if item.Root != nil {
					rootID = item.ID
					continue
				}
				if err := o.emit(item, rootID, fn); err != nil {
					return err
				}
			}
			if page.DeltaLink != "" {
				o.deltaLink = page.DeltaLink
			}
			next = page.NextLink
		}
		return nil
	})
}

func (o *OneDrive) emit(item driveItem, rootID string, fn func(ChangeEntry) error) error {
	kind := KindFile
	if item.Folder != nil {
		kind = KindFolder
	}
	if skippable(item.Name, item.Size, kind) {
		return nil
	}
	parentID := item.ParentReference.ID
	if parentID == rootID {
		parentID = ""
	}

	if kind == KindFolder {
		return fn(ChangeEntry{
			Kind:             KindFolder,
			ExternalID:       item.ID,
			ParentExternalID: parentID,
			Name:             item.Name,
		})
	}
	mimeType := "application/octet-stream"
	if item.File != nil && item.File.MimeType != "" {
		mimeType = item.File.MimeType
	}
	return fn(ChangeEntry{
		Kind:             KindFile,
		ExternalID:       item.ID,
		ParentExternalID: parentID,
		Name:             item.Name,
		Checksum:         item.ETag,
		Size:             item.Size,
		MimeType:         mimeType,
	})
}

func (o *OneDrive) FetchContent(ctx context.Context, externalID string) (string, error) {
	var contentPath string
	err := withAuthRetry(ctx, o, func() error {
		endpoint := fmt.Sprintf("%s/users/%s/drive/items/%s/content", o.opts.APIBase, o.opts.User, externalID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+o.accessToken)

		resp, err := o.httpClient.Do(req)
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

		tmp, err := tempFile("brandvault-onedrive-*")
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

func (o *OneDrive) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.accessToken)

	resp, err := o.httpClient.Do(req)
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
