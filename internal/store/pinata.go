package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dmorgan81/promptmint/internal/log"
)

const pinTimeout = 2 * time.Minute

// PinataPersister pins content on IPFS through the Pinata pinning API. The
// image is addressed by its CID through a gateway; the metadata document by
// an ipfs:// URI.
type PinataPersister struct {
	Client     *http.Client
	APIURL     string
	GatewayURL string
	JWT        string
}

func NewPinataPersister(apiURL, gatewayURL, jwt string) *PinataPersister {
	return &PinataPersister{
		Client:     &http.Client{Timeout: pinTimeout},
		APIURL:     strings.TrimRight(apiURL, "/"),
		GatewayURL: strings.TrimRight(gatewayURL, "/"),
		JWT:        jwt,
	}
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

type pinataMetadata struct {
	Name      string            `json:"name"`
	KeyValues map[string]string `json:"keyvalues,omitempty"`
}

func (p *PinataPersister) Persist(ctx context.Context, a Artifact) (Location, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("pinata").With("name", a.Name)

	if len(a.Data) == 0 {
		return Location{}, ErrEmptyPayload
	}

	log.Info("pinning image")
	imageCID, err := p.pinFile(ctx, a)
	if err != nil {
		return Location{}, err
	}
	loc := Location{URL: p.GatewayURL + "/ipfs/" + imageCID}
	log.Info("image pinned", "cid", imageCID)

	doc := NewMetadata(a, "ipfs://"+imageCID)
	metaCID, err := p.pinJSON(ctx, doc, strings.TrimSuffix(a.Name, "."+Extension(a.ContentType))+".json")
	if err != nil {
		return Location{}, err
	}
	loc.MetadataURI = "ipfs://" + metaCID
	log.Info("metadata pinned", "cid", metaCID)

	return loc, nil
}

func (p *PinataPersister) pinFile(ctx context.Context, a Artifact) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", a.Name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(a.Data); err != nil {
		return "", err
	}
	meta, err := json.Marshal(pinataMetadata{
		Name:      a.Name,
		KeyValues: map[string]string{"contentType": a.ContentType},
	})
	if err != nil {
		return "", err
	}
	if err := writer.WriteField("pinataMetadata", string(meta)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	return p.pin(ctx, "/pinning/pinFileToIPFS", writer.FormDataContentType(), &body)
}

func (p *PinataPersister) pinJSON(ctx context.Context, content any, name string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"pinataContent":  content,
		"pinataMetadata": pinataMetadata{Name: name},
	})
	if err != nil {
		return "", err
	}
	return p.pin(ctx, "/pinning/pinJSONToIPFS", "application/json", bytes.NewReader(body))
}

func (p *PinataPersister) pin(ctx context.Context, path, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.APIURL+path, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+p.JWT)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinata %s: %w: %w", path, err, ErrUnavailable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("pinata %s: %w: %w", path, err, ErrUnavailable)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("pinata %s: status %d: %s: %w", path, resp.StatusCode, data, ErrPolicy)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("pinata %s: status %d: %s: %w", path, resp.StatusCode, data, ErrUnavailable)
	}

	var out pinResponse
	if err := json.Unmarshal(data, &out); err != nil || out.IpfsHash == "" {
		return "", fmt.Errorf("pinata %s: no cid in response %s: %w", path, data, ErrUnavailable)
	}
	return out.IpfsHash, nil
}
