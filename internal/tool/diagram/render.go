package diagram

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"taskbench/internal/egress"
)

const inkHost = "mermaid.ink"

// Renderer turns mermaid source into a PNG via the mermaid.ink service.
type Renderer struct {
	baseURL string
	client  *http.Client
}

func NewRenderer() *Renderer {
	return &Renderer{
		baseURL: "https://" + inkHost,
		client:  egress.Client(30*time.Second, inkHost),
	}
}

// RenderPNG fetches the PNG for the given mermaid source. The service takes
// the source base64-encoded in the URL path.
func (r *Renderer) RenderPNG(ctx context.Context, source string) ([]byte, error) {
	encoded := base64.URLEncoding.EncodeToString([]byte(source))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/img/"+encoded, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render service returned %d", resp.StatusCode)
	}
	return body, nil
}
