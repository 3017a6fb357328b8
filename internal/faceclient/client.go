package faceclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"
)

// DefaultDim is the descriptor length produced in skip mode.
const DefaultDim = 128

// ErrNotInitialized is returned by ExtractDescriptor before Init succeeds.
var ErrNotInitialized = errors.New("face client not initialized")

// EmbedResult contains the face embedding and detection confidence.
type EmbedResult struct {
	Embedding     []float32
	Score         float64
	FacesDetected int
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
	Dim     int

	mu    sync.Mutex
	ready bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool, dim int) *Client {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		Dim:     dim,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Init checks the face service once. Later calls return immediately until
// Close is called.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	if err := c.Health(ctx); err != nil {
		return err
	}
	c.ready = true
	return nil
}

// Close drops idle connections; the next Init checks the service again.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	if c.HTTP != nil {
		c.HTTP.CloseIdleConnections()
	}
	return nil
}

func (c *Client) initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// ExtractDescriptor returns the descriptor of the face in image, or nil when
// the service found no face.
func (c *Client) ExtractDescriptor(ctx context.Context, image []byte) ([]float32, error) {
	res, err := c.Embed(ctx, image)
	if err != nil {
		return nil, err
	}
	if res == nil || res.FacesDetected == 0 || len(res.Embedding) == 0 {
		return nil, nil
	}
	return res.Embedding, nil
}

// Embed uploads image to the service and returns the full result. A nil
// result means no face was detected.
func (c *Client) Embed(ctx context.Context, image []byte) (*EmbedResult, error) {
	if !c.initialized() {
		return nil, ErrNotInitialized
	}
	if c.Skip {
		if len(image) == 0 {
			return nil, nil
		}
		return &EmbedResult{Embedding: SkipDescriptor(image, c.Dim), Score: 1, FacesDetected: 1}, nil
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image required")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("photo", "capture.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Embedding     []float32 `json:"embedding"`
		Score         float64   `json:"score"`
		FacesDetected int       `json:"faces_detected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, nil
	}
	if out.FacesDetected == 0 {
		out.FacesDetected = 1
	}
	return &EmbedResult{
		Embedding:     out.Embedding,
		Score:         out.Score,
		FacesDetected: out.FacesDetected,
	}, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// SkipDescriptor derives a stable pseudo descriptor with values in
// [-0.1, 0.1] from the image bytes. Identical images give identical
// descriptors; distinct images land far apart.
func SkipDescriptor(image []byte, dim int) []float32 {
	seed := sha256.Sum256(image)
	out := make([]float32, dim)
	var block [sha256.Size]byte
	var buf [sha256.Size + 4]byte
	copy(buf[:], seed[:])
	for i := 0; i < dim; i++ {
		if i%8 == 0 {
			binary.BigEndian.PutUint32(buf[sha256.Size:], uint32(i/8))
			block = sha256.Sum256(buf[:])
		}
		v := binary.BigEndian.Uint32(block[(i%8)*4:])
		out[i] = float32(v)/float32(^uint32(0))*0.2 - 0.1
	}
	return out
}
