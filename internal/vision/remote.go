package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	defaultEmbeddingURL   = "http://localhost:8000"
	defaultEmbeddingModel = "arcface"
	remoteRequestTimeout  = 60 * time.Second
)

// keypointNames are the five landmarks returned by the embedding server, in order.
var keypointNames = []string{"left_eye", "right_eye", "nose", "mouth_left", "mouth_right"}

// RemoteBackend detects faces and computes face embeddings using the embedding server.
type RemoteBackend struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewRemoteBackend creates a new embedding server client
func NewRemoteBackend(baseURL, model string) *RemoteBackend {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &RemoteBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: remoteRequestTimeout},
	}
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int          `json:"face_index"`
	Dim       int          `json:"dim"`
	Embedding []float32    `json:"embedding"`
	BBox      []float64    `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64      `json:"det_score"`
	Kps       [][2]float64 `json:"kps,omitempty"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
// The part carries an explicit Content-Type header based on magic byte detection.
func (c *RemoteBackend) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}

// ComputeFaceEmbeddings detects faces and computes their embeddings
func (c *RemoteBackend) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &faceResp, nil
}

func (c *RemoteBackend) faces(ctx context.Context, img image.Image) ([]FaceDetection, error) {
	data, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}
	resp, err := c.ComputeFaceEmbeddings(ctx, data)
	if err != nil {
		return nil, err
	}
	return resp.Faces, nil
}

// Detect reports every face the embedding server found in frame.
func (c *RemoteBackend) Detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	faces, err := c.faces(ctx, frame)
	if err != nil {
		return nil, err
	}

	dets := make([]Detection, 0, len(faces))
	for _, f := range faces {
		if len(f.BBox) != 4 {
			return nil, fmt.Errorf("face %d: malformed bbox %v", f.FaceIndex, f.BBox)
		}
		det := Detection{
			Box:        BoxFromCorners(f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3]),
			Confidence: min(max(f.DetScore, 0), 1),
		}
		if len(f.Kps) > 0 {
			det.Keypoints = make(map[string]Point, len(f.Kps))
			for i, kp := range f.Kps {
				name := fmt.Sprintf("point_%d", i)
				if i < len(keypointNames) {
					name = keypointNames[i]
				}
				det.Keypoints[name] = Point{X: kp[0], Y: kp[1]}
			}
		}
		dets = append(dets, det)
	}
	return dets, nil
}

// Embed returns the embedding of the most confident face in the crop.
func (c *RemoteBackend) Embed(ctx context.Context, face image.Image) ([]float32, error) {
	faces, err := c.faces(ctx, face)
	if err != nil {
		return nil, err
	}

	best := -1
	for i := range faces {
		if len(faces[i].Embedding) == 0 {
			continue
		}
		if best < 0 || faces[i].DetScore > faces[best].DetScore {
			best = i
		}
	}
	if best < 0 {
		return nil, ErrNoFace
	}
	return faces[best].Embedding, nil
}

// Model returns the model name being used
func (c *RemoteBackend) Model() string {
	return c.model
}
