package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTTPGateway implements Gateway against the practice backend's REST API:
// POST /v1/transcribe (multipart audio), POST /v1/feedback (JSON) and
// POST /v1/voice (JSON, returns an audio URI).
type HTTPGateway struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
}

// NewHTTPGateway builds a gateway with a 60s client; transcription of longer
// clips can take a while.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
	}
}

func (g *HTTPGateway) Transcribe(ctx context.Context, audioRef string) (Transcription, error) {
	f, err := os.Open(audioRef)
	if err != nil {
		return Transcription{}, fmt.Errorf("%w: open artifact: %v", ErrTranscriptionFailed, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filepath.Base(audioRef))
	if err != nil {
		return Transcription{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return Transcription{}, fmt.Errorf("%w: read artifact: %v", ErrTranscriptionFailed, err)
	}
	if err := mw.Close(); err != nil {
		return Transcription{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/transcribe", &body)
	if err != nil {
		return Transcription{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	g.auth(req)

	var tr Transcription
	if err := g.do(req, &tr); err != nil {
		return Transcription{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if strings.TrimSpace(tr.Text) == "" {
		tr.Text = joinSegments(tr.Segments)
	}
	if strings.TrimSpace(tr.Text) == "" {
		// empty text is a failure, not a success with an empty string
		return Transcription{}, fmt.Errorf("%w: service returned no usable text", ErrTranscriptionFailed)
	}
	return tr, nil
}

func (g *HTTPGateway) Evaluate(ctx context.Context, evalReq EvaluationRequest) (Feedback, error) {
	payload, _ := json.Marshal(evalReq)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/feedback", bytes.NewReader(payload))
	if err != nil {
		return Feedback{}, fmt.Errorf("%w: %v", ErrEvaluationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	g.auth(req)

	var fb Feedback
	if err := g.do(req, &fb); err != nil {
		return Feedback{}, fmt.Errorf("%w: %v", ErrEvaluationFailed, err)
	}
	if fb.Verdict != VerdictCorrect && fb.Verdict != VerdictNeedsImprovement {
		return Feedback{}, fmt.Errorf("%w: unknown verdict %q", ErrEvaluationFailed, fb.Verdict)
	}
	return fb, nil
}

func (g *HTTPGateway) Synthesize(ctx context.Context, text string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/voice", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	g.auth(req)

	var out struct {
		AudioURL string `json:"audioUrl"`
	}
	if err := g.do(req, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	if out.AudioURL == "" {
		return "", fmt.Errorf("%w: service returned no audio url", ErrSynthesisFailed)
	}
	return out.AudioURL, nil
}

func (g *HTTPGateway) auth(req *http.Request) {
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}
}

func (g *HTTPGateway) do(req *http.Request, out any) error {
	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %v", err)
	}
	return nil
}

func joinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
