package repositories

import "context"

// VisionAnalyzer abstracts the image understanding side-channel: a base64
// encoded image in, a textual analysis out.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, imageBase64 string) (string, error)
}
