//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

func NewGCS(context.Context, GCSConfig) (Sink, error) {
	return nil, fmt.Errorf("GCS archive is not enabled in this build (use -tags gcp)")
}
